package sim

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"markovsim/internal/record"
)

// ReplayLog decodes recorded step rows from r and hands each to writer in
// file order. Before each row it waits for the gap between that row's
// Step.Timestamp and the previous one, divided by speed, so speed 2 plays a
// run back twice as fast as it was recorded. A speed of zero or less
// delivers every row immediately.
func ReplayLog(r io.Reader, writer StepWriter, speed float64) error {
	dec := json.NewDecoder(r)
	var last time.Time
	for {
		var row record.StepRow
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if wait := stepGap(last, row.Step.Timestamp, speed); wait > 0 {
			time.Sleep(wait)
		}
		if err := writer.WriteStep(row); err != nil {
			return err
		}
		last = row.Step.Timestamp
	}
}

// stepGap is the scaled delay between two recorded steps. It is negative
// when next precedes last.
func stepGap(last, next time.Time, speed float64) time.Duration {
	if last.IsZero() || speed <= 0 {
		return 0
	}
	return time.Duration(float64(next.Sub(last)) / speed)
}

// ReplayLogFile replays the JSONL step log at path. See ReplayLog.
func ReplayLogFile(path string, writer StepWriter, speed float64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return ReplayLog(f, writer, speed)
}
