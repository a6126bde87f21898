package sim

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"markovsim/internal/record"
)

// JSONStdoutWriter prints step rows as JSON lines to STDOUT.
type JSONStdoutWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewJSONStdoutWriter creates a JSONStdoutWriter writing to os.Stdout.
func NewJSONStdoutWriter() *JSONStdoutWriter {
	return &JSONStdoutWriter{out: os.Stdout}
}

// WriteStep outputs a step row in JSON format.
func (w *JSONStdoutWriter) WriteStep(row record.StepRow) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.out.Write(append(data, '\n'))
	return err
}
