package sim

import (
	"encoding/json"
	"os"
	"sync"

	"markovsim/internal/record"
)

// FileWriter writes step rows, and optionally finalized simulations, to
// JSONL files. The steps file can be fed back through ReplayLogFile.
type FileWriter struct {
	mu       sync.Mutex
	stepFile *os.File
	simFile  *os.File
	stepEnc  *json.Encoder
	simEnc   *json.Encoder
}

// NewFileWriter creates a FileWriter. simulationPath may be empty to skip
// the simulations log.
func NewFileWriter(stepPath, simulationPath string) (*FileWriter, error) {
	sf, err := os.Create(stepPath)
	if err != nil {
		return nil, err
	}
	fw := &FileWriter{stepFile: sf, stepEnc: json.NewEncoder(sf)}
	if simulationPath != "" {
		f, err := os.Create(simulationPath)
		if err != nil {
			sf.Close()
			return nil, err
		}
		fw.simFile = f
		fw.simEnc = json.NewEncoder(f)
	}
	return fw, nil
}

// WriteStep logs a single step row.
func (f *FileWriter) WriteStep(row record.StepRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stepEnc.Encode(row)
}

// WriteSimulation logs a finalized simulation, if enabled.
func (f *FileWriter) WriteSimulation(sim record.Simulation) error {
	if f.simEnc == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.simEnc.Encode(sim)
}

// Close closes any underlying files.
func (f *FileWriter) Close() error {
	var err error
	if f.stepFile != nil {
		if e := f.stepFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	if f.simFile != nil {
		if e := f.simFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
