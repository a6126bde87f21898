package sim

import (
	"errors"
	"io"

	"markovsim/internal/record"
)

// StepWriter receives every recorded step as the run progresses.
type StepWriter interface {
	WriteStep(record.StepRow) error
}

// SimulationWriter is implemented by writers that also want the finalized
// simulation once a run completes.
type SimulationWriter interface {
	WriteSimulation(record.Simulation) error
}

// MultiWriter fans steps and simulations out to multiple writers. A failing
// writer does not stop delivery to the others.
type MultiWriter struct {
	writers []StepWriter
}

// NewMultiWriter creates a new MultiWriter. Nil writers are skipped.
func NewMultiWriter(ws ...StepWriter) *MultiWriter {
	mw := &MultiWriter{}
	for _, w := range ws {
		if w != nil {
			mw.writers = append(mw.writers, w)
		}
	}
	return mw
}

// Add appends a writer.
func (mw *MultiWriter) Add(w StepWriter) {
	if w != nil {
		mw.writers = append(mw.writers, w)
	}
}

// Len returns the number of writers.
func (mw *MultiWriter) Len() int { return len(mw.writers) }

// Writers returns the wrapped writers in delivery order.
func (mw *MultiWriter) Writers() []StepWriter {
	return append([]StepWriter(nil), mw.writers...)
}

// WriteStep sends a step row to all writers.
func (mw *MultiWriter) WriteStep(row record.StepRow) error {
	var errs []error
	for _, w := range mw.writers {
		if err := w.WriteStep(row); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteSimulation sends the finalized simulation to writers that accept it.
func (mw *MultiWriter) WriteSimulation(sim record.Simulation) error {
	var errs []error
	for _, w := range mw.writers {
		if sw, ok := w.(SimulationWriter); ok {
			if err := sw.WriteSimulation(sim); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close closes every writer that implements io.Closer.
func (mw *MultiWriter) Close() error {
	var errs []error
	for _, w := range mw.writers {
		if c, ok := w.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
