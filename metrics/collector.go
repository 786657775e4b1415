package metrics

import (
	"context"
	"errors"

	"dreamlines/book"
)

// Collector is a book.Recorder that can also report what it has seen.
type Collector interface {
	book.Recorder
	Snapshot(recent int) Snapshot
}

// Tee returns a Recorder that hands every run to each non-nil recorder in
// order. All recorders run even when one fails; the errors are joined.
func Tee(recorders ...book.Recorder) book.Recorder {
	var live []book.Recorder
	for _, r := range recorders {
		if r != nil {
			live = append(live, r)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	}
	return tee(live)
}

type tee []book.Recorder

func (t tee) RecordRun(ctx context.Context, run book.Run) error {
	var errs []error
	for _, r := range t {
		if err := r.RecordRun(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
