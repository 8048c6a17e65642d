// Package sink delivers decode outcomes to the operator: console rendering
// and the raw plaintext dump stream.
package sink

import (
	"errors"

	"github.com/cab2cab/c2cdump/internal/core"
)

// Sink consumes outcomes in capture order. Errors are surfaced to the
// operator by the pipeline but never stop live capture.
type Sink interface {
	Consume(o *core.Outcome) error
	Close() error
}

// Multi fans an outcome out to several sinks, preserving order. Every sink
// sees every outcome even when an earlier one fails.
type Multi []Sink

func (m Multi) Consume(o *core.Outcome) error {
	var errs []error
	for _, s := range m {
		if err := s.Consume(o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
