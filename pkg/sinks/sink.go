// Package sinks publishes engine updates to external systems.
package sinks

import (
	"context"
	"errors"

	"github.com/web3ekko/ekko-pulse/pkg/common"
)

// Sink receives every update the engine emits. Implementations must not
// retain the update beyond the call.
type Sink interface {
	PublishUpdate(ctx context.Context, u common.Update) error
	Close() error
}

// Multi fans an update out to several sinks and joins their errors.
type Multi []Sink

var _ Sink = Multi(nil)

// PublishUpdate publishes to every sink, even if an earlier one fails.
func (m Multi) PublishUpdate(ctx context.Context, u common.Update) error {
	var errs []error
	for _, s := range m {
		if err := s.PublishUpdate(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
