package publisher

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/tide/pkg/tide/core/application/port"
	"github.com/tigerroll/tide/pkg/tide/core/domain/model"
)

// MultiPublisher publishes to every sink and reports all failures together.
type MultiPublisher struct {
	sinks []port.StatusPublisher
}

// NewMultiPublisher skips nil sinks.
func NewMultiPublisher(sinks ...port.StatusPublisher) *MultiPublisher {
	m := &MultiPublisher{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiPublisher) Publish(ctx context.Context, rec *model.StatusRecord) error {
	var result *multierror.Error
	for _, s := range m.sinks {
		if err := s.Publish(ctx, rec); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

var _ port.StatusPublisher = (*MultiPublisher)(nil)
