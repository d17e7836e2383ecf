// Package port declares the collaborators the engine talks to. Infrastructure
// packages implement them; the engine only sees these interfaces.
package port

import (
	"context"
	"time"

	"github.com/tigerroll/tide/pkg/tide/core/domain/model"
)

// StatusPublisher pushes a full status snapshot to connected viewers.
// Implementations must not block the caller on viewer I/O.
type StatusPublisher interface {
	Publish(ctx context.Context, rec *model.StatusRecord) error
}

// WorkSimulator performs one synthetic unit of work proportional to intensity.
type WorkSimulator interface {
	Run(intensity int)
}

// WorkflowStarter starts a sub-workflow with opaque application data and
// returns its correlation id without waiting for it to finish.
type WorkflowStarter interface {
	Start(ctx context.Context, data string) (string, error)
}

// Delivery is one physical delivery of a queue message.
type Delivery struct {
	// ID is stable across redeliveries of the same message.
	ID           string
	Body         []byte
	DequeueCount int
	InsertedAt   time.Time
	// Receipt identifies this lease. Ack and Nack with a stale receipt are rejected.
	Receipt string
}

// Source is a queue the dispatcher drains.
type Source interface {
	// Receive blocks until a delivery is available or ctx is done.
	Receive(ctx context.Context) (*Delivery, error)
	// Ack removes the message.
	Ack(ctx context.Context, d *Delivery) error
	// Nack makes the message visible again after the source's backoff, or
	// moves it to the poison destination once attempts are exhausted.
	Nack(ctx context.Context, d *Delivery, cause error) error
}

// Enqueuer accepts new messages and returns their delivery identity when known.
type Enqueuer interface {
	Enqueue(ctx context.Context, body []byte) (string, error)
}

// Handler processes one delivery. A nil error acknowledges it.
type Handler interface {
	Handle(ctx context.Context, d *Delivery) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, d *Delivery) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, d *Delivery) error {
	return f(ctx, d)
}

// ObjectWriter stores a blob under a key. Used to archive terminal snapshots.
type ObjectWriter interface {
	Write(ctx context.Context, key string, data []byte) error
}
