// Package queue holds what the queue transports share: the redelivery policy
// and the Dispatcher that drains a port.Source with a pool of workers.
package queue

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tigerroll/tide/pkg/tide/core/config"
)

// ErrStaleReceipt is returned by Ack and Nack when the delivery's lease was
// lost, typically because its visibility timeout expired and the message was
// handed to another worker.
var ErrStaleReceipt = errors.New("delivery receipt is stale")

// Policy governs leases and redelivery of failed messages.
type Policy struct {
	// MaxDequeueCount is the number of deliveries after which a failed
	// message moves to the poison destination.
	MaxDequeueCount int
	// VisibilityTimeout is how long a received message stays invisible.
	VisibilityTimeout time.Duration
	// PollInterval bounds how long Receive sleeps between scans.
	PollInterval time.Duration

	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// PolicyFromConfig builds a Policy from the queue section.
func PolicyFromConfig(cfg config.QueueConfig) Policy {
	return Policy{
		MaxDequeueCount:     cfg.MaxDequeueCount,
		VisibilityTimeout:   time.Duration(cfg.VisibilityTimeoutSeconds) * time.Second,
		PollInterval:        time.Duration(cfg.PollIntervalMillis) * time.Millisecond,
		InitialInterval:     time.Duration(cfg.Backoff.InitialIntervalMillis) * time.Millisecond,
		MaxInterval:         time.Duration(cfg.Backoff.MaxIntervalMillis) * time.Millisecond,
		Multiplier:          cfg.Backoff.Multiplier,
		RandomizationFactor: cfg.Backoff.RandomizationFactor,
	}
}

// NewBackOff returns a fresh exponential backoff for one message. Zero
// fields keep the library defaults.
func (p Policy) NewBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	if p.RandomizationFactor >= 0 {
		b.RandomizationFactor = p.RandomizationFactor
	}
	b.Reset()
	return b
}

// Exhausted reports whether a message delivered dequeueCount times must be poisoned.
func (p Policy) Exhausted(dequeueCount int) bool {
	return p.MaxDequeueCount > 0 && dequeueCount >= p.MaxDequeueCount
}
