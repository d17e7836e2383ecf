package hub

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/tide/pkg/tide/core/config"
)

// NewFromConfig creates the Hub and disconnects its viewers on stop.
func NewFromConfig(lc fx.Lifecycle, cfg *config.Config) *Hub {
	pc := cfg.Tide.Publisher
	h := New(Options{
		Name:       pc.Hub,
		Method:     pc.Method,
		BufferSize: pc.BufferSize,
		TokenTTL:   time.Duration(pc.AccessTokenTTLSeconds) * time.Second,
		PublicURL:  pc.PublicURL,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			h.Close()
			return nil
		},
	})
	return h
}

// Module provides the Hub.
var Module = fx.Provide(NewFromConfig)
