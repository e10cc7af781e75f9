// Package source streams raw Yellowstone Geyser updates into the pipeline.
package source

import (
	"context"
	"errors"
	"time"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"

	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/checkpoint"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/config"
)

// RawEvent is one update as received from the stream, untouched. Slot is the
// position the update belongs to, 0 when the update carries none (pings).
type RawEvent struct {
	Update   *pb.SubscribeUpdate
	Slot     uint64
	Received time.Time
}

// EventSource streams raw events from a live or replayed feed. The event
// channel closes when the source is done; a terminal failure is delivered on
// the error channel first. Sends block when the consumer falls behind, which
// is what pushes backpressure into the network read.
type EventSource interface {
	Events(ctx context.Context) (<-chan RawEvent, <-chan error)
	Close() error
}

var ErrInvalidSourceMode = errors.New("invalid source mode")

// New constructs an event source based on the configured mode. The checkpoint
// store handle is consulted fresh on every (re)connect so resumption always
// reflects the latest durable position.
func New(cfg config.SourceConfig, network string, cps checkpoint.Store) (EventSource, error) {
	switch cfg.Mode {
	case "geyser":
		return NewGeyserSource(cfg, network, cps)
	case "replay":
		return NewReplaySource(cfg.ReplayPath)
	default:
		return nil, ErrInvalidSourceMode
	}
}
