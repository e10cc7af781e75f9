package source

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"

	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/checkpoint"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/config"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/logging"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/metrics"
)

// State is the consumer lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateBackingOff
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateBackingOff:
		return "backing_off"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// ErrRetriesExhausted is returned when the reconnect budget runs out.
var ErrRetriesExhausted = errors.New("stream retry budget exhausted")

// GeyserSource consumes a Yellowstone Geyser subscription. Connection faults
// are absorbed by reconnecting with backoff; each reconnect re-reads the
// checkpoint store, so resumption always starts at the latest durable slot.
type GeyserSource struct {
	cfg     config.SourceConfig
	network string
	cps     checkpoint.Store
	capture *CaptureWriter
	log     *slog.Logger

	state atomic.Int32
}

// NewGeyserSource creates a geyser-backed event source.
func NewGeyserSource(cfg config.SourceConfig, network string, cps checkpoint.Store) (*GeyserSource, error) {
	if cps == nil {
		return nil, errors.New("checkpoint store is required")
	}

	g := &GeyserSource{
		cfg:     cfg,
		network: network,
		cps:     cps,
		log:     logging.Component("source"),
	}

	if cfg.CapturePath != "" {
		capture, err := NewCaptureWriter(cfg.CapturePath)
		if err != nil {
			return nil, fmt.Errorf("open capture file: %w", err)
		}
		g.capture = capture
	}

	g.state.Store(int32(StateIdle))
	return g, nil
}

// Events starts the consume loop. The returned event channel closes when the
// loop exits; a terminal failure is delivered on the error channel first.
func (g *GeyserSource) Events(ctx context.Context) (<-chan RawEvent, <-chan error) {
	out := make(chan RawEvent)
	errs := make(chan error, 1)
	go g.run(ctx, out, errs)
	return out, errs
}

// State returns the current lifecycle state.
func (g *GeyserSource) State() State {
	return State(g.state.Load())
}

// Close flushes the capture file if one is open. Connection teardown is
// context-driven; each connect attempt owns its connection.
func (g *GeyserSource) Close() error {
	if g.capture != nil {
		return g.capture.Close()
	}
	return nil
}

func (g *GeyserSource) run(ctx context.Context, out chan<- RawEvent, errs chan<- error) {
	defer close(errs)
	defer close(out)

	initial := time.Duration(g.cfg.InitialBackoffMs) * time.Millisecond
	max := time.Duration(g.cfg.MaxBackoffMs) * time.Millisecond

	attempt := 0
	for {
		if ctx.Err() != nil {
			g.setState(StateIdle)
			return
		}

		g.setState(StateConnecting)
		streamed, err := g.streamOnce(ctx, out)
		if err == nil {
			// Clean shutdown.
			g.setState(StateIdle)
			return
		}

		if streamed {
			// The connection made progress before breaking; the budget is
			// for consecutive dead attempts, not lifetime disconnects.
			attempt = 0
		}
		attempt++

		if g.cfg.MaxAttempts > 0 && attempt >= g.cfg.MaxAttempts {
			g.setState(StateTerminal)
			errs <- fmt.Errorf("%w: %d consecutive failures, last: %v", ErrRetriesExhausted, attempt, err)
			return
		}

		delay := backoffDelay(initial, max, attempt)
		g.log.Warn("stream disconnected, backing off",
			"error", err,
			"attempt", attempt,
			"backoff", delay.String(),
		)
		if m := metrics.Get(); m != nil {
			m.IncReconnects(metrics.Labels{Network: g.network})
		}

		g.setState(StateBackingOff)
		select {
		case <-ctx.Done():
			g.setState(StateIdle)
			return
		case <-time.After(delay):
		}
	}
}

// streamOnce runs a single connect-subscribe-receive cycle. It returns a nil
// error only on context cancellation; streamed reports whether any update
// arrived before the stream broke.
func (g *GeyserSource) streamOnce(ctx context.Context, out chan<- RawEvent) (streamed bool, err error) {
	conn, err := g.dial()
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", g.cfg.Endpoint, err)
	}
	defer conn.Close()

	client := pb.NewGeyserClient(conn)

	callCtx := ctx
	if g.cfg.Token != "" {
		callCtx = metadata.AppendToOutgoingContext(ctx, "x-token", g.cfg.Token)
	}

	stream, err := client.Subscribe(callCtx)
	if err != nil {
		return false, fmt.Errorf("open subscribe stream: %w", err)
	}

	fromSlot := g.resumeSlot(ctx)
	if err := stream.Send(buildSubscribeRequest(g.cfg, fromSlot)); err != nil {
		return false, fmt.Errorf("send subscribe request: %w", err)
	}

	g.setState(StateStreaming)
	g.log.Info("subscribed",
		"endpoint", g.cfg.Endpoint,
		"from_slot", fromSlot,
		"programs", len(g.cfg.Programs),
		"commitment", g.cfg.Commitment,
	)

	for {
		update, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return streamed, nil
			}
			if errors.Is(err, io.EOF) {
				return streamed, fmt.Errorf("stream closed by server: %w", err)
			}
			return streamed, fmt.Errorf("stream recv: %w", err)
		}
		streamed = true

		ev := RawEvent{Update: update, Received: time.Now().UTC()}
		kind := "unknown"
		switch u := update.UpdateOneof.(type) {
		case *pb.SubscribeUpdate_Transaction:
			ev.Slot = u.Transaction.GetSlot()
			kind = "transaction"
		case *pb.SubscribeUpdate_Slot:
			ev.Slot = u.Slot.GetSlot()
			kind = "slot"
		case *pb.SubscribeUpdate_Ping:
			// Liveness probe. Answer it and keep it off the pipeline.
			if m := metrics.Get(); m != nil {
				m.IncEventsReceived(metrics.Labels{Network: g.network, Kind: "ping"})
			}
			pong := &pb.SubscribeRequest{Ping: &pb.SubscribeRequestPing{Id: 1}}
			if err := stream.Send(pong); err != nil {
				return streamed, fmt.Errorf("send pong: %w", err)
			}
			continue
		}

		if m := metrics.Get(); m != nil {
			m.IncEventsReceived(metrics.Labels{Network: g.network, Kind: kind})
		}

		if g.capture != nil {
			if err := g.capture.Write(update); err != nil {
				g.log.Warn("capture write failed", "error", err)
			}
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return streamed, nil
		}
	}
}

// resumeSlot computes the subscription start for this connect attempt.
func (g *GeyserSource) resumeSlot(ctx context.Context) uint64 {
	cp, err := g.cps.Load(ctx)
	if err != nil {
		if !errors.Is(err, checkpoint.ErrNoCheckpoint) {
			g.log.Warn("checkpoint load failed, using configured start", "error", err)
		}
		return g.cfg.FromSlot
	}
	return checkpoint.ResumeSlot(cp, g.cfg.FromSlot)
}

func (g *GeyserSource) dial() (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(g.cfg.MaxRecvMsgSizeMB * 1024 * 1024)),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             20 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	if g.cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})))
	}

	return grpc.Dial(g.cfg.Endpoint, opts...)
}

func (g *GeyserSource) setState(s State) {
	old := State(g.state.Swap(int32(s)))
	if old == s {
		return
	}
	g.log.Debug("consumer state change", "from", old.String(), "to", s.String())
	if m := metrics.Get(); m != nil {
		m.SetStreamState(float64(s))
	}
}

// backoffDelay doubles the initial delay per consecutive failure, capped at
// max, with up to 10% jitter so restarted consumers do not reconnect in
// lockstep.
func backoffDelay(initial, max time.Duration, attempt int) time.Duration {
	d := initial
	for i := 1; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d + time.Duration(rand.Int63n(int64(d)/10+1))
}
