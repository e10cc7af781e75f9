// Package pipeline wires the stages together:
//
//	source → decode workers → ordering window → batch writer
//
// Queues between stages are bounded, so a slow writer applies backpressure
// through the decode stage all the way to the network read. Shutdown runs
// outward-in: the source stops first, every queue drains, and the window
// contents get one final write before the run returns.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"

	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/clickhouse"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/config"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/decode"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/logging"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/metrics"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/source"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/window"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/writer"
)

// Build metadata, set via ldflags at release time.
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// item is one unit flowing from the decode stage to the sequencer: a
// normalized transaction or a slot status mark.
type item struct {
	rec  *decode.Record
	mark *clickhouse.SlotMark
}

// Pipeline coordinates the stages and owns the queues between them.
type Pipeline struct {
	cfg     *config.Config
	network string
	workers int
	src     source.EventSource
	window  *window.Window
	writer  *writer.Writer
	log     *slog.Logger

	rawQueue     chan source.RawEvent
	decodedQueue chan item
	decodeWg     sync.WaitGroup

	lastDuplicates uint64
	recordsOut     uint64
	rateCount      uint64
	rateAt         time.Time
}

// New creates a pipeline over the given stages.
func New(cfg *config.Config, src source.EventSource, win *window.Window, wr *writer.Writer) *Pipeline {
	workers := cfg.Pipeline.DecodeWorkers
	if workers < 1 {
		workers = 1
	}
	rawSize := cfg.Pipeline.RawQueueSize
	if rawSize < 1 {
		rawSize = workers * 2
	}
	decodedSize := cfg.Pipeline.DecodedQueueSize
	if decodedSize < 1 {
		decodedSize = workers * 2
	}

	return &Pipeline{
		cfg:          cfg,
		network:      cfg.Network,
		workers:      workers,
		src:          src,
		window:       win,
		writer:       wr,
		log:          logging.Component("pipeline"),
		rawQueue:     make(chan source.RawEvent, rawSize),
		decodedQueue: make(chan item, decodedSize),
	}
}

// Run consumes the source until it ends or fails, or until ctx is
// cancelled. Either way the stages drain and buffered records are flushed
// before Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	// The source gets its own context so that outer cancellation stops the
	// intake first while everything downstream keeps draining.
	srcCtx, stopSource := context.WithCancel(context.Background())
	defer stopSource()

	// abort unblocks stage handoffs when the sequencer dies; the normal
	// path never closes it.
	abort := make(chan struct{})
	var abortOnce sync.Once
	fail := func() {
		abortOnce.Do(func() {
			stopSource()
			close(abort)
		})
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.log.Info("shutdown requested, stopping source")
			stopSource()
		case <-done:
		}
	}()

	events, srcErrs := p.src.Events(srcCtx)

	var intakeWg sync.WaitGroup
	intakeWg.Add(1)
	go func() {
		defer intakeWg.Done()
		defer close(p.rawQueue)
		for ev := range events {
			select {
			case p.rawQueue <- ev:
				if m := metrics.Get(); m != nil {
					m.SetRawQueueDepth(float64(len(p.rawQueue)))
				}
			case <-abort:
				return
			}
		}
	}()

	for i := 0; i < p.workers; i++ {
		p.decodeWg.Add(1)
		go p.decodeLoop(i, abort)
	}
	go func() {
		p.decodeWg.Wait()
		close(p.decodedQueue)
	}()

	p.log.Info("pipeline running",
		"decode_workers", p.workers,
		"raw_queue", cap(p.rawQueue),
		"decoded_queue", cap(p.decodedQueue),
	)

	seqErr := p.sequence()
	if seqErr != nil {
		fail()
	}

	intakeWg.Wait()
	p.decodeWg.Wait()

	var srcErr error
	for err := range srcErrs {
		if err != nil {
			srcErr = err
		}
	}

	if err := p.src.Close(); err != nil {
		p.log.Warn("source close failed", "error", err)
	}

	if seqErr != nil {
		return seqErr
	}
	return srcErr
}

// decodeLoop drains the raw queue. A record that cannot decode is counted
// and dropped; it never stops the stream.
func (p *Pipeline) decodeLoop(workerID int, abort <-chan struct{}) {
	defer p.decodeWg.Done()
	log := logging.WorkerLogger(workerID)

	for ev := range p.rawQueue {
		it, ok := p.decodeEvent(log, ev)
		if !ok {
			continue
		}
		select {
		case p.decodedQueue <- it:
			if m := metrics.Get(); m != nil {
				m.SetDecodedQueueDepth(float64(len(p.decodedQueue)))
			}
		case <-abort:
			return
		}
	}
}

func (p *Pipeline) decodeEvent(log *slog.Logger, ev source.RawEvent) (item, bool) {
	switch u := ev.Update.GetUpdateOneof().(type) {
	case *pb.SubscribeUpdate_Transaction:
		rec, err := decode.Transaction(ev.Update, ev.Received)
		if err != nil {
			reason := "unknown"
			var derr *decode.DecodeError
			if errors.As(err, &derr) {
				reason = derr.Reason
			}
			log.Warn("dropping undecodable update", "slot", ev.Slot, "reason", reason, "error", err)
			if m := metrics.Get(); m != nil {
				m.IncDecodeFailures(metrics.Labels{Network: p.network, Reason: reason})
			}
			return item{}, false
		}
		return item{rec: rec}, true

	case *pb.SubscribeUpdate_Slot:
		return item{mark: &clickhouse.SlotMark{
			Slot:      u.Slot.GetSlot(),
			Status:    slotStatus(u.Slot.GetStatus()),
			UpdatedAt: ev.Received,
		}}, true

	default:
		return item{}, false
	}
}

// sequence is the single-threaded stage that owns the window and the
// writer. Write paths run on a background context: a shutdown signal must
// not abort a retry mid-batch, and the retry budgets bound the delay.
func (p *Pipeline) sequence() error {
	ctx := context.Background()

	windowTick := time.NewTicker(time.Duration(p.cfg.Window.FlushIntervalMs) * time.Millisecond)
	defer windowTick.Stop()
	writerTick := time.NewTicker(time.Duration(p.cfg.Writer.FlushIntervalMs) * time.Millisecond)
	defer writerTick.Stop()
	p.rateAt = time.Now()

	for {
		select {
		case it, ok := <-p.decodedQueue:
			if !ok {
				return p.drainFinal(ctx)
			}
			if err := p.handleItem(ctx, it); err != nil {
				return err
			}

		case <-windowTick.C:
			if err := p.releaseDue(ctx); err != nil {
				return err
			}

		case <-writerTick.C:
			p.observeRate()
			if err := p.writer.Flush(ctx); err != nil {
				return err
			}
		}
	}
}

func (p *Pipeline) handleItem(ctx context.Context, it item) error {
	switch {
	case it.rec != nil:
		p.window.Add(it.rec)
		if released := p.window.Overflow(); len(released) > 0 {
			return p.release(ctx, released)
		}
	case it.mark != nil:
		p.window.ObserveSlot(it.mark.Slot)
		p.writer.AddSlots(*it.mark)
	}
	return nil
}

func (p *Pipeline) releaseDue(ctx context.Context) error {
	released := p.window.Due()
	if len(released) == 0 {
		return nil
	}
	return p.release(ctx, released)
}

func (p *Pipeline) release(ctx context.Context, released []*decode.Record) error {
	p.noteDuplicates()
	p.recordsOut += uint64(len(released))
	return p.writer.Add(ctx, released)
}

// drainFinal flushes everything still buffered once the stream has ended.
func (p *Pipeline) drainFinal(ctx context.Context) error {
	released := p.window.FlushAll()
	p.log.Info("stream ended, flushing buffers", "window_records", len(released), "pending", p.writer.Pending())
	if len(released) > 0 {
		if err := p.release(ctx, released); err != nil {
			return err
		}
	}
	return p.writer.Flush(ctx)
}

// noteDuplicates forwards the window's duplicate count delta to the writer
// for the next audit row.
func (p *Pipeline) noteDuplicates() {
	total := p.window.Duplicates()
	if total > p.lastDuplicates {
		p.writer.NoteDuplicates(total - p.lastDuplicates)
		p.lastDuplicates = total
	}
}

func (p *Pipeline) observeRate() {
	now := time.Now()
	elapsed := now.Sub(p.rateAt).Seconds()
	if elapsed > 0 {
		if m := metrics.Get(); m != nil {
			m.SetTransactionsPerSecond(float64(p.recordsOut-p.rateCount) / elapsed)
		}
	}
	p.rateAt = now
	p.rateCount = p.recordsOut
}

// slotStatus normalizes the proto enum name ("SLOT_CONFIRMED") to the
// status column value ("confirmed").
func slotStatus(s pb.SlotStatus) string {
	return strings.ToLower(strings.TrimPrefix(s.String(), "SLOT_"))
}
