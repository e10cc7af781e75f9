// Package window buffers decoded records in a bounded slot-keyed window,
// deduplicates by signature, and releases records in slot order once the
// stream watermark moves past them.
package window

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/config"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/decode"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/logging"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/metrics"
)

// Window holds records until their slot falls span slots behind the
// watermark. Within the window, duplicate signatures are dropped; once a
// record is released its signature is forgotten and long-range duplicates are
// left to the storage engine's replacing key. A record is never discarded for
// any reason other than being a duplicate.
type Window struct {
	mu sync.Mutex

	span     uint64
	capacity int
	network  string
	log      *slog.Logger

	slots     map[uint64][]*decode.Record
	seen      map[string]struct{}
	count     int
	watermark uint64
	lowWater  uint64 // slots below this have been released

	duplicates uint64
}

// New creates a window with the configured span and capacity.
func New(cfg config.WindowConfig, network string) *Window {
	return &Window{
		span:     cfg.SpanSlots,
		capacity: cfg.Capacity,
		network:  network,
		log:      logging.Component("window"),
		slots:    make(map[uint64][]*decode.Record),
		seen:     make(map[string]struct{}),
	}
}

// Add inserts a record. It returns true when the record was dropped as a
// duplicate of a signature already held in the window. A record whose slot
// was already released is accepted anyway and goes out with the next flush;
// late data beats lost data, and storage converges on the replacing key.
func (w *Window) Add(rec *decode.Record) (duplicate bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[rec.Signature]; ok {
		w.duplicates++
		if m := metrics.Get(); m != nil {
			m.IncDuplicatesDropped(metrics.Labels{Network: w.network})
		}
		return true
	}

	w.seen[rec.Signature] = struct{}{}
	w.slots[rec.Slot] = append(w.slots[rec.Slot], rec)
	w.count++
	if rec.Slot > w.watermark {
		w.watermark = rec.Slot
	}
	w.updateGauge()
	return false
}

// ObserveSlot advances the watermark from the slot feed. Slot events arrive
// even when no transaction matches the filters, so release is not starved on
// a quiet program set.
func (w *Window) ObserveSlot(slot uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if slot > w.watermark {
		w.watermark = slot
	}
}

// Due releases every slot at least span slots behind the watermark, plus any
// late records below the release floor, in slot order.
func (w *Window) Due() []*decode.Record {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watermark < w.span {
		return w.releaseLocked(0, "age")
	}
	cutoff := w.watermark - w.span
	return w.releaseLocked(cutoff, "age")
}

// Overflow force-releases the oldest slots until occupancy is back under
// capacity. It returns nil while the window has room. Overflow is recorded
// as a flush reason, not an error: nothing is lost, the window just gave up
// some reorder tolerance.
func (w *Window) Overflow() []*decode.Record {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.count <= w.capacity {
		return nil
	}

	keys := w.sortedSlotsLocked()
	var released []*decode.Record
	for _, slot := range keys {
		if w.count <= w.capacity {
			break
		}
		released = append(released, w.popSlotLocked(slot)...)
	}

	if len(released) > 0 {
		w.log.Warn("window over capacity, forced early flush",
			"released", len(released),
			"capacity", w.capacity,
		)
		if m := metrics.Get(); m != nil {
			m.IncWindowFlushes(metrics.Labels{Network: w.network, Reason: "capacity"})
		}
		w.updateGauge()
	}
	return released
}

// FlushAll drains the whole window in slot order. Used at shutdown so an
// in-flight window is written rather than replayed on the next start.
func (w *Window) FlushAll() []*decode.Record {
	w.mu.Lock()
	defer w.mu.Unlock()

	released := w.releaseAllLocked()
	if len(released) > 0 {
		if m := metrics.Get(); m != nil {
			m.IncWindowFlushes(metrics.Labels{Network: w.network, Reason: "shutdown"})
		}
		w.updateGauge()
	}
	return released
}

// Len reports the number of records currently held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Watermark reports the highest slot observed.
func (w *Window) Watermark() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watermark
}

// Duplicates reports the total number of duplicates dropped.
func (w *Window) Duplicates() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.duplicates
}

// releaseLocked pops every slot <= cutoff, sorted. Callers hold w.mu.
func (w *Window) releaseLocked(cutoff uint64, reason string) []*decode.Record {
	var released []*decode.Record
	for _, slot := range w.sortedSlotsLocked() {
		if slot > cutoff {
			break
		}
		released = append(released, w.popSlotLocked(slot)...)
	}

	if cutoff >= w.lowWater {
		w.lowWater = cutoff + 1
	}

	if len(released) > 0 {
		if m := metrics.Get(); m != nil {
			m.IncWindowFlushes(metrics.Labels{Network: w.network, Reason: reason})
		}
		w.updateGauge()
	}
	return released
}

func (w *Window) releaseAllLocked() []*decode.Record {
	var released []*decode.Record
	for _, slot := range w.sortedSlotsLocked() {
		released = append(released, w.popSlotLocked(slot)...)
	}
	if w.watermark >= w.lowWater {
		w.lowWater = w.watermark + 1
	}
	return released
}

// popSlotLocked removes one slot bucket, ordered by transaction index, and
// retires its signatures from the dedup set.
func (w *Window) popSlotLocked(slot uint64) []*decode.Record {
	bucket := w.slots[slot]
	delete(w.slots, slot)

	sort.Slice(bucket, func(i, j int) bool { return bucket[i].Index < bucket[j].Index })
	for _, rec := range bucket {
		delete(w.seen, rec.Signature)
	}
	w.count -= len(bucket)
	return bucket
}

func (w *Window) sortedSlotsLocked() []uint64 {
	keys := make([]uint64, 0, len(w.slots))
	for slot := range w.slots {
		keys = append(keys, slot)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (w *Window) updateGauge() {
	if m := metrics.Get(); m != nil {
		m.SetWindowRecords(float64(w.count))
	}
}
