package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/logging"
)

// Capture lines hold whole transactions, so allow frames as large as the
// gRPC receive limit.
const maxCaptureLine = 64 * 1024 * 1024

// ReplaySource feeds a recorded capture file through the pipeline. Useful for
// backfill from a capture and for exercising the full pipeline offline.
type ReplaySource struct {
	path string
	log  *slog.Logger
}

// NewReplaySource creates a replay source over a capture file.
func NewReplaySource(path string) (*ReplaySource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("invalid replay path %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("replay path %s is a directory", path)
	}

	return &ReplaySource{
		path: path,
		log:  logging.Component("replay"),
	}, nil
}

// Events streams the capture file in recorded order. The event channel closes
// at end of file; a read or parse failure is terminal.
func (r *ReplaySource) Events(ctx context.Context) (<-chan RawEvent, <-chan error) {
	out := make(chan RawEvent)
	errs := make(chan error, 1)
	go r.run(ctx, out, errs)
	return out, errs
}

func (r *ReplaySource) Close() error { return nil }

func (r *ReplaySource) run(ctx context.Context, out chan<- RawEvent, errs chan<- error) {
	defer close(errs)
	defer close(out)

	file, err := os.Open(r.path)
	if err != nil {
		errs <- fmt.Errorf("open capture file: %w", err)
		return
	}
	defer file.Close()

	zr, err := zstd.NewReader(file, zstd.WithDecoderConcurrency(1))
	if err != nil {
		errs <- fmt.Errorf("create zstd reader: %w", err)
		return
	}
	defer zr.Close()

	scanner := bufio.NewScanner(zr)
	scanner.Buffer(make([]byte, 0, 1024*1024), maxCaptureLine)

	count := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		update := &pb.SubscribeUpdate{}
		if err := protojson.Unmarshal(line, update); err != nil {
			errs <- fmt.Errorf("parse capture line %d: %w", count+1, err)
			return
		}

		ev := RawEvent{Update: update, Received: time.Now().UTC()}
		switch u := update.UpdateOneof.(type) {
		case *pb.SubscribeUpdate_Transaction:
			ev.Slot = u.Transaction.GetSlot()
		case *pb.SubscribeUpdate_Slot:
			ev.Slot = u.Slot.GetSlot()
		case *pb.SubscribeUpdate_Ping:
			continue
		}

		select {
		case out <- ev:
			count++
		case <-ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil {
		errs <- fmt.Errorf("read capture file: %w", err)
		return
	}

	r.log.Info("replay complete", "path", r.path, "events", count)
}
