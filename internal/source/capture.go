package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"google.golang.org/protobuf/encoding/protojson"
)

// CaptureWriter appends subscribe updates to a zstd-compressed JSONL file
// that ReplaySource can feed back through the pipeline.
type CaptureWriter struct {
	mu   sync.Mutex
	file *os.File
	zw   *zstd.Encoder
}

// NewCaptureWriter opens (or creates) a capture file for appending.
func NewCaptureWriter(path string) (*CaptureWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create capture directory: %w", err)
	}

	// Append mode: a restarted indexer extends the capture. zstd frames
	// concatenate, so the decoder reads the whole file transparently.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open capture file %s: %w", path, err)
	}

	zw, err := zstd.NewWriter(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}

	return &CaptureWriter{file: file, zw: zw}, nil
}

// Write appends one update as a JSON line.
func (w *CaptureWriter) Write(update *pb.SubscribeUpdate) error {
	data, err := protojson.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.zw.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write capture line: %w", err)
	}
	return nil
}

// Close flushes the compressed stream and closes the file.
func (w *CaptureWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.zw.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close zstd writer: %w", err)
	}
	return w.file.Close()
}
