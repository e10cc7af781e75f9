package source

import (
	"context"
	"path/filepath"
	"testing"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
)

func txUpdate(slot uint64, index uint64) *pb.SubscribeUpdate {
	return &pb.SubscribeUpdate{
		UpdateOneof: &pb.SubscribeUpdate_Transaction{
			Transaction: &pb.SubscribeUpdateTransaction{
				Slot: slot,
				Transaction: &pb.SubscribeUpdateTransactionInfo{
					Signature: make([]byte, 64),
					Index:     index,
				},
			},
		},
	}
}

func slotUpdate(slot uint64) *pb.SubscribeUpdate {
	return &pb.SubscribeUpdate{
		UpdateOneof: &pb.SubscribeUpdate_Slot{
			Slot: &pb.SubscribeUpdateSlot{Slot: slot},
		},
	}
}

func TestCaptureReplayRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl.zst")

	writer, err := NewCaptureWriter(path)
	if err != nil {
		t.Fatalf("NewCaptureWriter failed: %v", err)
	}
	updates := []*pb.SubscribeUpdate{
		txUpdate(100, 0),
		txUpdate(100, 1),
		slotUpdate(100),
		txUpdate(101, 0),
	}
	for _, u := range updates {
		if err := writer.Write(u); err != nil {
			t.Fatalf("capture write failed: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("capture close failed: %v", err)
	}

	replay, err := NewReplaySource(path)
	if err != nil {
		t.Fatalf("NewReplaySource failed: %v", err)
	}

	events, errs := replay.Events(context.Background())

	var got []RawEvent
	for ev := range events {
		got = append(got, ev)
	}
	if err := <-errs; err != nil {
		t.Fatalf("replay failed: %v", err)
	}

	if len(got) != len(updates) {
		t.Fatalf("expected %d events, got %d", len(updates), len(got))
	}
	if got[0].Slot != 100 || got[3].Slot != 101 {
		t.Errorf("unexpected slots: first=%d last=%d", got[0].Slot, got[3].Slot)
	}
	if got[2].Update.GetSlot() == nil {
		t.Error("third event should be a slot update")
	}
	if got[1].Update.GetTransaction().GetTransaction().GetIndex() != 1 {
		t.Error("second event lost its transaction index")
	}
}

func TestCaptureAppendAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl.zst")

	for i := 0; i < 2; i++ {
		writer, err := NewCaptureWriter(path)
		if err != nil {
			t.Fatalf("NewCaptureWriter failed: %v", err)
		}
		if err := writer.Write(txUpdate(uint64(200+i), 0)); err != nil {
			t.Fatalf("capture write failed: %v", err)
		}
		if err := writer.Close(); err != nil {
			t.Fatalf("capture close failed: %v", err)
		}
	}

	replay, err := NewReplaySource(path)
	if err != nil {
		t.Fatalf("NewReplaySource failed: %v", err)
	}

	events, errs := replay.Events(context.Background())
	count := 0
	for range events {
		count++
	}
	if err := <-errs; err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 events across concatenated frames, got %d", count)
	}
}

func TestReplayCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl.zst")

	writer, err := NewCaptureWriter(path)
	if err != nil {
		t.Fatalf("NewCaptureWriter failed: %v", err)
	}
	for i := 0; i < 100; i++ {
		if err := writer.Write(txUpdate(uint64(i), 0)); err != nil {
			t.Fatalf("capture write failed: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("capture close failed: %v", err)
	}

	replay, err := NewReplaySource(path)
	if err != nil {
		t.Fatalf("NewReplaySource failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	events, errs := replay.Events(ctx)

	<-events
	cancel()

	// The source must wind down without delivering a terminal error.
	for range events {
	}
	if err := <-errs; err != nil {
		t.Errorf("cancellation should not surface an error, got %v", err)
	}
}

func TestNewReplaySourceMissingFile(t *testing.T) {
	if _, err := NewReplaySource(filepath.Join(t.TempDir(), "absent.zst")); err == nil {
		t.Error("expected error for missing capture file")
	}
}
