package decode

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
)

func testKey(fill byte) []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = fill
	}
	return key
}

func testSignature() []byte {
	sig := make([]byte, 64)
	for i := range sig {
		sig[i] = byte(i + 1)
	}
	return sig
}

func validUpdate() *pb.SubscribeUpdate {
	cuc := uint64(150000)
	return &pb.SubscribeUpdate{
		UpdateOneof: &pb.SubscribeUpdate_Transaction{
			Transaction: &pb.SubscribeUpdateTransaction{
				Slot: 348999123,
				Transaction: &pb.SubscribeUpdateTransactionInfo{
					Signature: testSignature(),
					IsVote:    false,
					Index:     7,
					Transaction: &pb.Transaction{
						Message: &pb.Message{
							AccountKeys: [][]byte{testKey(1), testKey(2)},
							Instructions: []*pb.CompiledInstruction{
								{
									ProgramIdIndex: 1,
									Accounts:       []byte{0},
									Data:           []byte("swap"),
								},
							},
						},
					},
					Meta: &pb.TransactionStatusMeta{
						Fee:                  5000,
						ComputeUnitsConsumed: &cuc,
						PreBalances:          []uint64{1000000, 2000000},
						PostBalances:         []uint64{994000, 2001000},
						LogMessages:          []string{"Program log: swapped"},
					},
				},
			},
		},
	}
}

func TestTransactionDecode(t *testing.T) {
	received := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	rec, err := Transaction(validUpdate(), received)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	wantSig := solana.SignatureFromBytes(testSignature()).String()
	if rec.Signature != wantSig {
		t.Errorf("signature = %s, want %s", rec.Signature, wantSig)
	}
	if rec.Slot != 348999123 {
		t.Errorf("slot = %d, want 348999123", rec.Slot)
	}
	if rec.Index != 7 {
		t.Errorf("index = %d, want 7", rec.Index)
	}
	if !rec.Success {
		t.Error("expected success for nil meta err")
	}
	if rec.Fee != 5000 {
		t.Errorf("fee = %d, want 5000", rec.Fee)
	}
	if rec.ComputeUnitsConsumed == nil || *rec.ComputeUnitsConsumed != 150000 {
		t.Errorf("compute units = %v, want 150000", rec.ComputeUnitsConsumed)
	}
	if len(rec.PreBalances) != 2 || rec.PreBalances[0] != 1000000 {
		t.Errorf("unexpected pre balances %v", rec.PreBalances)
	}
	if len(rec.LogMessages) != 1 {
		t.Errorf("expected 1 log message, got %d", len(rec.LogMessages))
	}
	if len(rec.AccountKeys) != 2 {
		t.Fatalf("expected 2 account keys, got %d", len(rec.AccountKeys))
	}
	if rec.AccountKeys[0] != solana.PublicKeyFromBytes(testKey(1)).String() {
		t.Errorf("account key 0 = %s", rec.AccountKeys[0])
	}
	if !rec.Timestamp.Equal(received) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp, received)
	}

	if len(rec.Instructions) != 1 {
		t.Fatalf("expected 1 instruction, got %d", len(rec.Instructions))
	}
	inst := rec.Instructions[0]
	if inst.ProgramID != solana.PublicKeyFromBytes(testKey(2)).String() {
		t.Errorf("program id = %s", inst.ProgramID)
	}
	if len(inst.Accounts) != 1 || inst.Accounts[0] != rec.AccountKeys[0] {
		t.Errorf("unexpected instruction accounts %v", inst.Accounts)
	}
	if inst.Data != base64.StdEncoding.EncodeToString([]byte("swap")) {
		t.Errorf("instruction data = %s", inst.Data)
	}
}

func TestTransactionFailedTx(t *testing.T) {
	update := validUpdate()
	update.GetTransaction().GetTransaction().GetMeta().Err = &pb.TransactionError{Err: []byte{1}}

	rec, err := Transaction(update, time.Now())
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if rec.Success {
		t.Error("expected success=false for non-nil meta err")
	}
}

func TestTransactionVoteFlag(t *testing.T) {
	update := validUpdate()
	update.GetTransaction().GetTransaction().IsVote = true

	rec, err := Transaction(update, time.Now())
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if !rec.IsVote {
		t.Error("expected vote flag to survive decode")
	}
}

func TestTransactionLoadedAddresses(t *testing.T) {
	update := validUpdate()
	info := update.GetTransaction().GetTransaction()
	info.Meta.LoadedWritableAddresses = [][]byte{testKey(9)}
	// Program index 2 lands in the loaded-address extension of the table.
	info.Transaction.Message.Instructions[0].ProgramIdIndex = 2

	rec, err := Transaction(update, time.Now())
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if rec.Instructions[0].ProgramID != solana.PublicKeyFromBytes(testKey(9)).String() {
		t.Errorf("program id should resolve through loaded addresses, got %s", rec.Instructions[0].ProgramID)
	}
	// The account_keys column keeps only the static message keys.
	if len(rec.AccountKeys) != 2 {
		t.Errorf("expected 2 static account keys, got %d", len(rec.AccountKeys))
	}
}

func TestTransactionMalformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*pb.SubscribeUpdate)
		reason string
	}{
		{
			name: "slot update",
			mutate: func(u *pb.SubscribeUpdate) {
				u.UpdateOneof = &pb.SubscribeUpdate_Slot{Slot: &pb.SubscribeUpdateSlot{Slot: 1}}
			},
			reason: "not_transaction",
		},
		{
			name: "missing info",
			mutate: func(u *pb.SubscribeUpdate) {
				u.GetTransaction().Transaction = nil
			},
			reason: "missing_info",
		},
		{
			name: "short signature",
			mutate: func(u *pb.SubscribeUpdate) {
				u.GetTransaction().GetTransaction().Signature = []byte{1, 2, 3}
			},
			reason: "bad_signature",
		},
		{
			name: "missing meta",
			mutate: func(u *pb.SubscribeUpdate) {
				u.GetTransaction().GetTransaction().Meta = nil
			},
			reason: "missing_meta",
		},
		{
			name: "missing message",
			mutate: func(u *pb.SubscribeUpdate) {
				u.GetTransaction().GetTransaction().Transaction = nil
			},
			reason: "missing_message",
		},
		{
			name: "program index out of range",
			mutate: func(u *pb.SubscribeUpdate) {
				u.GetTransaction().GetTransaction().Transaction.Message.Instructions[0].ProgramIdIndex = 99
			},
			reason: "bad_instruction_index",
		},
		{
			name: "account index out of range",
			mutate: func(u *pb.SubscribeUpdate) {
				u.GetTransaction().GetTransaction().Transaction.Message.Instructions[0].Accounts = []byte{99}
			},
			reason: "bad_instruction_index",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			update := validUpdate()
			tt.mutate(update)

			_, err := Transaction(update, time.Now())
			if err == nil {
				t.Fatal("expected decode error")
			}

			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected *DecodeError, got %T", err)
			}
			if de.Reason != tt.reason {
				t.Errorf("reason = %s, want %s", de.Reason, tt.reason)
			}
		})
	}
}
