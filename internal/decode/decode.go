// Package decode normalizes raw geyser updates into storage-ready records.
// Decoding is stateless and safe to parallelize; a malformed update yields a
// *DecodeError describing that one record, never a pipeline failure.
package decode

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
)

// Record is one normalized transaction, shaped for the transactions table.
// Lamport amounts stay integral end to end.
type Record struct {
	Signature            string
	Slot                 uint64
	IsVote               bool
	Index                uint64
	Success              bool
	Fee                  uint64
	ComputeUnitsConsumed *uint64
	PreBalances          []uint64
	PostBalances         []uint64
	LogMessages          []string
	AccountKeys          []string
	Instructions         []Instruction
	Timestamp            time.Time // ingest receive time
}

// Instruction is a compiled instruction with its indexes resolved to
// addresses. The JSON shape is what lands in the instructions column.
type Instruction struct {
	ProgramID string   `json:"program_id"`
	Accounts  []string `json:"accounts"`
	Data      string   `json:"data"` // base64
}

// DecodeError describes a single undecodable update. Reason is a short
// stable classifier suitable as a metric label.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("decode %s", e.Reason)
	}
	return fmt.Sprintf("decode %s: %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(reason, format string, args ...any) *DecodeError {
	return &DecodeError{Reason: reason, Err: fmt.Errorf(format, args...)}
}

const signatureLen = 64

// Transaction normalizes one transaction update. received becomes the record
// timestamp; the zero value falls back to the current time.
func Transaction(update *pb.SubscribeUpdate, received time.Time) (*Record, error) {
	txUpdate := update.GetTransaction()
	if txUpdate == nil {
		return nil, decodeErr("not_transaction", "update carries no transaction")
	}

	info := txUpdate.GetTransaction()
	if info == nil {
		return nil, decodeErr("missing_info", "transaction update has no transaction info")
	}
	if len(info.Signature) != signatureLen {
		return nil, decodeErr("bad_signature", "signature is %d bytes, want %d", len(info.Signature), signatureLen)
	}

	meta := info.GetMeta()
	if meta == nil {
		return nil, decodeErr("missing_meta", "transaction %s has no meta", solana.SignatureFromBytes(info.Signature))
	}

	msg := info.GetTransaction().GetMessage()
	if msg == nil {
		return nil, decodeErr("missing_message", "transaction %s has no message", solana.SignatureFromBytes(info.Signature))
	}

	// Static message keys land in the account_keys column; lookup-table
	// addresses extend the resolution table for instruction indexes.
	accountKeys := make([]string, 0, len(msg.AccountKeys))
	for _, key := range msg.AccountKeys {
		accountKeys = append(accountKeys, solana.PublicKeyFromBytes(key).String())
	}

	table := accountKeys
	if n := len(meta.LoadedWritableAddresses) + len(meta.LoadedReadonlyAddresses); n > 0 {
		table = make([]string, 0, len(accountKeys)+n)
		table = append(table, accountKeys...)
		for _, addr := range meta.LoadedWritableAddresses {
			table = append(table, solana.PublicKeyFromBytes(addr).String())
		}
		for _, addr := range meta.LoadedReadonlyAddresses {
			table = append(table, solana.PublicKeyFromBytes(addr).String())
		}
	}

	instructions, err := resolveInstructions(msg.Instructions, table)
	if err != nil {
		return nil, err
	}

	if received.IsZero() {
		received = time.Now().UTC()
	}

	return &Record{
		Signature:            solana.SignatureFromBytes(info.Signature).String(),
		Slot:                 txUpdate.GetSlot(),
		IsVote:               info.GetIsVote(),
		Index:                info.GetIndex(),
		Success:              meta.GetErr() == nil,
		Fee:                  meta.GetFee(),
		ComputeUnitsConsumed: meta.ComputeUnitsConsumed,
		PreBalances:          meta.GetPreBalances(),
		PostBalances:         meta.GetPostBalances(),
		LogMessages:          meta.GetLogMessages(),
		AccountKeys:          accountKeys,
		Instructions:         instructions,
		Timestamp:            received,
	}, nil
}

// resolveInstructions maps compiled index references through the account
// table. An out-of-range index condemns only this record.
func resolveInstructions(compiled []*pb.CompiledInstruction, table []string) ([]Instruction, error) {
	instructions := make([]Instruction, 0, len(compiled))
	for i, inst := range compiled {
		programIdx := int(inst.GetProgramIdIndex())
		if programIdx >= len(table) {
			return nil, decodeErr("bad_instruction_index",
				"instruction %d: program index %d outside account table of %d", i, programIdx, len(table))
		}

		accounts := make([]string, 0, len(inst.Accounts))
		for _, idx := range inst.Accounts {
			if int(idx) >= len(table) {
				return nil, decodeErr("bad_instruction_index",
					"instruction %d: account index %d outside account table of %d", i, idx, len(table))
			}
			accounts = append(accounts, table[idx])
		}

		instructions = append(instructions, Instruction{
			ProgramID: table[programIdx],
			Accounts:  accounts,
			Data:      base64.StdEncoding.EncodeToString(inst.Data),
		})
	}
	return instructions, nil
}
