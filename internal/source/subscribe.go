package source

import (
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"

	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/config"
)

// buildSubscribeRequest assembles the geyser subscription from config. The
// transaction filter carries the program allow-list; vote and failed
// transactions are excluded unless configured in. A slot feed rides along at
// the same commitment so the window watermark advances even when no matching
// transactions land.
func buildSubscribeRequest(cfg config.SourceConfig, fromSlot uint64) *pb.SubscribeRequest {
	txFilter := &pb.SubscribeRequestFilterTransactions{
		AccountInclude: cfg.Programs,
	}
	if !cfg.IncludeVotes {
		txFilter.Vote = boolPtr(false)
	}
	if !cfg.IncludeFailed {
		txFilter.Failed = boolPtr(false)
	}

	req := &pb.SubscribeRequest{
		Transactions: map[string]*pb.SubscribeRequestFilterTransactions{
			"transactions": txFilter,
		},
		Slots: map[string]*pb.SubscribeRequestFilterSlots{
			"slots": {FilterByCommitment: boolPtr(true)},
		},
		Commitment: commitmentLevel(cfg.Commitment).Enum(),
	}

	if fromSlot > 0 {
		req.FromSlot = &fromSlot
	}

	return req
}

func commitmentLevel(s string) pb.CommitmentLevel {
	switch s {
	case "processed":
		return pb.CommitmentLevel_PROCESSED
	case "finalized":
		return pb.CommitmentLevel_FINALIZED
	default:
		return pb.CommitmentLevel_CONFIRMED
	}
}

func boolPtr(b bool) *bool { return &b }
