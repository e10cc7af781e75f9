// Command txquery runs read-side queries against the indexed transactions.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/clickhouse"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/config"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/logging"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/query"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("txquery", flag.ExitOnError)
	configPath := global.String("config", "", "path to config file (optional, env vars apply either way)")
	global.Usage = usage
	if err := global.Parse(args); err != nil {
		return err
	}

	rest := global.Args()
	if len(rest) == 0 {
		usage()
		return fmt.Errorf("missing command")
	}
	command, cmdArgs := rest[0], rest[1:]

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Query output goes to stdout; keep the connection logs out of the way.
	logging.Setup(logging.Config{Format: "text", Level: "error"})

	ctx := context.Background()
	db, err := clickhouse.Open(ctx, cfg.ClickHouse)
	if err != nil {
		return fmt.Errorf("open clickhouse: %w", err)
	}
	defer db.Close()

	svc := query.NewService(db.Conn())

	switch command {
	case "count":
		return runCount(ctx, svc, cmdArgs)
	case "success-rate":
		return runSuccessRate(ctx, svc, cmdArgs)
	case "fees":
		return runFees(ctx, svc, cmdArgs)
	case "tps":
		return runTPS(ctx, svc, cmdArgs)
	case "tps-series":
		return runTPSSeries(ctx, svc, cmdArgs)
	case "slots":
		return runSlots(ctx, svc, cmdArgs)
	case "failed":
		return runFailed(ctx, svc, cmdArgs)
	case "recent":
		return runRecent(ctx, svc, cmdArgs)
	case "tx":
		return runTx(ctx, svc, cmdArgs)
	default:
		usage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: txquery [-config path] <command> [options]

Commands:
  count         transaction count            [-period 1h|24h|7d|30d]
  success-rate  fraction of successful txs   [-period]
  fees          fee statistics in lamports   [-period]
  tps           average transactions/second  [-period]
  tps-series    bucketed transaction rate    [-period] [-bucket minute|hour|day|week]
  slots         slot coverage                [-period]
  failed        recent failed transactions   [-period] [-limit N]
  recent        recently ingested txs        [-limit N]
  tx            look up one transaction      <signature>
`)
}

func periodFlag(fs *flag.FlagSet) *string {
	return fs.String("period", "24h", "time period (1h, 24h, 7d, 30d)")
}

func runCount(ctx context.Context, svc *query.Service, args []string) error {
	fs := flag.NewFlagSet("count", flag.ExitOnError)
	period := periodFlag(fs)
	fs.Parse(args)

	p, err := query.ParsePeriod(*period)
	if err != nil {
		return err
	}
	count, err := svc.Count(ctx, p)
	if err != nil {
		return err
	}
	fmt.Printf("Total transactions (%s): %d\n", p.Label, count)
	return nil
}

func runSuccessRate(ctx context.Context, svc *query.Service, args []string) error {
	fs := flag.NewFlagSet("success-rate", flag.ExitOnError)
	period := periodFlag(fs)
	fs.Parse(args)

	p, err := query.ParsePeriod(*period)
	if err != nil {
		return err
	}
	rate, err := svc.SuccessRate(ctx, p)
	if err != nil {
		return err
	}
	fmt.Printf("Success rate (%s): %.2f%%\n", p.Label, rate*100)
	return nil
}

func runFees(ctx context.Context, svc *query.Service, args []string) error {
	fs := flag.NewFlagSet("fees", flag.ExitOnError)
	period := periodFlag(fs)
	fs.Parse(args)

	p, err := query.ParsePeriod(*period)
	if err != nil {
		return err
	}
	stats, err := svc.Fees(ctx, p)
	if err != nil {
		return err
	}
	fmt.Printf("Fees (%s, lamports)\n", p.Label)
	fmt.Printf("  transactions: %d\n", stats.Count)
	fmt.Printf("  min:          %d\n", stats.Min)
	fmt.Printf("  max:          %d\n", stats.Max)
	fmt.Printf("  avg:          %.1f\n", stats.Avg)
	fmt.Printf("  median:       %.1f\n", stats.Median)
	fmt.Printf("  total:        %d\n", stats.Total)
	return nil
}

func runTPS(ctx context.Context, svc *query.Service, args []string) error {
	fs := flag.NewFlagSet("tps", flag.ExitOnError)
	period := periodFlag(fs)
	fs.Parse(args)

	p, err := query.ParsePeriod(*period)
	if err != nil {
		return err
	}
	tps, err := svc.TPS(ctx, p)
	if err != nil {
		return err
	}
	fmt.Printf("TPS (%s): %.4f\n", p.Label, tps)
	return nil
}

func runTPSSeries(ctx context.Context, svc *query.Service, args []string) error {
	fs := flag.NewFlagSet("tps-series", flag.ExitOnError)
	period := periodFlag(fs)
	bucket := fs.String("bucket", "hour", "bucket size (minute, hour, day, week)")
	fs.Parse(args)

	p, err := query.ParsePeriod(*period)
	if err != nil {
		return err
	}
	b, err := query.ParseBucket(*bucket)
	if err != nil {
		return err
	}
	series, err := svc.TPSSeries(ctx, p, b)
	if err != nil {
		return err
	}
	if len(series) == 0 {
		fmt.Println("no data")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Bucket", "Transactions", "TPS"})
	for _, point := range series {
		table.Append([]string{
			point.Bucket.Format(time.RFC3339),
			strconv.FormatUint(point.Count, 10),
			fmt.Sprintf("%.4f", point.TPS),
		})
	}
	table.Render()
	return nil
}

func runSlots(ctx context.Context, svc *query.Service, args []string) error {
	fs := flag.NewFlagSet("slots", flag.ExitOnError)
	period := periodFlag(fs)
	fs.Parse(args)

	p, err := query.ParsePeriod(*period)
	if err != nil {
		return err
	}
	stats, err := svc.Slots(ctx, p)
	if err != nil {
		return err
	}
	fmt.Printf("Slots (%s)\n", p.Label)
	fmt.Printf("  slots seen:   %d\n", stats.Slots)
	fmt.Printf("  slot range:   %d - %d\n", stats.MinSlot, stats.MaxSlot)
	fmt.Printf("  transactions: %d\n", stats.Transactions)
	fmt.Printf("  txs per slot: %.2f\n", stats.PerSlot)
	return nil
}

func runFailed(ctx context.Context, svc *query.Service, args []string) error {
	fs := flag.NewFlagSet("failed", flag.ExitOnError)
	period := periodFlag(fs)
	limit := fs.Uint64("limit", 10, "number of transactions")
	fs.Parse(args)

	p, err := query.ParsePeriod(*period)
	if err != nil {
		return err
	}
	txs, err := svc.Failed(ctx, p, *limit)
	if err != nil {
		return err
	}
	printTransactions(txs)
	return nil
}

func runRecent(ctx context.Context, svc *query.Service, args []string) error {
	fs := flag.NewFlagSet("recent", flag.ExitOnError)
	limit := fs.Uint64("limit", 10, "number of transactions")
	fs.Parse(args)

	txs, err := svc.Recent(ctx, *limit)
	if err != nil {
		return err
	}
	printTransactions(txs)
	return nil
}

func runTx(ctx context.Context, svc *query.Service, args []string) error {
	fs := flag.NewFlagSet("tx", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: txquery tx <signature>")
	}

	tx, err := svc.BySignature(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Printf("signature:     %s\n", tx.Signature)
	fmt.Printf("slot:          %d\n", tx.Slot)
	fmt.Printf("index:         %d\n", tx.Index)
	fmt.Printf("vote:          %t\n", tx.IsVote)
	fmt.Printf("success:       %t\n", tx.Success)
	fmt.Printf("fee:           %d lamports\n", tx.Fee)
	if tx.ComputeUnits != nil {
		fmt.Printf("compute units: %d\n", *tx.ComputeUnits)
	}
	fmt.Printf("timestamp:     %s\n", tx.Timestamp.Format(time.RFC3339))
	return nil
}

func printTransactions(txs []query.Transaction) {
	if len(txs) == 0 {
		fmt.Println("no transactions")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Signature", "Slot", "Index", "Success", "Fee", "Timestamp"})
	for _, tx := range txs {
		table.Append([]string{
			tx.Signature,
			strconv.FormatUint(tx.Slot, 10),
			strconv.FormatUint(tx.Index, 10),
			strconv.FormatBool(tx.Success),
			strconv.FormatUint(tx.Fee, 10),
			tx.Timestamp.Format(time.RFC3339),
		})
	}
	table.Render()
}
