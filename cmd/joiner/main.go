// Command joiner bulk-links two CSV datasets: every row of the left file is
// fuzzily matched against the right file and accepted pairs are expanded
// into a flat join written as CSV.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nyffc/contractor-linkage/internal/audit"
	"github.com/nyffc/contractor-linkage/internal/linkage/join"
	"github.com/nyffc/contractor-linkage/internal/linkage/matcher"
	"github.com/nyffc/contractor-linkage/internal/linkage/similarity"
	"github.com/nyffc/contractor-linkage/internal/linkage/table"
	"github.com/nyffc/contractor-linkage/pkg/config"
	"github.com/nyffc/contractor-linkage/pkg/kafka"
	"github.com/nyffc/contractor-linkage/pkg/logger"
)

func main() {
	var (
		leftPath     = flag.String("left", "", "left (query) CSV file")
		rightPath    = flag.String("right", "", "right (reference) CSV file")
		leftNames    = flag.String("left-names", "signatory_name", "comma-separated left name columns")
		leftAddr     = flag.String("left-addr", "signatory_address", "left address column")
		rightNames   = flag.String("right-names", "company_name", "comma-separated right name columns")
		rightAddr    = flag.String("right-addr", "zip_cd", "right address column")
		how          = flag.String("how", "inner", "join kind: inner or left")
		threshold    = flag.Int("threshold", matcher.DefaultThreshold, "per-dimension acceptance floor [0,100]")
		avgThreshold = flag.Int("avg-threshold", matcher.DefaultAvgThreshold, "combined-score acceptance floor [0,100]")
		blocking     = flag.String("blocking", "none", "candidate blocking: none, address, or name_prefix")
		workers      = flag.Int("workers", 0, "worker pool size (0 = one per core)")
		outPath      = flag.String("o", "", "output CSV file (default stdout)")
		auditBrokers = flag.String("audit-brokers", "", "comma-separated Kafka brokers for the join audit event (disabled when empty)")
		auditTopic   = flag.String("audit-topic", "match-audit", "Kafka topic for the join audit event")
		logLevel     = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()
	logger.Setup(*logLevel, "text")

	if *leftPath == "" || *rightPath == "" {
		fmt.Fprintln(os.Stderr, "usage: joiner -left left.csv -right right.csv [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	left, err := table.ReadCSVFile(*leftPath)
	if err != nil {
		fail("reading left table: %v", err)
	}
	right, err := table.ReadCSVFile(*rightPath)
	if err != nil {
		fail("reading right table: %v", err)
	}

	rs, err := matcher.NewReferenceSet("right", right, splitCols(*rightNames), *rightAddr, similarity.PartialRatio{})
	if err != nil {
		fail("building reference set: %v", err)
	}

	spec := join.Spec{
		Kind: join.Kind(*how),
		Opts: matcher.Options{
			Threshold:    *threshold,
			AvgThreshold: *avgThreshold,
			Blocking:     matcher.Blocking(*blocking),
		},
		LeftNameCols: splitCols(*leftNames),
		LeftAddrCol:  *leftAddr,
		Workers:      *workers,
	}

	start := time.Now()
	out, err := join.Join(ctx, left, rs, spec)
	if err != nil {
		fail("joining: %v", err)
	}
	elapsed := time.Since(start)
	slog.Info("join complete",
		"left_rows", left.NumRows(),
		"right_rows", right.NumRows(),
		"output_rows", out.NumRows(),
		"elapsed", elapsed.Round(time.Millisecond),
	)

	if *auditBrokers != "" {
		producer := kafka.NewProducer(config.KafkaConfig{Brokers: splitCols(*auditBrokers)}, *auditTopic)
		event := audit.NewJoinEvent(audit.JoinEventOptions{
			Reference:    *rightPath,
			Threshold:    *threshold,
			AvgThreshold: *avgThreshold,
			OutputRows:   out.NumRows(),
			Elapsed:      elapsed,
		})
		if err := producer.Publish(ctx, kafka.Event{Key: string(audit.EventJoin), Value: event}); err != nil {
			slog.Warn("join audit event not published", "error", err)
		}
		if err := producer.Close(); err != nil {
			slog.Warn("closing audit producer", "error", err)
		}
	}

	w := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			fail("creating output file: %v", err)
		}
		defer f.Close()
		w = f
	}
	if err := out.WriteCSV(w); err != nil {
		fail("writing output: %v", err)
	}
}

func splitCols(s string) []string {
	parts := strings.Split(s, ",")
	cols := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cols = append(cols, p)
		}
	}
	return cols
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
