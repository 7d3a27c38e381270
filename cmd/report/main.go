package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"yield-ledger/internal/config"
	"yield-ledger/internal/reporting"
	"yield-ledger/internal/storage"
	chstore "yield-ledger/internal/storage/clickhouse"
	pgstore "yield-ledger/internal/storage/postgres"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML config file (token list and DSNs)")
	outputDir := flag.String("output-dir", "docs", "Output directory for generated files")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (overrides stores.postgres_dsn)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (overrides stores.clickhouse_dsn)")
	fromBlock := flag.Uint64("from-block", 0, "First block of the report period")
	toBlock := flag.Uint64("to-block", 0, "Last block of the report period (default: last scanned block)")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *postgresDSN != "" {
		cfg.Stores.PostgresDSN = *postgresDSN
	}
	if *clickhouseDSN != "" {
		cfg.Stores.ClickHouseDSN = *clickhouseDSN
	}

	// Validate flags
	if cfg.Stores.PostgresDSN == "" {
		fmt.Fprintln(os.Stderr, "Error: --postgres-dsn (or stores.postgres_dsn) is required")
		os.Exit(1)
	}
	tokens := cfg.TokenAddresses()
	if len(tokens) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no tokens configured; set chain.tokens in --config")
		os.Exit(1)
	}

	pool, err := pgstore.NewPool(ctx, cfg.Stores.PostgresDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to postgres: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Price history is optional; without it the period columns stay empty
	var history storage.PriceHistoryStore
	if cfg.Stores.ClickHouseDSN != "" {
		conn, err := chstore.NewConn(ctx, cfg.Stores.ClickHouseDSN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to clickhouse: %v\n", err)
			os.Exit(1)
		}
		defer conn.Close()
		history = chstore.NewPriceHistoryStore(conn)
	}

	report, err := reporting.NewGenerator(pgstore.NewStore(pool), history).Generate(ctx, tokens, *fromBlock, *toBlock)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating report: %v\n", err)
		os.Exit(1)
	}

	csvOut, err := reporting.RenderCSV(report)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error rendering csv: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output dir: %v\n", err)
		os.Exit(1)
	}
	files := map[string]string{
		"LEDGER_REPORT.md":  reporting.RenderMarkdown(report),
		"TOKEN_SUMMARY.csv": csvOut,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(*outputDir, name), []byte(content), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", name, err)
			os.Exit(1)
		}
	}

	fmt.Println("Ledger report generated successfully:")
	fmt.Printf("  - %s/LEDGER_REPORT.md\n", *outputDir)
	fmt.Printf("  - %s/TOKEN_SUMMARY.csv\n", *outputDir)
}
