package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"hookTrader/internal/adapters/logger"
	"hookTrader/internal/adapters/sqlite"
	"hookTrader/internal/analytics"
	"hookTrader/internal/domain"
	"hookTrader/internal/utils"
)

// export_exits dumps the exit journal to CSV.
//
//	go run ./cmd/export_exits -profile default -symbol ETHUSDT -out data/exits.csv
func main() {
	_ = godotenv.Load()

	dbPath := flag.String("db", os.Getenv("DB_PATH"), "path to the sqlite exit journal")
	profile := flag.String("profile", "", "profile to export (empty exports every profile)")
	symbol := flag.String("symbol", "", "symbol to export (needs -profile)")
	limit := flag.Int("limit", 0, "newest N exits of the profile (0 for all)")
	initial := flag.Float64("initial", 0, "starting balance for analytics (0 uses the first exit's capital)")
	out := flag.String("out", "", "output file (default data/exits_<date>.csv)")
	flag.Parse()

	if *dbPath == "" {
		log.Fatalf("FATAL: no journal path, set -db or DB_PATH")
	}
	if *symbol != "" && *profile == "" {
		log.Fatalf("FATAL: -symbol requires -profile")
	}

	// 1. Initialize Logger
	appLogger, err := logger.NewZapLogger(logger.LevelInfo, "console")
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()
	ctx := context.Background()

	// 2. Open Journal
	journal, err := sqlite.NewJournal(sqlite.Config{DBPath: *dbPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to open journal: %v", err)
	}
	defer journal.Close()

	// 3. Load Exits
	var exits []*domain.ExitRecord
	if *profile == "" {
		exits, err = journal.FindAll(ctx)
	} else {
		exits, err = journal.FindByKey(ctx, *profile, *symbol, *limit)
		// FindByKey is newest first; CSV rows read oldest first.
		for i, j := 0, len(exits)-1; i < j; i, j = i+1, j-1 {
			exits[i], exits[j] = exits[j], exits[i]
		}
	}
	if err != nil {
		appLogger.Error(ctx, err, "Error loading exits")
		log.Fatalf("Error loading exits: %v", err)
	}
	appLogger.Info(ctx, "Loaded exits", map[string]interface{}{"count": len(exits), "profile": *profile, "symbol": *symbol})

	// 4. Summarize
	m := analytics.AnalyzeExits(exits, *initial)
	fmt.Printf("exits=%d wins=%d losses=%d winRate=%.2f%% profitFactor=%.2f maxDrawdown=%.2f%% roi=%.2f%% expectancy=%.3f%%\n",
		m.TotalExits, m.WinningExits, m.LosingExits, m.WinRate*100, m.ProfitFactor, m.MaxDrawdown*100, m.ReturnOnInvestment*100, m.Expectancy)

	// 5. Write CSV
	filename := *out
	if filename == "" {
		filename = fmt.Sprintf("data/exits_%s.csv", time.Now().Format("20060102"))
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		log.Fatalf("Error creating output directory: %v", err)
	}
	if err := utils.WriteExitsToCSV(exits, filename); err != nil {
		appLogger.Error(ctx, err, "Error writing CSV")
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(ctx, "Saved to", map[string]interface{}{"filename": filename})
}
