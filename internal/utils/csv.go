package utils

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"hookTrader/internal/domain"
)

var exitHeader = []string{
	"id", "profile", "symbol", "side", "kind", "generation",
	"entry_time", "exit_time", "entry_price", "exit_price", "quantity",
	"leverage", "pnl", "capital_before", "capital_after",
}

// WriteExitsToCSV writes exits to filename, replacing any existing file.
func WriteExitsToCSV(exits []*domain.ExitRecord, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := WriteExits(file, exits); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WriteExits writes a header row followed by one row per exit.
// Decimals are written exactly as stored.
func WriteExits(w io.Writer, exits []*domain.ExitRecord) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(exitHeader); err != nil {
		return err
	}

	for _, e := range exits {
		entryTime := ""
		if !e.EntryTime.IsZero() {
			entryTime = e.EntryTime.UTC().Format(time.RFC3339)
		}
		if err := writer.Write([]string{
			strconv.FormatInt(e.ID, 10),
			e.Profile,
			e.Symbol,
			string(e.Side),
			string(e.Kind),
			strconv.FormatUint(e.Generation, 10),
			entryTime,
			e.ExitTime.UTC().Format(time.RFC3339),
			e.EntryPrice.String(),
			e.ExitPrice.String(),
			e.Quantity.String(),
			strconv.Itoa(e.Leverage),
			e.PnL.String(),
			e.CapitalBefore.String(),
			e.CapitalAfter.String(),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
