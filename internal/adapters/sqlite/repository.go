package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"hookTrader/internal/domain"
	"hookTrader/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Journal implements ports.ExitJournal using SQLite.
// Decimals are stored as TEXT so values read back exactly as written.
type Journal struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite journal.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewJournal opens (or creates) the journal database.
func NewJournal(cfg Config) (*Journal, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite journal")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/hooktrader.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite journal initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite journal initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite journal initialization failed")
		return nil, err
	}

	// One writer; monitors and the coordinator append concurrently.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	j := &Journal{db: db, logger: cfg.Logger}
	if err := j.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite journal initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite exit journal ready", map[string]interface{}{"path": dbPath})

	return j, nil
}

func (j *Journal) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS exits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		profile TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		kind TEXT NOT NULL,
		generation INTEGER NOT NULL,
		entry_price TEXT NOT NULL,
		exit_price TEXT NOT NULL,
		quantity TEXT NOT NULL,
		leverage INTEGER NOT NULL,
		pnl TEXT NOT NULL,
		capital_before TEXT NOT NULL,
		capital_after TEXT NOT NULL,
		entry_time TIMESTAMP NULL,
		exit_time TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_exits_profile_symbol_time ON exits (profile, symbol, exit_time);
	`
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db != nil {
		j.logger.Info(context.Background(), "Closing SQLite database connection")
		return j.db.Close()
	}
	return nil
}

// RecordExit appends an applied exit and returns its assigned ID.
func (j *Journal) RecordExit(ctx context.Context, rec *domain.ExitRecord) (int64, error) {
	const query = `
	INSERT INTO exits (profile, symbol, side, kind, generation, entry_price, exit_price, quantity,
	                   leverage, pnl, capital_before, capital_after, entry_time, exit_time)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var entryTime sql.NullTime
	if !rec.EntryTime.IsZero() {
		entryTime = sql.NullTime{Time: rec.EntryTime.UTC(), Valid: true}
	}

	result, err := j.db.ExecContext(ctx, query,
		rec.Profile, rec.Symbol, string(rec.Side), string(rec.Kind), int64(rec.Generation),
		rec.EntryPrice.String(), rec.ExitPrice.String(), rec.Quantity.String(),
		rec.Leverage, rec.PnL.String(), rec.CapitalBefore.String(), rec.CapitalAfter.String(),
		entryTime, rec.ExitTime.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert exit for %s/%s: %w: %w", rec.Profile, rec.Symbol, ports.ErrQueryFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for exit %s/%s: %w", rec.Profile, rec.Symbol, err)
	}
	j.logger.Debug(ctx, "Exit journaled", map[string]interface{}{"exitID": id, "profile": rec.Profile, "symbol": rec.Symbol, "kind": rec.Kind})
	return id, nil
}

// FindByKey retrieves the most recent exits of a profile, newest first.
// An empty symbol matches every symbol; a non-positive limit returns all.
func (j *Journal) FindByKey(ctx context.Context, profile, symbol string, limit int) ([]*domain.ExitRecord, error) {
	const query = `
	SELECT id, profile, symbol, side, kind, generation, entry_price, exit_price, quantity,
	       leverage, pnl, capital_before, capital_after, entry_time, exit_time
	FROM exits
	WHERE profile = ? AND (? = '' OR symbol = ?)
	ORDER BY exit_time DESC, id DESC LIMIT ?`

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := j.db.QueryContext(ctx, query, profile, symbol, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query exits for %s/%s: %w: %w", profile, symbol, ports.ErrQueryFailed, err)
	}
	defer rows.Close()
	return scanExits(rows)
}

// FindAll retrieves every exit ordered by exit time ascending.
func (j *Journal) FindAll(ctx context.Context) ([]*domain.ExitRecord, error) {
	const query = `
	SELECT id, profile, symbol, side, kind, generation, entry_price, exit_price, quantity,
	       leverage, pnl, capital_before, capital_after, entry_time, exit_time
	FROM exits
	ORDER BY exit_time ASC, id ASC`

	rows, err := j.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query all exits: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()
	return scanExits(rows)
}

func scanExits(rows *sql.Rows) ([]*domain.ExitRecord, error) {
	exits := make([]*domain.ExitRecord, 0)
	for rows.Next() {
		rec, err := scanExit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exit: %w", err)
		}
		exits = append(exits, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exit rows: %w", err)
	}
	return exits, nil
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanExit scans a row into a domain.ExitRecord.
func scanExit(s scanner) (*domain.ExitRecord, error) {
	rec := &domain.ExitRecord{}
	var side, kind string
	var generation int64
	var entryPrice, exitPrice, qty, pnl, capBefore, capAfter string
	var entryTime sql.NullTime
	err := s.Scan(
		&rec.ID, &rec.Profile, &rec.Symbol, &side, &kind, &generation,
		&entryPrice, &exitPrice, &qty, &rec.Leverage, &pnl, &capBefore, &capAfter,
		&entryTime, &rec.ExitTime)
	if err != nil {
		return nil, err
	}
	rec.Side = domain.PositionSide(side)
	rec.Kind = domain.ExitKind(kind)
	rec.Generation = uint64(generation)
	if entryTime.Valid {
		rec.EntryTime = entryTime.Time
	}

	for _, f := range []struct {
		dst *decimal.Decimal
		raw string
	}{
		{&rec.EntryPrice, entryPrice},
		{&rec.ExitPrice, exitPrice},
		{&rec.Quantity, qty},
		{&rec.PnL, pnl},
		{&rec.CapitalBefore, capBefore},
		{&rec.CapitalAfter, capAfter},
	} {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return nil, fmt.Errorf("exit %d: bad decimal %q: %w", rec.ID, f.raw, err)
		}
		*f.dst = v
	}
	return rec, nil
}
