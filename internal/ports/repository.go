package ports

import (
	"context"

	"hookTrader/internal/domain"
)

// ExitJournal is an append-only archive of applied exits.
// Live state is never rebuilt from it.
type ExitJournal interface {
	// RecordExit saves an applied exit and returns its assigned ID.
	RecordExit(ctx context.Context, rec *domain.ExitRecord) (int64, error)
	// FindByKey retrieves the most recent exits for a profile and symbol, up to a limit.
	// An empty symbol matches every symbol of the profile.
	FindByKey(ctx context.Context, profile, symbol string, limit int) ([]*domain.ExitRecord, error)
	// FindAll retrieves all exits ordered by exit time ascending.
	FindAll(ctx context.Context) ([]*domain.ExitRecord, error)
}

// SnapshotPublisher pushes state snapshots to live viewers.
type SnapshotPublisher interface {
	Publish(msg interface{})
}
