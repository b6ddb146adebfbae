// Package svc carries the collaborators every lifecycle service needs and
// the unit-of-work helper they share.
package svc

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/mind-engage/mindengage-training/internal/db"
	"github.com/mind-engage/mindengage-training/internal/events"
	"github.com/mind-engage/mindengage-training/internal/metrics"
)

type Deps struct {
	DB        *db.DB
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// WithDefaults fills a nil logger and clock.
func (d Deps) WithDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// Clock returns the current time truncated to the one-second resolution
// timestamps are stored with.
func (d Deps) Clock() time.Time {
	return d.Now().UTC().Truncate(time.Second)
}

// Unit runs fn in one transaction. Events added to the batch are written to
// event_log inside it and published only after a successful commit.
func (d Deps) Unit(ctx context.Context, fn func(tx *sql.Tx, b *events.Batch) error) error {
	var batch *events.Batch
	err := d.DB.WithTx(ctx, func(tx *sql.Tx) error {
		batch = events.NewBatch(tx, d.Now)
		return fn(tx, batch)
	})
	if err != nil {
		return err
	}
	events.Flush(ctx, d.Publisher, d.Logger, batch.Events())
	return nil
}
