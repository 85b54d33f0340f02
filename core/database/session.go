package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"log/slog"

	"github.com/m3rciful/botcore/core/errs"
	"github.com/m3rciful/botcore/core/logger"
)

// Session is a transactional handle scoped to the processing of one update.
// Exactly one of Commit or Rollback takes effect; later calls are no-ops.
type Session struct {
	tx    *sqlx.Tx
	began time.Time
	done  bool
}

// Factory opens sessions against a connection pool.
type Factory struct {
	db *sqlx.DB
}

// NewFactory builds a session factory over the shared pool.
func NewFactory(db *sqlx.DB) *Factory {
	return &Factory{db: db}
}

// Begin opens a transaction and wraps it into a Session.
func (f *Factory) Begin(ctx context.Context) (*Session, error) {
	tx, err := f.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errs.Storage("begin", err)
	}
	logger.Debug(ctx, "db", "session.begin")
	return &Session{tx: tx, began: time.Now()}, nil
}

// Tx exposes the underlying transaction for repositories.
func (s *Session) Tx() *sqlx.Tx {
	return s.tx
}

// Done reports whether the session has already been released.
func (s *Session) Done() bool {
	return s.done
}

// Commit finishes the transaction. Commit failures are not retried; they
// surface as a storage error so the caller can message the user differently.
func (s *Session) Commit(ctx context.Context) error {
	if s.done {
		return nil
	}
	s.done = true
	if err := s.tx.Commit(); err != nil {
		logger.Error(ctx, "db", "session.commit",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
			slog.Duration("duration", logger.Took(s.began)),
		)
		return errs.Storage("commit", err)
	}
	logger.Debug(ctx, "db", "session.commit",
		slog.String("status", "ok"),
		slog.Duration("duration", logger.Took(s.began)),
	)
	return nil
}

// Rollback discards the transaction. Safe to call after Commit; the first
// release wins.
func (s *Session) Rollback(ctx context.Context) error {
	if s.done {
		return nil
	}
	s.done = true
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Error(ctx, "db", "session.rollback",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return errs.Storage("rollback", err)
	}
	logger.Debug(ctx, "db", "session.rollback",
		slog.String("status", "ok"),
		slog.Duration("duration", logger.Took(s.began)),
	)
	return nil
}
