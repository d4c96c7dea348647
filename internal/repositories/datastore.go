package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"licenseops/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool and by pgxmock pools.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

const (
	defaultSlowQuery = time.Second
	auditTimeout     = 5 * time.Second
)

// DataStore is the pooled relational access layer shared by every job. Each
// call acquires and releases its own connection; only Transaction pins one.
type DataStore struct {
	db        DBTX
	logger    *slog.Logger
	slowQuery time.Duration
}

func NewDataStore(db DBTX, logger *slog.Logger) *DataStore {
	return &DataStore{db: db, logger: logger, slowQuery: defaultSlowQuery}
}

func (s *DataStore) observe(sql string, start time.Time) {
	if elapsed := time.Since(start); elapsed > s.slowQuery {
		s.logger.Warn("slow query", "duration", elapsed, "sql", compact(sql))
	}
}

func (s *DataStore) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	defer s.observe(sql, time.Now())
	return s.db.Query(ctx, sql, args...)
}

func (s *DataStore) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	defer s.observe(sql, time.Now())
	return s.db.QueryRow(ctx, sql, args...)
}

func (s *DataStore) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	defer s.observe(sql, time.Now())
	return s.db.Exec(ctx, sql, args...)
}

func (s *DataStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Transaction runs fn on a dedicated connection. fn's error, or a panic inside
// it, rolls the transaction back; the error is returned and the panic re-raised.
func (s *DataStore) Transaction(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			s.rollback(tx)
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		s.rollback(tx)
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *DataStore) rollback(tx pgx.Tx) {
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		s.logger.Error("rollback failed", "error", err)
	}
}

// LogEvent appends to system_events. It never fails the caller: write errors
// are logged and dropped. The insert survives cancellation of ctx so a timed-out
// job still leaves its audit trail.
func (s *DataStore) LogEvent(ctx context.Context, event models.SystemEvent) {
	if event.Severity == "" {
		event.Severity = models.SeverityMedium
	}
	details, err := json.Marshal(event.Details)
	if err != nil {
		s.logger.Error("encode event details", "type", event.Type, "error", err)
		details = []byte("{}")
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()

	query := `
		INSERT INTO system_events (event_type, tenant_id, license_id, user_id, details, severity, created_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, $6, NOW())
	`
	if _, err := s.Exec(writeCtx, query, event.Type, event.TenantID, event.LicenseID, event.UserID, details, string(event.Severity)); err != nil {
		s.logger.Error("failed to log system event", "type", event.Type, "tenant_id", event.TenantID, "error", err)
	}
}

// compact flattens whitespace so multi-line SQL fits on one log line.
func compact(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}
