package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/findings"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// findingColumns is the column order used by CopyFrom.
var findingColumns = []string{
	"id", "scan_id", "entry_point", "kind", "rule_id", "label", "tags",
	"sink_name", "sink", "source", "sanitizers", "trace", "observed_at",
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS findings (
    id          UUID PRIMARY KEY,
    scan_id     TEXT NOT NULL,
    entry_point TEXT NOT NULL,
    kind        TEXT NOT NULL,
    rule_id     TEXT NOT NULL,
    label       TEXT NOT NULL,
    tags        TEXT[] NOT NULL DEFAULT '{}',
    sink_name   TEXT NOT NULL,
    sink        JSONB NOT NULL,
    source      JSONB NOT NULL,
    sanitizers  TEXT[] NOT NULL DEFAULT '{}',
    trace       JSONB NOT NULL,
    observed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS findings_scan_id_idx ON findings (scan_id);
`

// Store persists findings in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the findings table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// PersistFindings writes every finding of a scan in a single transaction.
func (s *Store) PersistFindings(ctx context.Context, scanID string, fs []findings.Finding) error {
	if len(fs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after a successful commit reports ErrTxClosed; that is expected.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	rows := make([][]interface{}, len(fs))
	for i, f := range fs {
		row, err := findingRow(scanID, f)
		if err != nil {
			return err
		}
		rows[i] = row
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"findings"}, findingColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy findings: %w", err)
	}
	if int(copyCount) != len(fs) {
		return fmt.Errorf("mismatch in copied findings count: expected %d, got %d", len(fs), copyCount)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Persisted findings", zap.String("scan_id", scanID), zap.Int("count", len(fs)))
	return nil
}

func findingRow(scanID string, f findings.Finding) ([]interface{}, error) {
	sink, err := json.Marshal(f.Sink)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sink of finding %s: %w", f.ID, err)
	}
	source, err := json.Marshal(f.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to encode source of finding %s: %w", f.ID, err)
	}
	trace := f.Trace
	if trace == nil {
		trace = []findings.Step{}
	}
	traceJSON, err := json.Marshal(trace)
	if err != nil {
		return nil, fmt.Errorf("failed to encode trace of finding %s: %w", f.ID, err)
	}
	tags := f.Tags
	if tags == nil {
		tags = []string{}
	}
	sanitizers := f.Sanitizers
	if sanitizers == nil {
		sanitizers = []string{}
	}

	return []interface{}{
		f.ID.String(), scanID, f.EntryPoint, f.Kind, f.RuleID, f.Label, tags,
		f.SinkName, sink, source, sanitizers, traceJSON,
		// Timestamps are stored in UTC to avoid ambiguity.
		f.ObservedAt.UTC(),
	}, nil
}

// GetFindingsByScanID returns the findings of a scan ordered by observation time.
func (s *Store) GetFindingsByScanID(ctx context.Context, scanID string) ([]findings.Finding, error) {
	query := `
        SELECT id, entry_point, kind, rule_id, label, tags, sink_name, sink, source, sanitizers, trace, observed_at
        FROM findings
        WHERE scan_id = $1
        ORDER BY observed_at ASC;
    `
	rows, err := s.pool.Query(ctx, query, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var out []findings.Finding
	for rows.Next() {
		var (
			f                       findings.Finding
			id                      string
			sink, source, traceJSON []byte
		)
		err := rows.Scan(
			&id, &f.EntryPoint, &f.Kind, &f.RuleID, &f.Label, &f.Tags,
			&f.SinkName, &sink, &source, &f.Sanitizers, &traceJSON, &f.ObservedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finding row: %w", err)
		}
		if f.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid finding id %q: %w", id, err)
		}
		if err := decodeLocation(sink, &f.Sink); err != nil {
			return nil, fmt.Errorf("failed to decode sink of finding %s: %w", id, err)
		}
		if err := decodeLocation(source, &f.Source); err != nil {
			return nil, fmt.Errorf("failed to decode source of finding %s: %w", id, err)
		}
		if len(traceJSON) > 0 {
			if err := json.Unmarshal(traceJSON, &f.Trace); err != nil {
				return nil, fmt.Errorf("failed to decode trace of finding %s: %w", id, err)
			}
		}
		f.ScanID = scanID
		out = append(out, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

func decodeLocation(data []byte, loc *uast.Location) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, loc)
}
