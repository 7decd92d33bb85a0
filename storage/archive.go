// Package storage persists terminal response plans for post-incident
// audit. Records are msgpack-encoded, signed at write time, and signature
// checked at read time so tampering with the archive is detectable.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"icarus/core"
	"icarus/metrics"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Signer seals and verifies archived payloads
type Signer interface {
	Sign(payload []byte) []byte
	Verify(payload, signature []byte) bool
}

// Archive is a SQLite-backed store of terminal plan snapshots
type Archive struct {
	db     *sql.DB
	signer Signer
	logger *zap.SugaredLogger
}

const archiveSchema = `
CREATE TABLE IF NOT EXISTS archived_plans (
	plan_id    TEXT PRIMARY KEY,
	threat_id  TEXT NOT NULL,
	status     TEXT NOT NULL,
	priority   INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	ended_at   TEXT NOT NULL,
	payload    BLOB NOT NULL,
	signature  BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_archived_plans_threat ON archived_plans(threat_id);
CREATE INDEX IF NOT EXISTS idx_archived_plans_status ON archived_plans(status);
`

// NewArchive opens (or creates) the archive database. WAL mode keeps
// audit reads from blocking archival writes.
func NewArchive(path string, signer Signer, logger *zap.SugaredLogger) (*Archive, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening archive database: %w", err)
	}
	// Single writer; audit reads share the same pool
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring archive database: %w", err)
		}
	}

	if _, err := db.Exec(archiveSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating archive schema: %w", err)
	}

	logger.Infow("Plan archive opened", "path", path)
	return &Archive{db: db, signer: signer, logger: logger}, nil
}

// Close closes the underlying database
func (a *Archive) Close() error {
	return a.db.Close()
}

// ArchivePlan seals and persists one terminal plan snapshot. Re-archiving
// the same plan id overwrites the previous record.
func (a *Archive) ArchivePlan(ctx context.Context, plan core.PlanSnapshot) error {
	if !plan.Status.IsTerminal() {
		return &core.Error{
			Kind:   core.ErrKindValidation,
			Detail: fmt.Sprintf("plan %s is %s, only terminal plans are archived", plan.ID, plan.Status),
		}
	}

	payload, err := msgpack.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encoding plan %s: %w", plan.ID, err)
	}

	var signature []byte
	if a.signer != nil {
		signature = a.signer.Sign(payload)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO archived_plans
			(plan_id, threat_id, status, priority, created_at, ended_at, payload, signature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID,
		plan.ThreatEvent.ID,
		plan.Status.String(),
		plan.Priority,
		plan.CreatedAt.UTC().Format(time.RFC3339Nano),
		plan.EndedAt.UTC().Format(time.RFC3339Nano),
		payload,
		signature,
	)
	if err != nil {
		return fmt.Errorf("archiving plan %s: %w", plan.ID, err)
	}

	metrics.ArchivedRecords.WithLabelValues("plan").Inc()
	a.logger.Debugw("Plan archived",
		"plan_id", plan.ID,
		"threat_id", plan.ThreatEvent.ID,
		"status", plan.Status.String())
	return nil
}

// AuditRecord is one archived plan plus the outcome of its signature check
type AuditRecord struct {
	Plan     core.PlanSnapshot `json:"plan"`
	Sealed   bool              `json:"sealed"`
	Verified bool              `json:"verified"`
}

// Plan loads one archived plan by id, verifying its seal
func (a *Archive) Plan(ctx context.Context, planID string) (AuditRecord, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT payload, signature FROM archived_plans WHERE plan_id = ?`, planID)

	var payload, signature []byte
	if err := row.Scan(&payload, &signature); err != nil {
		if err == sql.ErrNoRows {
			return AuditRecord{}, &core.Error{Kind: core.ErrKindNotFound, Detail: "archived plan " + planID}
		}
		return AuditRecord{}, fmt.Errorf("loading archived plan %s: %w", planID, err)
	}
	return a.decode(payload, signature)
}

// PlansByThreat loads every archived plan for a threat id, newest first
func (a *Archive) PlansByThreat(ctx context.Context, threatID string) ([]AuditRecord, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT payload, signature FROM archived_plans
		WHERE threat_id = ? ORDER BY ended_at DESC`, threatID)
	if err != nil {
		return nil, fmt.Errorf("querying archive by threat %s: %w", threatID, err)
	}
	defer rows.Close()
	return a.collect(rows)
}

// Audit returns the most recent archived plans with their signature
// verdicts, newest first
func (a *Archive) Audit(ctx context.Context, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT payload, signature FROM archived_plans
		ORDER BY ended_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying archive: %w", err)
	}
	defer rows.Close()
	return a.collect(rows)
}

func (a *Archive) collect(rows *sql.Rows) ([]AuditRecord, error) {
	var records []AuditRecord
	for rows.Next() {
		var payload, signature []byte
		if err := rows.Scan(&payload, &signature); err != nil {
			return nil, fmt.Errorf("scanning archive row: %w", err)
		}
		record, err := a.decode(payload, signature)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (a *Archive) decode(payload, signature []byte) (AuditRecord, error) {
	var plan core.PlanSnapshot
	if err := msgpack.Unmarshal(payload, &plan); err != nil {
		return AuditRecord{}, fmt.Errorf("decoding archived plan: %w", err)
	}

	record := AuditRecord{Plan: plan, Sealed: len(signature) > 0}
	if record.Sealed && a.signer != nil {
		record.Verified = a.signer.Verify(payload, signature)
		if !record.Verified {
			a.logger.Warnw("Archived plan failed signature verification",
				"plan_id", plan.ID)
		}
	}
	return record, nil
}
