package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pcb-inspect/internal/board"
	"pcb-inspect/internal/decision"
	"pcb-inspect/internal/verify"
)

// ErrNotFound is returned when no record has the requested ID.
var ErrNotFound = errors.New("inspection record not found")

// SideCounts is the verification summary stored for one side.
type SideCounts struct {
	Side      board.Side `json:"side"`
	Matched   int        `json:"matched"`
	Misplaced int        `json:"misplaced"`
	Missing   int        `json:"missing"`
	Extra     int        `json:"extra"`
}

// CountsFromSummary copies the stored fields of a summary.
func CountsFromSummary(side board.Side, s verify.Summary) SideCounts {
	return SideCounts{Side: side, Matched: s.Matched, Misplaced: s.Misplaced, Missing: s.Missing, Extra: s.Extra}
}

// Record is one persisted inspection.
type Record struct {
	ID          string            `json:"id"`
	ProductCode string            `json:"product_code"`
	Serial      string            `json:"serial,omitempty"`
	Decision    decision.Decision `json:"decision"`
	Critical    bool              `json:"critical"`
	Reasons     []string          `json:"reasons,omitempty"`
	Strategy    string            `json:"strategy,omitempty"`
	Box         int               `json:"box"`
	Slot        int               `json:"slot"`
	Sides       []SideCounts      `json:"sides"`
	Report      json.RawMessage   `json:"report,omitempty"`
	Total       time.Duration     `json:"total"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Recorder persists inspection records and returns the stored ID.
type Recorder interface {
	Record(ctx context.Context, r Record) (string, error)
}

// Record inserts r and its side rows in one transaction. A missing ID or
// timestamp is filled in.
func (s *Store) Record(ctx context.Context, r Record) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if !r.Decision.Valid() {
		return "", fmt.Errorf("record %s: unknown decision %q", r.ID, r.Decision)
	}
	report := string(r.Report)
	if report == "" {
		report = "{}"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO inspections
		(id, product_code, serial, decision, code, critical, reasons, strategy, box, slot, report, total_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.ProductCode, r.Serial, string(r.Decision), r.Decision.Code(), boolInt(r.Critical),
		strings.Join(r.Reasons, "\n"), r.Strategy, r.Box, r.Slot, report,
		r.Total.Milliseconds(), r.CreatedAt.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("insert inspection: %w", err)
	}

	for _, side := range r.Sides {
		_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO inspection_sides
			(inspection_id, side, matched, misplaced, missing, extra) VALUES (?, ?, ?, ?, ?, ?)`),
			r.ID, string(side.Side), side.Matched, side.Misplaced, side.Missing, side.Extra)
		if err != nil {
			return "", fmt.Errorf("insert %s side: %w", side.Side, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return r.ID, nil
}

const selectRecord = `SELECT id, product_code, serial, decision, critical, reasons, strategy, box, slot, report, total_ms, created_at
	FROM inspections`

// Get loads a record by ID.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(selectRecord+` WHERE id = ?`), id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadSides(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// List returns the most recent records, newest first. Side rows are not loaded.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(selectRecord+` ORDER BY created_at DESC, id LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// CountByDecision tallies stored records per decision.
func (s *Store) CountByDecision(ctx context.Context) (map[decision.Decision]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT decision, COUNT(*) FROM inspections GROUP BY decision`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[decision.Decision]int)
	for rows.Next() {
		var d string
		var n int
		if err := rows.Scan(&d, &n); err != nil {
			return nil, err
		}
		out[decision.Decision(d)] = n
	}
	return out, rows.Err()
}

func (s *Store) loadSides(ctx context.Context, r *Record) error {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT side, matched, misplaced, missing, extra
		FROM inspection_sides WHERE inspection_id = ? ORDER BY side DESC`), r.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var c SideCounts
		var side string
		if err := rows.Scan(&side, &c.Matched, &c.Misplaced, &c.Missing, &c.Extra); err != nil {
			return err
		}
		c.Side = board.Side(side)
		r.Sides = append(r.Sides, c)
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		r                  Record
		d, reasons, rep    string
		critical           int
		totalMS, createdMS int64
	)
	if err := sc.Scan(&r.ID, &r.ProductCode, &r.Serial, &d, &critical, &reasons, &r.Strategy,
		&r.Box, &r.Slot, &rep, &totalMS, &createdMS); err != nil {
		return nil, err
	}
	r.Decision = decision.Decision(d)
	r.Critical = critical != 0
	if reasons != "" {
		r.Reasons = strings.Split(reasons, "\n")
	}
	r.Report = json.RawMessage(rep)
	r.Total = time.Duration(totalMS) * time.Millisecond
	r.CreatedAt = time.UnixMilli(createdMS)
	return &r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
