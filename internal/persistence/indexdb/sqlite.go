// Package indexdb keeps a queryable SQLite index of builder runs. Audit logs
// stay the source of truth; the index can be rebuilt or disabled.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"treehouse/internal/editor"
	"treehouse/internal/gdmc"
)

var ErrRunNotFound = errors.New("run not found")

const (
	RunRunning  = "running"
	RunFinished = "finished"
	RunFailed   = "failed"
)

type Run struct {
	ID         string    `json:"id"`
	Op         string    `json:"op"`
	Host       string    `json:"host"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Area       gdmc.Box  `json:"area"`
	Seed       int64     `json:"seed,omitempty"`
	AuditDir   string    `json:"audit_dir"`
	Error      string    `json:"error,omitempty"`

	Stats editor.Stats `json:"stats"`
}

type SQLiteIndex struct {
	db *sql.DB

	// mu guards sends on ch against Close closing it.
	mu     sync.RWMutex
	ch     chan req
	closed bool
	wg     sync.WaitGroup
	once   sync.Once

	droppedBatch atomic.Uint64
}

// timeLayout is fixed width so that started_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

type reqKind int

const (
	reqRun reqKind = iota + 1
	reqBatch
	reqBarrier
)

type req struct {
	kind reqKind

	run   Run
	batch batchRow
	done  chan struct{}
}

type batchRow struct {
	RunID     string
	Seq       uint64
	Blocks    int
	Changed   int
	Unchanged int
	Failed    int
	ElapsedMs int64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			op TEXT NOT NULL,
			host TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			area_json TEXT NOT NULL,
			seed INTEGER NOT NULL,
			audit_dir TEXT NOT NULL,
			error TEXT,
			placed INTEGER NOT NULL DEFAULT 0,
			changed INTEGER NOT NULL DEFAULT 0,
			unchanged INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			batches INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
		`CREATE TABLE IF NOT EXISTS batches (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			blocks INTEGER NOT NULL,
			changed INTEGER NOT NULL,
			unchanged INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			elapsed_ms INTEGER NOT NULL,
			PRIMARY KEY (run_id, seq)
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordRun inserts or updates a run row. Run rows are only dropped once the
// index is closed.
func (s *SQLiteIndex) RecordRun(r Run) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	s.ch <- req{kind: reqRun, run: r}
}

// ObserveBatch queues a batch row; rows are dropped if the writer falls behind.
func (s *SQLiteIndex) ObserveBatch(br editor.BatchResult) error {
	if s == nil {
		return nil
	}
	row := batchRow{
		RunID:     br.RunID,
		Seq:       br.Seq,
		Blocks:    len(br.Blocks),
		Changed:   br.Result.Changed,
		Unchanged: br.Result.Unchanged,
		Failed:    br.Result.Failed,
		ElapsedMs: br.Elapsed.Milliseconds(),
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- req{kind: reqBatch, batch: row}:
	default:
		s.droppedBatch.Add(1)
	}
	return nil
}

// Sync waits until everything queued so far is written.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil {
		return nil
	}
	done := make(chan struct{})
	queued, err := s.enqueueBarrier(ctx, done)
	if err != nil || !queued {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) enqueueBarrier(ctx context.Context, done chan struct{}) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, nil
	}
	select {
	case s.ch <- req{kind: reqBarrier, done: done}:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

type QueueStats struct {
	QueueDepth     int
	QueueCapacity  int
	DroppedBatches uint64
}

func (s *SQLiteIndex) Stats() QueueStats {
	if s == nil {
		return QueueStats{}
	}
	return QueueStats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DroppedBatches: s.droppedBatch.Load(),
	}
}

const runColumns = `id,op,host,status,started_at,finished_at,area_json,seed,audit_dir,error,placed,changed,unchanged,failed,batches`

// ListRuns returns the most recent runs first.
func (s *SQLiteIndex) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

// BatchCount returns how many batch rows a run has.
func (s *SQLiteIndex) BatchCount(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM batches WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r                 Run
		started, areaJSON string
		finished, errMsg  sql.NullString
	)
	if err := sc.Scan(&r.ID, &r.Op, &r.Host, &r.Status, &started, &finished, &areaJSON, &r.Seed, &r.AuditDir, &errMsg,
		&r.Stats.Placed, &r.Stats.Changed, &r.Stats.Unchanged, &r.Stats.Failed, &r.Stats.Batches); err != nil {
		return Run{}, err
	}
	r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	if finished.Valid {
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished.String)
	}
	r.Error = errMsg.String
	if err := json.Unmarshal([]byte(areaJSON), &r.Area); err != nil {
		return Run{}, fmt.Errorf("run %s: area: %w", r.ID, err)
	}
	return r, nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	upsertRun, _ := s.db.Prepare(`INSERT INTO runs(` + runColumns + `) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET status=excluded.status, finished_at=excluded.finished_at, error=excluded.error,
		placed=excluded.placed, changed=excluded.changed, unchanged=excluded.unchanged, failed=excluded.failed, batches=excluded.batches`)
	insertBatch, _ := s.db.Prepare(`INSERT OR REPLACE INTO batches(run_id,seq,blocks,changed,unchanged,failed,elapsed_ms) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		if upsertRun != nil {
			_ = upsertRun.Close()
		}
		if insertBatch != nil {
			_ = insertBatch.Close()
		}
	}()

	for r := range s.ch {
		switch r.kind {
		case reqRun:
			if upsertRun == nil {
				continue
			}
			run := r.run
			area, _ := json.Marshal(run.Area)
			var finished, errMsg any
			if !run.FinishedAt.IsZero() {
				finished = formatTime(run.FinishedAt)
			}
			if run.Error != "" {
				errMsg = run.Error
			}
			_, _ = upsertRun.ExecContext(ctx,
				run.ID, run.Op, run.Host, run.Status,
				formatTime(run.StartedAt), finished,
				string(area), run.Seed, run.AuditDir, errMsg,
				run.Stats.Placed, run.Stats.Changed, run.Stats.Unchanged, run.Stats.Failed, run.Stats.Batches)

		case reqBatch:
			if insertBatch == nil {
				continue
			}
			b := r.batch
			_, _ = insertBatch.ExecContext(ctx, b.RunID, b.Seq, b.Blocks, b.Changed, b.Unchanged, b.Failed, b.ElapsedMs)

		case reqBarrier:
			close(r.done)
		}
	}
}
