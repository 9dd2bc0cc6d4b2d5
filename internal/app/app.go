// Package app wires the interface client, the editor and the run bookkeeping
// (audit log, run index, progress feed) into the builder's operations.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"treehouse/internal/config"
	"treehouse/internal/editor"
	"treehouse/internal/gdmc"
	"treehouse/internal/persistence/audit"
	"treehouse/internal/persistence/indexdb"
	"treehouse/internal/transport/observer"
)

const (
	OpBuild   = "build"
	OpClear   = "clear"
	OpFlatten = "flatten"
	OpUndo    = "undo"
)

var ErrIndexDisabled = errors.New("run index is disabled (data.disable_db)")

type App struct {
	cfg    config.Config
	log    *zap.Logger
	client *gdmc.Client

	index    *indexdb.SQLiteIndex
	observer *observer.Server

	stopObserver context.CancelFunc
	observerDone chan error

	now func() time.Time
}

// New connects nothing yet; the interface is only contacted by operations.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := gdmc.New(cfg.Interface.Host,
		gdmc.WithTimeout(cfg.Interface.Timeout.Std()),
		gdmc.WithLogger(logger.Named("gdmc")),
	)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:    cfg,
		log:    logger,
		client: client,
		now:    time.Now,
	}

	if !cfg.Data.DisableDB {
		idx, err := indexdb.OpenSQLite(filepath.Join(cfg.Data.Dir, "index.sqlite"))
		if err != nil {
			return nil, fmt.Errorf("open run index: %w", err)
		}
		a.index = idx
	}

	if cfg.Observer.Listen != "" {
		ln, err := net.Listen("tcp", cfg.Observer.Listen)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("progress feed: %w", err)
		}
		a.observer = observer.NewServer(logger.Named("observer"))
		ctx, cancel := context.WithCancel(context.Background())
		a.stopObserver = cancel
		a.observerDone = make(chan error, 1)
		go func() { a.observerDone <- a.observer.Serve(ctx, ln) }()
	}
	return a, nil
}

func (a *App) Config() config.Config { return a.cfg }

func (a *App) Client() *gdmc.Client { return a.client }

func (a *App) Close() error {
	var errs []error
	if a.stopObserver != nil {
		a.stopObserver()
		if err := <-a.observerDone; err != nil {
			errs = append(errs, err)
		}
		a.stopObserver = nil
	}
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Preflight checks that the interface answers and a build area is set.
func (a *App) Preflight(ctx context.Context) (gdmc.Box, error) {
	if err := a.client.CheckConnection(ctx); err != nil {
		return gdmc.Box{}, err
	}
	area, err := a.client.BuildArea(ctx)
	if err != nil {
		return gdmc.Box{}, err
	}
	a.log.Debug("build area", zap.Stringer("area", area))
	return area, nil
}

// RunResult is what every editing operation reports.
type RunResult struct {
	RunID    string       `json:"run_id"`
	Op       string       `json:"op"`
	Area     gdmc.Box     `json:"area"`
	Seed     int64        `json:"seed,omitempty"`
	AuditDir string       `json:"audit_dir"`
	Elapsed  string       `json:"elapsed"`
	Stats    editor.Stats `json:"stats"`
}

// run executes fn against a fresh editor and keeps the run's books: audit
// log, run index rows and progress events. Placements still buffered when fn
// fails are discarded.
func (a *App) run(ctx context.Context, op string, area gdmc.Box, seed int64, fn func(context.Context, *editor.Editor) error) (RunResult, error) {
	id := uuid.NewString()
	dir := audit.Dir(a.cfg.Data.Dir, id)
	log := a.log.With(zap.String("run", id), zap.String("op", op))

	al := audit.NewLogger(dir)
	ed := editor.New(a.client, editor.Options{
		RunID:       id,
		Op:          op,
		BufferLimit: a.cfg.Editor.BufferLimit,
		BatchSize:   a.cfg.Editor.BatchSize,
		Workers:     a.cfg.Editor.Workers,
		Place: gdmc.PlaceOptions{
			DoBlockUpdates: a.cfg.Editor.DoBlockUpdates,
			SpawnDrops:     a.cfg.Editor.SpawnDrops,
		},
		CapturePrevious: a.cfg.Editor.CapturePrevious,
	}, a.log.Named("editor"))
	ed.AddObserver(al)
	if a.index != nil {
		ed.AddObserver(a.index)
	}
	if a.observer != nil {
		ed.AddObserver(a.observer)
	}

	started := a.now()
	rec := indexdb.Run{
		ID:        id,
		Op:        op,
		Host:      a.client.Host(),
		Status:    indexdb.RunRunning,
		StartedAt: started,
		Area:      area,
		Seed:      seed,
		AuditDir:  dir,
	}
	if a.index != nil {
		a.index.RecordRun(rec)
	}
	if a.observer != nil {
		a.observer.RunStarted(id, op, area)
	}
	log.Info("run started", zap.Stringer("area", area), zap.Int64("seed", seed))

	err := fn(ctx, ed)
	if err == nil {
		err = ed.Close(ctx)
	}
	if cerr := al.Close(); cerr != nil {
		log.Error("close audit log", zap.Error(cerr))
		if err == nil {
			err = fmt.Errorf("audit: %w", cerr)
		}
	}

	stats := ed.Stats()
	rec.FinishedAt = a.now()
	rec.Stats = stats
	rec.Status = indexdb.RunFinished
	if err != nil {
		rec.Status = indexdb.RunFailed
		rec.Error = err.Error()
	}
	if a.index != nil {
		a.index.RecordRun(rec)
		if serr := a.index.Sync(context.WithoutCancel(ctx)); serr != nil {
			log.Warn("sync run index", zap.Error(serr))
		}
	}
	if a.observer != nil {
		a.observer.RunFinished(id, stats, err)
	}

	res := RunResult{
		RunID:    id,
		Op:       op,
		Area:     area,
		Seed:     seed,
		AuditDir: dir,
		Elapsed:  rec.FinishedAt.Sub(started).Round(time.Millisecond).String(),
		Stats:    stats,
	}
	fields := []zap.Field{
		zap.Int("placed", stats.Placed),
		zap.Int("changed", stats.Changed),
		zap.Int("failed", stats.Failed),
		zap.Int("batches", stats.Batches),
		zap.String("elapsed", res.Elapsed),
	}
	if err != nil {
		log.Error("run failed", append(fields, zap.Error(err))...)
		return res, err
	}
	log.Info("run finished", fields...)
	return res, nil
}

// Runs lists recent runs from the index, newest first.
func (a *App) Runs(ctx context.Context, limit int) ([]indexdb.Run, error) {
	if a.index == nil {
		return nil, ErrIndexDisabled
	}
	return a.index.ListRuns(ctx, limit)
}
