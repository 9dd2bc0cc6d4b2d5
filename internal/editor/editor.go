// Package editor buffers block placements and sends them to the interface in
// batches. The buffer is keyed by position, so a later placement at a position
// replaces an earlier one that has not been flushed yet.
package editor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"treehouse/internal/gdmc"
)

// Backend is the part of the interface client the editor needs.
type Backend interface {
	GetBlocks(ctx context.Context, box gdmc.Box) ([]gdmc.PlacedBlock, error)
	PlaceBlocks(ctx context.Context, blocks []gdmc.PlacedBlock, opts gdmc.PlaceOptions) (gdmc.PlaceResult, error)
}

const (
	DefaultBufferLimit = 1024
	DefaultBatchSize   = 256
	DefaultWorkers     = 4
)

type Options struct {
	RunID string
	Op    string

	BufferLimit int
	BatchSize   int
	Workers     int
	Place       gdmc.PlaceOptions

	// CapturePrevious reads the blocks about to be replaced so observers can
	// record them.
	CapturePrevious bool
}

func (o *Options) normalize() {
	if o.BufferLimit <= 0 {
		o.BufferLimit = DefaultBufferLimit
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchSize > o.BufferLimit {
		o.BatchSize = o.BufferLimit
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
}

// BatchResult describes one PUT /blocks round trip.
type BatchResult struct {
	RunID  string
	Op     string
	Seq    uint64
	Blocks []gdmc.PlacedBlock
	// Previous is aligned with Blocks; nil unless CapturePrevious is set.
	Previous []gdmc.Block
	Result   gdmc.PlaceResult
	Elapsed  time.Duration
}

type Observer interface {
	ObserveBatch(BatchResult) error
}

type ObserverFunc func(BatchResult) error

func (f ObserverFunc) ObserveBatch(br BatchResult) error { return f(br) }

type Stats struct {
	Placed    int `json:"placed"`
	Changed   int `json:"changed"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
	Batches   int `json:"batches"`
	Flushes   int `json:"flushes"`
}

type Editor struct {
	backend Backend
	opts    Options
	log     *zap.Logger

	order  []gdmc.Vec3
	buffer map[gdmc.Vec3]gdmc.Block

	mu        sync.Mutex
	observers []Observer
	seq       uint64
	stats     Stats
}

func New(backend Backend, opts Options, logger *zap.Logger) *Editor {
	opts.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Editor{
		backend: backend,
		opts:    opts,
		log:     logger.With(zap.String("run", opts.RunID), zap.String("op", opts.Op)),
		buffer:  make(map[gdmc.Vec3]gdmc.Block, opts.BufferLimit),
	}
}

func (e *Editor) AddObserver(o Observer) {
	if o == nil {
		return
	}
	e.mu.Lock()
	e.observers = append(e.observers, o)
	e.mu.Unlock()
}

// PlaceBlock buffers b at pos and flushes once the buffer is full.
func (e *Editor) PlaceBlock(ctx context.Context, pos gdmc.Vec3, b gdmc.Block) error {
	if _, ok := e.buffer[pos]; !ok {
		e.order = append(e.order, pos)
	}
	e.buffer[pos] = b
	if len(e.order) >= e.opts.BufferLimit {
		return e.Flush(ctx)
	}
	return nil
}

// GetBlock returns the pending block at pos, or asks the backend.
func (e *Editor) GetBlock(ctx context.Context, pos gdmc.Vec3) (gdmc.Block, error) {
	if b, ok := e.buffer[pos]; ok {
		return b, nil
	}
	blocks, err := e.backend.GetBlocks(ctx, gdmc.Box{Offset: pos, Size: gdmc.V(1, 1, 1)})
	if err != nil {
		return gdmc.Block{}, err
	}
	for _, pb := range blocks {
		if pb.Pos == pos {
			return pb.Block, nil
		}
	}
	return gdmc.Air, nil
}

func (e *Editor) Pending() int { return len(e.order) }

// Flush sends the buffer and waits for every batch.
func (e *Editor) Flush(ctx context.Context) error {
	if len(e.order) == 0 {
		return nil
	}
	pending := make([]gdmc.PlacedBlock, 0, len(e.order))
	for _, pos := range e.order {
		pending = append(pending, gdmc.PlacedBlock{Pos: pos, Block: e.buffer[pos]})
	}
	e.order = e.order[:0]
	clear(e.buffer)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for start := 0; start < len(pending); start += e.opts.BatchSize {
		batch := pending[start:min(start+e.opts.BatchSize, len(pending))]
		g.Go(func() error { return e.send(gctx, batch) })
	}
	err := g.Wait()

	e.mu.Lock()
	e.stats.Flushes++
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("flush %d blocks: %w", len(pending), err)
	}
	return nil
}

func (e *Editor) Close(ctx context.Context) error { return e.Flush(ctx) }

func (e *Editor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Editor) send(ctx context.Context, batch []gdmc.PlacedBlock) error {
	var prev []gdmc.Block
	if e.opts.CapturePrevious {
		var err error
		prev, err = capture(ctx, e.backend, batch)
		if err != nil {
			return fmt.Errorf("capture previous blocks: %w", err)
		}
	}

	start := time.Now()
	res, err := e.backend.PlaceBlocks(ctx, batch, e.opts.Place)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	e.stats.Batches++
	e.stats.Placed += len(batch)
	e.stats.Changed += res.Changed
	e.stats.Unchanged += res.Unchanged
	e.stats.Failed += res.Failed

	if res.Failed > 0 {
		e.log.Warn("placements rejected", zap.Uint64("batch", e.seq), zap.Int("failed", res.Failed))
	}
	e.log.Debug("batch placed",
		zap.Uint64("batch", e.seq),
		zap.Int("blocks", len(batch)),
		zap.Int("changed", res.Changed),
		zap.Duration("elapsed", elapsed))

	br := BatchResult{
		RunID:    e.opts.RunID,
		Op:       e.opts.Op,
		Seq:      e.seq,
		Blocks:   batch,
		Previous: prev,
		Result:   res,
		Elapsed:  elapsed,
	}
	for _, o := range e.observers {
		if err := o.ObserveBatch(br); err != nil {
			e.log.Error("observer failed", zap.Uint64("batch", br.Seq), zap.Error(err))
		}
	}
	return nil
}
