// Package audit records every block a run placed, with the block it replaced,
// as zstd-compressed JSON lines.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"treehouse/internal/editor"
)

const (
	filePrefix = "audit"
	fileSuffix = ".jsonl.zst"

	// DefaultSegmentEntries is how many entries go into one segment file.
	DefaultSegmentEntries = 50_000
)

// segmentWriter writes one run's entries as JSON lines into numbered zstd
// segments, audit-000001.jsonl.zst and up. A segment is sealed once it holds
// maxEntries lines. Every append ends with a flushed zstd block.
type segmentWriter struct {
	dir        string
	maxEntries int

	seg  int
	n    int
	f    *os.File
	zw   *zstd.Encoder
	bufw *bufio.Writer
}

func segmentPath(dir string, seg int) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%06d%s", filePrefix, seg, fileSuffix))
}

func (s *segmentWriter) append(entries []Entry) error {
	for i := range entries {
		if s.zw == nil || s.n >= s.maxEntries {
			if err := s.next(); err != nil {
				return err
			}
		}
		line, err := json.Marshal(&entries[i])
		if err != nil {
			return err
		}
		line = append(line, '\n')
		if _, err := s.bufw.Write(line); err != nil {
			return err
		}
		s.n++
	}
	if s.bufw == nil {
		return nil
	}
	if err := s.bufw.Flush(); err != nil {
		return err
	}
	return s.zw.Flush()
}

func (s *segmentWriter) next() error {
	if err := s.seal(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(segmentPath(s.dir, s.seg+1), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	s.seg++
	s.n = 0
	s.f, s.zw, s.bufw = f, zw, bufio.NewWriterSize(zw, 64*1024)
	return nil
}

// seal finishes the open segment, if any. The first error wins.
func (s *segmentWriter) seal() error {
	if s.f == nil {
		return nil
	}
	var errs []error
	if err := s.bufw.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := s.zw.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.f.Close(); err != nil {
		errs = append(errs, err)
	}
	s.f, s.zw, s.bufw = nil, nil, nil
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Entry is one audited placement.
type Entry struct {
	Seq    uint64    `json:"seq"`
	RunID  string    `json:"run_id"`
	Op     string    `json:"op"`
	Batch  uint64    `json:"batch"`
	Pos    [3]int    `json:"pos"`
	From   string    `json:"from,omitempty"`
	To     string    `json:"to"`
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

const (
	StatusChanged   = "changed"
	StatusUnchanged = "unchanged"
	StatusFailed    = "failed"
)

// Logger writes the audit trail of one run. It is an editor.Observer.
type Logger struct {
	dir string
	now func() time.Time

	mu  sync.Mutex
	w   segmentWriter
	seq uint64
}

// Dir returns the audit directory of runID under dataDir.
func Dir(dataDir, runID string) string {
	return filepath.Join(dataDir, "runs", runID, "audit")
}

// NewLogger creates nothing on disk until the first batch arrives.
func NewLogger(dir string) *Logger {
	return &Logger{
		dir: dir,
		now: time.Now,
		w:   segmentWriter{dir: dir, maxEntries: DefaultSegmentEntries},
	}
}

func (l *Logger) Dir() string { return l.dir }

// Segments reports how many segment files the logger has opened.
func (l *Logger) Segments() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.seg
}

func (l *Logger) ObserveBatch(br editor.BatchResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	at := l.now().UTC()
	entries := make([]Entry, len(br.Blocks))
	for i, pb := range br.Blocks {
		l.seq++
		e := &entries[i]
		*e = Entry{
			Seq:    l.seq,
			RunID:  br.RunID,
			Op:     br.Op,
			Batch:  br.Seq,
			Pos:    pb.Pos.Array(),
			To:     pb.Block.String(),
			Status: StatusUnchanged,
			At:     at,
		}
		if i < len(br.Previous) {
			e.From = br.Previous[i].String()
		}
		if i < len(br.Result.Outcomes) {
			switch o := br.Result.Outcomes[i]; {
			case o.Err != "":
				e.Status, e.Error = StatusFailed, o.Err
			case o.Changed:
				e.Status = StatusChanged
			}
		}
	}
	if err := l.w.append(entries); err != nil {
		return fmt.Errorf("audit %s: %w", br.RunID, err)
	}
	return nil
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.seal()
}
