package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"treehouse/internal/gdmc"
)

var ErrNoAudit = errors.New("no audit log")

// ReadDir returns every entry under dir in write order.
func ReadDir(dir string) ([]Entry, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w in %s", ErrNoAudit, dir)
		}
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, filePrefix+"-") && strings.HasSuffix(name, fileSuffix) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoAudit, dir)
	}
	sort.Strings(names)

	out := make([]Entry, 0, 1024)
	for _, name := range names {
		if err := readFile(filepath.Join(dir, name), &out); err != nil {
			return nil, err
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func readFile(path string, out *[]Entry) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		*out = append(*out, e)
	}
	return sc.Err()
}

// UndoPlan is the set of placements that restores what a run replaced.
type UndoPlan struct {
	Blocks []gdmc.PlacedBlock
	// Skipped counts positions whose previous block was not captured or whose
	// placement failed.
	Skipped int
}

// PlanUndo restores, per position, the block seen before the run first wrote
// it. Positions where every placement failed are left alone. Positions are
// restored newest first.
func PlanUndo(entries []Entry) (UndoPlan, error) {
	type slot struct {
		from    string
		fromSeq uint64
		latest  uint64
		applied bool
	}
	var plan UndoPlan
	slots := map[[3]int]*slot{}
	order := make([][3]int, 0, len(entries))
	for _, e := range entries {
		s, ok := slots[e.Pos]
		if !ok {
			s = &slot{}
			slots[e.Pos] = s
			order = append(order, e.Pos)
		}
		if s.from == "" && e.From != "" {
			s.from, s.fromSeq = e.From, e.Seq
		}
		if e.Status != StatusFailed {
			s.applied = true
		}
		s.latest = max(s.latest, e.Seq)
	}
	sort.SliceStable(order, func(i, j int) bool { return slots[order[i]].latest > slots[order[j]].latest })

	for _, pos := range order {
		s := slots[pos]
		if s.from == "" || !s.applied {
			plan.Skipped++
			continue
		}
		b, err := gdmc.ParseBlock(s.from)
		if err != nil {
			return plan, fmt.Errorf("audit seq %d: %w", s.fromSeq, err)
		}
		plan.Blocks = append(plan.Blocks, gdmc.PlacedBlock{Pos: gdmc.FromArray(pos), Block: b})
	}
	return plan, nil
}
