// Package gdmctest serves an in-memory world over the GDMC HTTP interface
// routes for tests.
package gdmctest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"treehouse/internal/gdmc"
)

type Request struct {
	Method string
	Path   string
	Query  string
}

type Interface struct {
	mu       sync.Mutex
	blocks   map[gdmc.Vec3]gdmc.Block
	area     *gdmc.Box
	minY     int
	version  string
	failAt   map[gdmc.Vec3]string
	requests []Request
	commands []string
	placeLog []gdmc.PlacedBlock
	server   *httptest.Server
}

// New starts a fake interface. The world is air everywhere until blocks are set.
func New() *Interface {
	f := &Interface{
		blocks:  map[gdmc.Vec3]gdmc.Block{},
		failAt:  map[gdmc.Vec3]string{},
		version: "1.5.0",
		minY:    -64,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/version", f.handleVersion)
	mux.HandleFunc("/buildarea", f.handleBuildArea)
	mux.HandleFunc("/blocks", f.handleBlocks)
	mux.HandleFunc("/heightmap", f.handleHeightmap)
	mux.HandleFunc("/commands", f.handleCommands)
	f.server = httptest.NewServer(f.record(mux))
	return f
}

func (f *Interface) URL() string { return f.server.URL }
func (f *Interface) Close()      { f.server.Close() }

func (f *Interface) SetBuildArea(b gdmc.Box) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.area = &b
}

func (f *Interface) Set(pos gdmc.Vec3, b gdmc.Block) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setLocked(pos, b)
}

// Fill sets every position of box to b.
func (f *Interface) Fill(box gdmc.Box, b gdmc.Block) {
	f.mu.Lock()
	defer f.mu.Unlock()
	end := box.End()
	for x := box.Offset.X; x < end.X; x++ {
		for y := box.Offset.Y; y < end.Y; y++ {
			for z := box.Offset.Z; z < end.Z; z++ {
				f.setLocked(gdmc.V(x, y, z), b)
			}
		}
	}
}

func (f *Interface) Get(pos gdmc.Vec3) gdmc.Block {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.blocks[pos]; ok {
		return b
	}
	return gdmc.Air
}

// FailAt makes placements at pos report an error message.
func (f *Interface) FailAt(pos gdmc.Vec3, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAt[pos] = msg
}

func (f *Interface) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

// Placed returns every block received through PUT /blocks, in arrival order.
func (f *Interface) Placed() []gdmc.PlacedBlock {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gdmc.PlacedBlock(nil), f.placeLog...)
}

func (f *Interface) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *Interface) setLocked(pos gdmc.Vec3, b gdmc.Block) {
	if b.IsAir() {
		delete(f.blocks, pos)
		return
	}
	f.blocks[pos] = b
}

func (f *Interface) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, Request{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery})
		f.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (f *Interface) handleVersion(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	v := f.version
	f.mu.Unlock()
	_, _ = io.WriteString(w, v)
}

func (f *Interface) handleBuildArea(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	area := f.area
	f.mu.Unlock()
	if area == nil {
		http.Error(w, "No build area is specified. Use the /setbuildarea command inside Minecraft to set a build area.", http.StatusNotFound)
		return
	}
	last := area.Last()
	writeJSON(w, map[string]int{
		"xFrom": area.Offset.X, "yFrom": area.Offset.Y, "zFrom": area.Offset.Z,
		"xTo": last.X, "yTo": last.Y, "zTo": last.Z,
	})
}

type wireBlock struct {
	X     int               `json:"x"`
	Y     int               `json:"y"`
	Z     int               `json:"z"`
	ID    string            `json:"id"`
	State map[string]string `json:"state,omitempty"`
	Data  string            `json:"data,omitempty"`
}

func (f *Interface) handleBlocks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		x, y, z := atoi(q.Get("x"), 0), atoi(q.Get("y"), 0), atoi(q.Get("z"), 0)
		dx, dy, dz := atoi(q.Get("dx"), 1), atoi(q.Get("dy"), 1), atoi(q.Get("dz"), 1)
		box := gdmc.Box{Offset: gdmc.V(x, y, z), Size: gdmc.V(dx, dy, dz)}
		withData := q.Get("includeData") == "true"
		f.mu.Lock()
		out := make([]wireBlock, 0, box.Volume())
		end := box.End()
		for bx := box.Offset.X; bx < end.X; bx++ {
			for by := box.Offset.Y; by < end.Y; by++ {
				for bz := box.Offset.Z; bz < end.Z; bz++ {
					b, ok := f.blocks[gdmc.V(bx, by, bz)]
					if !ok {
						b = gdmc.Air
					}
					wb := wireBlock{X: bx, Y: by, Z: bz, ID: b.ID, State: b.States}
					if withData {
						wb.Data = b.Data
					}
					out = append(out, wb)
				}
			}
		}
		f.mu.Unlock()
		writeJSON(w, out)

	case http.MethodPut:
		var in []wireBlock
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		type status struct {
			Status  int    `json:"status"`
			Message string `json:"message,omitempty"`
		}
		out := make([]status, 0, len(in))
		f.mu.Lock()
		for _, wb := range in {
			pos := gdmc.V(wb.X, wb.Y, wb.Z)
			b := gdmc.Block{ID: wb.ID, States: wb.State, Data: wb.Data}
			f.placeLog = append(f.placeLog, gdmc.PlacedBlock{Pos: pos, Block: b})
			if msg, ok := f.failAt[pos]; ok {
				out = append(out, status{Status: 0, Message: msg})
				continue
			}
			prev, ok := f.blocks[pos]
			if !ok {
				prev = gdmc.Air
			}
			if prev.Equal(b) || (prev.IsAir() && b.IsAir()) {
				out = append(out, status{Status: 0})
				continue
			}
			f.setLocked(pos, b)
			out = append(out, status{Status: 1})
		}
		f.mu.Unlock()
		writeJSON(w, out)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleHeightmap derives heightmaps from the stored blocks over the build area.
func (f *Interface) handleHeightmap(w http.ResponseWriter, r *http.Request) {
	t, err := gdmc.ParseHeightmapType(r.URL.Query().Get("type"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.area == nil {
		http.Error(w, "No build area is specified.", http.StatusNotFound)
		return
	}
	area := *f.area
	top := area.End().Y + 64
	out := make([][]int, area.Size.X)
	for lx := range out {
		out[lx] = make([]int, area.Size.Z)
		for lz := range out[lx] {
			x, z := area.Offset.X+lx, area.Offset.Z+lz
			h := f.minY
			for y := top; y >= f.minY; y-- {
				b, ok := f.blocks[gdmc.V(x, y, z)]
				if !ok || !counts(t, b) {
					continue
				}
				h = y + 1
				break
			}
			out[lx][lz] = h
		}
	}
	writeJSON(w, out)
}

func counts(t gdmc.HeightmapType, b gdmc.Block) bool {
	switch t {
	case gdmc.MotionBlockingNoLeaves:
		return !b.Is("leaves")
	case gdmc.OceanFloor:
		return !b.Is("leaves") && !b.Is("water")
	default:
		return true
	}
}

func (f *Interface) handleCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	raw, _ := io.ReadAll(r.Body)
	var out []map[string]any
	f.mu.Lock()
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		f.commands = append(f.commands, line)
		out = append(out, map[string]any{"status": 1, "message": "ok"})
	}
	f.mu.Unlock()
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func atoi(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
