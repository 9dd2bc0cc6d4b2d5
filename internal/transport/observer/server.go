// Package observer serves a read-only websocket feed of builder progress.
package observer

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"treehouse/internal/editor"
	"treehouse/internal/gdmc"
)

const (
	EventRunStarted  = "RUN_STARTED"
	EventBatch       = "BATCH"
	EventRunFinished = "RUN_FINISHED"
)

type Event struct {
	Type  string    `json:"type"`
	RunID string    `json:"run_id"`
	Op    string    `json:"op"`
	Time  time.Time `json:"time"`

	Area *gdmc.Box `json:"area,omitempty"`

	Seq       uint64 `json:"seq,omitempty"`
	Blocks    int    `json:"blocks,omitempty"`
	Changed   int    `json:"changed,omitempty"`
	Unchanged int    `json:"unchanged,omitempty"`
	Failed    int    `json:"failed,omitempty"`

	Stats *editor.Stats `json:"stats,omitempty"`
	Error string        `json:"error,omitempty"`
}

// RunStatus is the snapshot served by /v1/runs/current.
type RunStatus struct {
	RunID     string       `json:"run_id"`
	Op        string       `json:"op"`
	Area      gdmc.Box     `json:"area"`
	StartedAt time.Time    `json:"started_at"`
	Finished  bool         `json:"finished"`
	Error     string       `json:"error,omitempty"`
	Stats     editor.Stats `json:"stats"`
}

type Server struct {
	log *zap.Logger
	now func() time.Time

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64

	mu      sync.Mutex
	subs    map[uint64]chan []byte
	current *RunStatus
}

func NewServer(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		log: logger,
		now: time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		subs: make(map[uint64]chan []byte),
	}
}

func (s *Server) RunStarted(runID, op string, area gdmc.Box) {
	now := s.now()
	s.mu.Lock()
	s.current = &RunStatus{RunID: runID, Op: op, Area: area, StartedAt: now}
	s.mu.Unlock()
	s.publish(Event{Type: EventRunStarted, RunID: runID, Op: op, Time: now, Area: &area})
}

// ObserveBatch implements editor.Observer.
func (s *Server) ObserveBatch(br editor.BatchResult) error {
	s.mu.Lock()
	if s.current != nil && s.current.RunID == br.RunID {
		st := &s.current.Stats
		st.Batches++
		st.Placed += len(br.Blocks)
		st.Changed += br.Result.Changed
		st.Unchanged += br.Result.Unchanged
		st.Failed += br.Result.Failed
	}
	s.mu.Unlock()
	s.publish(Event{
		Type:      EventBatch,
		RunID:     br.RunID,
		Op:        br.Op,
		Time:      s.now(),
		Seq:       br.Seq,
		Blocks:    len(br.Blocks),
		Changed:   br.Result.Changed,
		Unchanged: br.Result.Unchanged,
		Failed:    br.Result.Failed,
	})
	return nil
}

func (s *Server) RunFinished(runID string, stats editor.Stats, runErr error) {
	ev := Event{Type: EventRunFinished, RunID: runID, Time: s.now(), Stats: &stats}
	if runErr != nil {
		ev.Error = runErr.Error()
	}
	s.mu.Lock()
	if s.current != nil && s.current.RunID == runID {
		ev.Op = s.current.Op
		s.current.Finished = true
		s.current.Stats = stats
		s.current.Error = ev.Error
	}
	s.mu.Unlock()
	s.publish(ev)
}

// Current returns the latest run, if any.
func (s *Server) Current() (RunStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return RunStatus{}, false
	}
	return *s.current, true
}

func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// publish fans ev out without blocking; a full subscriber misses the event.
func (s *Server) publish(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		s.log.Error("marshal event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- b:
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *Server) subscribe() (uint64, chan []byte) {
	id := s.nextID.Add(1)
	ch := make(chan []byte, 256)
	s.mu.Lock()
	s.subs[id] = ch
	s.mu.Unlock()
	return id, ch
}

func (s *Server) unsubscribe(id uint64) {
	s.mu.Lock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()
}

// Close ends every subscription.
func (s *Server) Close() {
	s.mu.Lock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/progress", s.progressHandler)
	mux.HandleFunc("/v1/runs/current", s.currentHandler)
	return mux
}

func (s *Server) currentHandler(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	cur, ok := s.Current()
	if !ok {
		http.Error(rw, "no run", http.StatusNotFound)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(cur)
}

func (s *Server) progressHandler(rw http.ResponseWriter, r *http.Request) {
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}

	// Subscribe before the handshake completes so no event after it is missed.
	id, out := s.subscribe()
	defer s.unsubscribe(id)

	conn, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.log.Debug("progress subscriber joined", zap.Uint64("id", id), zap.String("remote", r.RemoteAddr))

	// The feed is one-way; reads only detect the peer going away.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-readerDone:
			return
		case b, ok := <-out:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		s.Close()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	s.log.Info("progress feed listening", zap.String("addr", ln.Addr().String()))
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		return nil
	}
	return err
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
