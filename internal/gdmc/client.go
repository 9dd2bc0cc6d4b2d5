package gdmc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultHost    = "http://localhost:9000"
	DefaultTimeout = 30 * time.Second
)

// Client talks to the GDMC HTTP interface exposed by a running world.
type Client struct {
	base       string
	httpClient *http.Client
	log        *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

func New(host string, opts ...Option) (*Client, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		host = DefaultHost
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse host: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid host: %s", host)
	}
	c := &Client{
		base:       strings.TrimRight(u.String(), "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Host() string { return c.base }

// CheckConnection fails with ErrInterfaceConnection when nothing answers.
func (c *Client) CheckConnection(ctx context.Context) error {
	_, err := c.Version(ctx)
	if err == nil || errors.Is(err, ErrInterfaceConnection) {
		return err
	}
	var se *StatusError
	if errors.As(err, &se) {
		// Something speaks HTTP there; older interfaces have no /version.
		return nil
	}
	return err
}

func (c *Client) Version(ctx context.Context) (string, error) {
	body, err := c.do(ctx, http.MethodGet, "/version", nil, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

type buildAreaResponse struct {
	XFrom int `json:"xFrom"`
	YFrom int `json:"yFrom"`
	ZFrom int `json:"zFrom"`
	XTo   int `json:"xTo"`
	YTo   int `json:"yTo"`
	ZTo   int `json:"zTo"`
}

// BuildArea returns the area set in-game with /setbuildarea.
func (c *Client) BuildArea(ctx context.Context) (Box, error) {
	body, err := c.do(ctx, http.MethodGet, "/buildarea", nil, nil)
	if err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return Box{}, fmt.Errorf("%w: %v", ErrBuildAreaNotSet, err)
		}
		return Box{}, err
	}
	var ba buildAreaResponse
	if err := json.Unmarshal(body, &ba); err != nil {
		return Box{}, fmt.Errorf("decode build area: %w", err)
	}
	return BoxBetween(V(ba.XFrom, ba.YFrom, ba.ZFrom), V(ba.XTo, ba.YTo, ba.ZTo)), nil
}

type wireBlock struct {
	X     int               `json:"x"`
	Y     int               `json:"y"`
	Z     int               `json:"z"`
	ID    string            `json:"id"`
	State map[string]string `json:"state,omitempty"`
	Data  string            `json:"data,omitempty"`
}

type wireStatus struct {
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
}

// GetBlocks returns every block inside box with its states and data tag.
func (c *Client) GetBlocks(ctx context.Context, box Box) ([]PlacedBlock, error) {
	if box.Empty() {
		return nil, nil
	}
	q := url.Values{}
	setVec(q, box.Offset)
	q.Set("dx", strconv.Itoa(box.Size.X))
	q.Set("dy", strconv.Itoa(box.Size.Y))
	q.Set("dz", strconv.Itoa(box.Size.Z))
	q.Set("includeState", "true")
	q.Set("includeData", "true")
	body, err := c.do(ctx, http.MethodGet, "/blocks", q, nil)
	if err != nil {
		return nil, err
	}
	var wire []wireBlock
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode blocks: %w", err)
	}
	out := make([]PlacedBlock, 0, len(wire))
	for _, w := range wire {
		out = append(out, PlacedBlock{
			Pos:   V(w.X, w.Y, w.Z),
			Block: Block{ID: normalizeID(w.ID), States: w.State, Data: w.Data},
		})
	}
	return out, nil
}

func (c *Client) GetBlock(ctx context.Context, pos Vec3) (Block, error) {
	blocks, err := c.GetBlocks(ctx, Box{Offset: pos, Size: V(1, 1, 1)})
	if err != nil {
		return Block{}, err
	}
	for _, b := range blocks {
		if b.Pos == pos {
			return b.Block, nil
		}
	}
	if len(blocks) == 1 {
		return blocks[0].Block, nil
	}
	return Air, nil
}

type PlaceOptions struct {
	DoBlockUpdates bool
	SpawnDrops     bool
}

// Outcome is the interface's verdict for one placed block.
type Outcome struct {
	Changed bool
	Err     string
}

type PlaceResult struct {
	Changed   int
	Unchanged int
	Failed    int
	Outcomes  []Outcome
}

// PlaceBlocks sends blocks in one request using absolute coordinates.
func (c *Client) PlaceBlocks(ctx context.Context, blocks []PlacedBlock, opts PlaceOptions) (PlaceResult, error) {
	var res PlaceResult
	if len(blocks) == 0 {
		return res, nil
	}
	wire := make([]wireBlock, 0, len(blocks))
	for _, b := range blocks {
		wire = append(wire, wireBlock{
			X: b.Pos.X, Y: b.Pos.Y, Z: b.Pos.Z,
			ID:    b.Block.ID,
			State: b.Block.States,
			Data:  b.Block.Data,
		})
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		return res, err
	}
	q := url.Values{}
	q.Set("doBlockUpdates", strconv.FormatBool(opts.DoBlockUpdates))
	q.Set("spawnDrops", strconv.FormatBool(opts.SpawnDrops))
	body, err := c.do(ctx, http.MethodPut, "/blocks", q, payload)
	if err != nil {
		return res, err
	}
	var statuses []wireStatus
	if err := json.Unmarshal(body, &statuses); err != nil {
		return res, fmt.Errorf("decode place response: %w", err)
	}
	if len(statuses) != len(blocks) {
		return res, fmt.Errorf("place response has %d entries for %d blocks", len(statuses), len(blocks))
	}
	res.Outcomes = make([]Outcome, len(statuses))
	for i, st := range statuses {
		switch {
		case st.Status == 1:
			res.Changed++
			res.Outcomes[i] = Outcome{Changed: true}
		case st.Message != "":
			res.Failed++
			res.Outcomes[i] = Outcome{Err: st.Message}
		default:
			res.Unchanged++
		}
	}
	return res, nil
}

// Heightmap fetches a heightmap of the current build area. rect must be the
// build area's footprint; the response is checked against it.
func (c *Client) Heightmap(ctx context.Context, t HeightmapType, rect Rect) (*Heightmap, error) {
	q := url.Values{}
	q.Set("type", string(t))
	body, err := c.do(ctx, http.MethodGet, "/heightmap", q, nil)
	if err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrBuildAreaNotSet, err)
		}
		return nil, err
	}
	var values [][]int
	if err := json.Unmarshal(body, &values); err != nil {
		return nil, fmt.Errorf("decode heightmap %s: %w", t, err)
	}
	return NewHeightmap(t, rect, values)
}

type CommandResult struct {
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
}

// RunCommands executes server commands, one per line, without a leading slash.
func (c *Client) RunCommands(ctx context.Context, cmds ...string) ([]CommandResult, error) {
	if len(cmds) == 0 {
		return nil, nil
	}
	lines := make([]string, 0, len(cmds))
	for _, cmd := range cmds {
		lines = append(lines, strings.TrimPrefix(strings.TrimSpace(cmd), "/"))
	}
	body, err := c.do(ctx, http.MethodPost, "/commands", nil, []byte(strings.Join(lines, "\n")))
	if err != nil {
		return nil, err
	}
	var out []CommandResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode command results: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, payload []byte) ([]byte, error) {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w at %s: %v", ErrInterfaceConnection, c.base, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	c.log.Debug("interface request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(raw)),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: msg}
	}
	return raw, nil
}

func setVec(q url.Values, v Vec3) {
	q.Set("x", strconv.Itoa(v.X))
	q.Set("y", strconv.Itoa(v.Y))
	q.Set("z", strconv.Itoa(v.Z))
}
