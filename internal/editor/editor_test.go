package editor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"treehouse/internal/gdmc"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memBackend struct {
	mu      sync.Mutex
	world   map[gdmc.Vec3]gdmc.Block
	batches [][]gdmc.PlacedBlock
	reads   int
	failPut error
}

func newMemBackend() *memBackend {
	return &memBackend{world: map[gdmc.Vec3]gdmc.Block{}}
}

func (m *memBackend) GetBlocks(_ context.Context, box gdmc.Box) ([]gdmc.PlacedBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	var out []gdmc.PlacedBlock
	end := box.End()
	for x := box.Offset.X; x < end.X; x++ {
		for y := box.Offset.Y; y < end.Y; y++ {
			for z := box.Offset.Z; z < end.Z; z++ {
				p := gdmc.V(x, y, z)
				b, ok := m.world[p]
				if !ok {
					b = gdmc.Air
				}
				out = append(out, gdmc.PlacedBlock{Pos: p, Block: b})
			}
		}
	}
	return out, nil
}

func (m *memBackend) PlaceBlocks(_ context.Context, blocks []gdmc.PlacedBlock, _ gdmc.PlaceOptions) (gdmc.PlaceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut != nil {
		return gdmc.PlaceResult{}, m.failPut
	}
	m.batches = append(m.batches, append([]gdmc.PlacedBlock(nil), blocks...))
	var res gdmc.PlaceResult
	for _, b := range blocks {
		if prev, ok := m.world[b.Pos]; ok && prev.Equal(b.Block) {
			res.Unchanged++
			res.Outcomes = append(res.Outcomes, gdmc.Outcome{})
			continue
		}
		m.world[b.Pos] = b.Block
		res.Changed++
		res.Outcomes = append(res.Outcomes, gdmc.Outcome{Changed: true})
	}
	return res, nil
}

func (m *memBackend) placedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

var (
	stone  = gdmc.NewBlock("stone")
	glass  = gdmc.NewBlock("glass")
	oakLog = gdmc.NewBlock("oak_log")
)

func TestEditor_LastWriteWinsInBuffer(t *testing.T) {
	be := newMemBackend()
	ed := New(be, Options{}, nil)
	ctx := context.Background()

	require.NoError(t, ed.PlaceBlock(ctx, gdmc.V(0, 0, 0), stone))
	require.NoError(t, ed.PlaceBlock(ctx, gdmc.V(1, 0, 0), glass))
	require.NoError(t, ed.PlaceBlock(ctx, gdmc.V(0, 0, 0), oakLog))
	assert.Equal(t, 2, ed.Pending())

	require.NoError(t, ed.Flush(ctx))
	require.Len(t, be.batches, 1)
	assert.Equal(t, []gdmc.PlacedBlock{
		{Pos: gdmc.V(0, 0, 0), Block: oakLog},
		{Pos: gdmc.V(1, 0, 0), Block: glass},
	}, be.batches[0])
	assert.Equal(t, 0, ed.Pending())
}

func TestEditor_FlushesWhenBufferFull(t *testing.T) {
	be := newMemBackend()
	ed := New(be, Options{BufferLimit: 4, BatchSize: 2, Workers: 2}, nil)
	ctx := context.Background()

	for x := 0; x < 5; x++ {
		require.NoError(t, ed.PlaceBlock(ctx, gdmc.V(x, 0, 0), stone))
	}
	assert.Equal(t, 4, be.placedCount())
	assert.Len(t, be.batches, 2)
	assert.Equal(t, 1, ed.Pending())

	require.NoError(t, ed.Close(ctx))
	st := ed.Stats()
	assert.Equal(t, 5, st.Placed)
	assert.Equal(t, 5, st.Changed)
	assert.Equal(t, 3, st.Batches)
	assert.Equal(t, 2, st.Flushes)
}

func TestEditor_GetBlockSeesBuffer(t *testing.T) {
	be := newMemBackend()
	be.world[gdmc.V(2, 2, 2)] = stone
	ed := New(be, Options{}, nil)
	ctx := context.Background()

	b, err := ed.GetBlock(ctx, gdmc.V(2, 2, 2))
	require.NoError(t, err)
	assert.Equal(t, stone, b)

	require.NoError(t, ed.PlaceBlock(ctx, gdmc.V(2, 2, 2), gdmc.Air))
	b, err = ed.GetBlock(ctx, gdmc.V(2, 2, 2))
	require.NoError(t, err)
	assert.True(t, b.IsAir())
	assert.Equal(t, 1, be.reads)
}

func TestEditor_CapturePreviousForObservers(t *testing.T) {
	be := newMemBackend()
	be.world[gdmc.V(0, 64, 0)] = stone
	be.world[gdmc.V(40, 70, 40)] = oakLog
	ed := New(be, Options{RunID: "r1", Op: "build", CapturePrevious: true}, nil)
	ctx := context.Background()

	var got []BatchResult
	ed.AddObserver(ObserverFunc(func(br BatchResult) error {
		got = append(got, br)
		return nil
	}))

	require.NoError(t, ed.PlaceBlock(ctx, gdmc.V(0, 64, 0), glass))
	require.NoError(t, ed.PlaceBlock(ctx, gdmc.V(40, 70, 40), glass))
	require.NoError(t, ed.PlaceBlock(ctx, gdmc.V(1, 64, 0), glass))
	require.NoError(t, ed.Flush(ctx))

	require.Len(t, got, 1)
	br := got[0]
	assert.Equal(t, "r1", br.RunID)
	assert.Equal(t, uint64(1), br.Seq)
	require.Len(t, br.Previous, 3)
	assert.Equal(t, stone, br.Previous[0])
	assert.Equal(t, oakLog, br.Previous[1])
	assert.True(t, br.Previous[2].IsAir())
	// one read per chunk column, not one per block
	assert.Equal(t, 2, be.reads)
}

func TestEditor_BackendErrorSkipsObservers(t *testing.T) {
	be := newMemBackend()
	be.failPut = errors.New("interface down")
	ed := New(be, Options{BatchSize: 1, Workers: 3}, nil)
	ctx := context.Background()

	called := false
	ed.AddObserver(ObserverFunc(func(BatchResult) error {
		called = true
		return nil
	}))
	for x := 0; x < 3; x++ {
		require.NoError(t, ed.PlaceBlock(ctx, gdmc.V(x, 0, 0), stone))
	}
	err := ed.Flush(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, be.failPut)
	assert.False(t, called)
	assert.Equal(t, 0, ed.Stats().Placed)
}

func TestEditor_ConcurrentBatchesCoverEveryBlock(t *testing.T) {
	be := newMemBackend()
	ed := New(be, Options{BufferLimit: 1000, BatchSize: 7, Workers: 4}, nil)
	ctx := context.Background()

	for x := 0; x < 10; x++ {
		for z := 0; z < 10; z++ {
			require.NoError(t, ed.PlaceBlock(ctx, gdmc.V(x, 0, z), stone))
		}
	}
	require.NoError(t, ed.Flush(ctx))

	var seen []int
	for _, b := range be.batches {
		for _, pb := range b {
			seen = append(seen, pb.Pos.X*10+pb.Pos.Z)
		}
	}
	sort.Ints(seen)
	require.Len(t, seen, 100)
	for i, v := range seen {
		assert.Equal(t, i, v)
	}
	assert.Equal(t, 15, ed.Stats().Batches)
}
