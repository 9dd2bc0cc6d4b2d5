package gdmc_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treehouse/internal/gdmc"
	"treehouse/internal/gdmc/gdmctest"
)

func newClient(t *testing.T, host string) *gdmc.Client {
	t.Helper()
	c, err := gdmc.New(host)
	require.NoError(t, err)
	return c
}

func TestClient_CheckConnectionUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	host := srv.URL
	srv.Close()

	err := newClient(t, host).CheckConnection(context.Background())
	require.ErrorIs(t, err, gdmc.ErrInterfaceConnection)
}

func TestClient_CheckConnectionWithoutVersionRoute(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	assert.NoError(t, newClient(t, srv.URL).CheckConnection(context.Background()))
}

func TestClient_BuildArea(t *testing.T) {
	fake := gdmctest.New()
	defer fake.Close()
	c := newClient(t, fake.URL())
	ctx := context.Background()

	_, err := c.BuildArea(ctx)
	require.ErrorIs(t, err, gdmc.ErrBuildAreaNotSet)

	want := gdmc.BoxBetween(gdmc.V(10, 60, -5), gdmc.V(73, 259, 58))
	fake.SetBuildArea(want)
	got, err := c.BuildArea(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, gdmc.V(64, 200, 64), got.Size)
}

func TestClient_PlaceAndGetBlocks(t *testing.T) {
	fake := gdmctest.New()
	defer fake.Close()
	fake.Set(gdmc.V(1, 2, 3), gdmc.NewBlock("stone"))
	fake.FailAt(gdmc.V(0, 0, 2), "out of bounds")
	c := newClient(t, fake.URL())
	ctx := context.Background()

	res, err := c.PlaceBlocks(ctx, []gdmc.PlacedBlock{
		{Pos: gdmc.V(0, 0, 0), Block: gdmc.MustParseBlock("ladder[facing=north]")},
		{Pos: gdmc.V(1, 2, 3), Block: gdmc.NewBlock("stone")},
		{Pos: gdmc.V(0, 0, 2), Block: gdmc.NewBlock("glass")},
	}, gdmc.PlaceOptions{DoBlockUpdates: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Changed)
	assert.Equal(t, 1, res.Unchanged)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, "out of bounds", res.Outcomes[2].Err)

	b, err := c.GetBlock(ctx, gdmc.V(0, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, "minecraft:ladder", b.ID)
	assert.Equal(t, "north", b.States["facing"])

	blocks, err := c.GetBlocks(ctx, gdmc.Box{Offset: gdmc.V(0, 0, 0), Size: gdmc.V(2, 3, 4)})
	require.NoError(t, err)
	assert.Len(t, blocks, 24)

	var put int
	for _, r := range fake.Requests() {
		if r.Method == http.MethodPut {
			put++
			assert.Contains(t, r.Query, "doBlockUpdates=true")
			assert.Contains(t, r.Query, "spawnDrops=false")
		}
	}
	assert.Equal(t, 1, put)
}

func TestClient_GetBlocksKeepsData(t *testing.T) {
	fake := gdmctest.New()
	defer fake.Close()
	chest := gdmc.MustParseBlock(`chest[facing=north]{Items:[{Slot:0b,id:"minecraft:diamond",Count:3b}]}`)
	fake.Set(gdmc.V(4, 64, 4), chest)
	c := newClient(t, fake.URL())

	blocks, err := c.GetBlocks(context.Background(), gdmc.Box{Offset: gdmc.V(4, 64, 4), Size: gdmc.V(1, 1, 1)})
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.True(t, chest.Equal(blocks[0].Block), "got %s", blocks[0].Block)
	assert.Equal(t, chest.Data, blocks[0].Block.Data)

	reqs := fake.Requests()
	require.NotEmpty(t, reqs)
	last := reqs[len(reqs)-1]
	assert.Equal(t, http.MethodGet, last.Method)
	assert.Contains(t, last.Query, "includeState=true")
	assert.Contains(t, last.Query, "includeData=true")
}

func TestClient_Heightmap(t *testing.T) {
	fake := gdmctest.New()
	defer fake.Close()
	area := gdmc.Box{Offset: gdmc.V(0, 0, 0), Size: gdmc.V(2, 100, 3)}
	fake.SetBuildArea(area)
	fake.Fill(gdmc.Box{Offset: gdmc.V(0, 0, 0), Size: gdmc.V(2, 64, 3)}, gdmc.NewBlock("dirt"))
	fake.Set(gdmc.V(1, 64, 2), gdmc.NewBlock("oak_leaves"))
	c := newClient(t, fake.URL())
	ctx := context.Background()

	surface, err := c.Heightmap(ctx, gdmc.WorldSurface, area.Rect())
	require.NoError(t, err)
	noLeaves, err := c.Heightmap(ctx, gdmc.MotionBlockingNoLeaves, area.Rect())
	require.NoError(t, err)

	assert.Equal(t, 65, surface.At(1, 2))
	assert.Equal(t, 64, noLeaves.At(1, 2))
	assert.Equal(t, 64, surface.At(0, 0))
	x, z := surface.Shape()
	assert.Equal(t, [2]int{2, 3}, [2]int{x, z})

	_, err = c.Heightmap(ctx, gdmc.WorldSurface, gdmc.Rect{Size: gdmc.Vec2{X: 5, Z: 5}})
	assert.Error(t, err)
}

func TestClient_RunCommands(t *testing.T) {
	fake := gdmctest.New()
	defer fake.Close()

	res, err := newClient(t, fake.URL()).RunCommands(context.Background(), "/say hi", "time set day")
	require.NoError(t, err)
	assert.Len(t, res, 2)
	assert.Equal(t, []string{"say hi", "time set day"}, fake.Commands())
}

func TestClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL).BuildArea(context.Background())
	require.Error(t, err)
	assert.True(t, gdmc.IsStatus(err, http.StatusInternalServerError))
	assert.NotErrorIs(t, err, gdmc.ErrBuildAreaNotSet)
}
