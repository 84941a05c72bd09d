package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sparedes88/projector/pkg/broadcast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client, *Redis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client, NewRedis(client, "test", zap.NewNop())
}

func TestRedis(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) broadcast.Store {
		_, _, s := setupTestRedis(t)
		return s
	})
}

func TestRedis_KeyLayout(t *testing.T) {
	mr, _, s := setupTestRedis(t)
	ctx := context.Background()

	_, err := s.CreateScreen(ctx, newScreen("tenant-1", "A-A-01", "Main"))
	require.NoError(t, err)

	raw, err := mr.Get("test:tenant:tenant-1:screen:A-A-01")
	require.NoError(t, err)

	var decoded broadcast.Screen
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.Equal(t, "Main", decoded.Name)

	members, err := mr.Members("test:tenant:tenant-1:screens")
	require.NoError(t, err)
	assert.Equal(t, []string{"A-A-01"}, members)
}

func TestRedis_SongsDecodeBothLyricShapes(t *testing.T) {
	mr, _, s := setupTestRedis(t)
	ctx := context.Background()

	// Written by an older client that stored one verse as an object.
	require.NoError(t, mr.Set("test:tenant:tenant-1:song:legacy",
		`{"tenant":"tenant-1","id":"legacy","title":"Old","verses":["line one",{"text":"line two"}]}`))
	_, err := mr.SAdd("test:tenant:tenant-1:songs", "legacy")
	require.NoError(t, err)

	song, err := s.GetSong(ctx, "tenant-1", "legacy")
	require.NoError(t, err)
	assert.Equal(t, []broadcast.Verse{"line one", "line two"}, song.Verses)
}

func TestRedis_ListSkipsDanglingIndex(t *testing.T) {
	mr, _, s := setupTestRedis(t)
	ctx := context.Background()

	_, err := s.CreateScreen(ctx, newScreen("tenant-1", "A-A-01", "Main"))
	require.NoError(t, err)
	_, err = mr.SAdd("test:tenant:tenant-1:screens", "GONE-GONE-00")
	require.NoError(t, err)

	screens, err := s.ListScreens(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Len(t, screens, 1)
}

func TestRedis_SignalsStoredAsStream(t *testing.T) {
	mr, _, s := setupTestRedis(t)
	ctx := context.Background()

	_, err := s.AppendSignal(ctx, "tenant-1", "A-A-01", broadcast.SignalEntry{
		Session: "sess", Sender: "control", Kind: broadcast.SignalICE, Payload: "cand",
	})
	require.NoError(t, err)

	entries, err := mr.Stream("test:tenant:tenant-1:screen:A-A-01:signals")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRedis_DeleteScreenDropsSignalLog(t *testing.T) {
	mr, _, s := setupTestRedis(t)
	ctx := context.Background()

	_, err := s.CreateScreen(ctx, newScreen("tenant-1", "A-A-01", "Main"))
	require.NoError(t, err)
	_, err = s.AppendSignal(ctx, "tenant-1", "A-A-01", broadcast.SignalEntry{
		Session: "sess", Sender: "control", Kind: broadcast.SignalICE, Payload: "cand",
	})
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:tenant:tenant-1:screen:A-A-01:signals:seq"))

	require.NoError(t, s.DeleteScreen(ctx, "tenant-1", "A-A-01"))
	assert.False(t, mr.Exists("test:tenant:tenant-1:screen:A-A-01:signals:seq"))
	assert.False(t, mr.Exists("test:tenant:tenant-1:screen:A-A-01:signals"))

	// Recreated under the same code, the sequence starts over
	_, err = s.CreateScreen(ctx, newScreen("tenant-1", "A-A-01", "Main"))
	require.NoError(t, err)
	entry, err := s.AppendSignal(ctx, "tenant-1", "A-A-01", broadcast.SignalEntry{
		Session: "sess", Sender: "control", Kind: broadcast.SignalICE, Payload: "cand",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Seq)
}
