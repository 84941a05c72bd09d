package store

import (
	"context"
	"testing"
	"time"

	"github.com/sparedes88/projector/pkg/broadcast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreSuite checks the behaviour every Store backend must share
func runStoreSuite(t *testing.T, newStore func(t *testing.T) broadcast.Store) {
	t.Run("CreateAndGetScreen", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		created, err := s.CreateScreen(ctx, newScreen("tenant-1", "CALM-DOVE-01", "Main"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), created.Version)
		assert.False(t, created.UpdatedAt.IsZero())

		got, err := s.GetScreen(ctx, "tenant-1", "CALM-DOVE-01")
		require.NoError(t, err)
		assert.Equal(t, "Main", got.Name)
		assert.Equal(t, broadcast.DisplayEmpty, got.Display.Kind)
	})

	t.Run("CreateScreenDuplicateID", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.CreateScreen(ctx, newScreen("tenant-1", "CALM-DOVE-01", "Main"))
		require.NoError(t, err)
		_, err = s.CreateScreen(ctx, newScreen("tenant-1", "CALM-DOVE-01", "Other"))
		assert.ErrorIs(t, err, broadcast.ErrExists)

		// Same id in another tenant is fine.
		_, err = s.CreateScreen(ctx, newScreen("tenant-2", "CALM-DOVE-01", "Main"))
		assert.NoError(t, err)
	})

	t.Run("GetScreenNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetScreen(context.Background(), "tenant-1", "NOPE-NOPE-00")
		assert.ErrorIs(t, err, broadcast.ErrNotFound)
	})

	t.Run("ListScreensScopedToTenant", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.CreateScreen(ctx, newScreen("tenant-1", "A-A-01", "Side"))
		require.NoError(t, err)
		_, err = s.CreateScreen(ctx, newScreen("tenant-1", "B-B-02", "Main"))
		require.NoError(t, err)
		_, err = s.CreateScreen(ctx, newScreen("tenant-2", "C-C-03", "Elsewhere"))
		require.NoError(t, err)

		screens, err := s.ListScreens(ctx, "tenant-1")
		require.NoError(t, err)
		require.Len(t, screens, 2)
		assert.Equal(t, "Main", screens[0].Name)
		assert.Equal(t, "Side", screens[1].Name)
	})

	t.Run("UpdateBumpsVersion", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.CreateScreen(ctx, newScreen("tenant-1", "A-A-01", "Main"))
		require.NoError(t, err)

		updated, err := s.UpdateScreen(ctx, "tenant-1", "A-A-01", 0, func(sc *broadcast.Screen) error {
			sc.Display = broadcast.SongState("song-1", 2)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), updated.Version)
		require.NotNil(t, updated.Display.Song)
		assert.Equal(t, 2, updated.Display.Song.VerseIndex)
	})

	t.Run("UpdateStaleVersionConflicts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.CreateScreen(ctx, newScreen("tenant-1", "A-A-01", "Main"))
		require.NoError(t, err)

		_, err = s.UpdateScreen(ctx, "tenant-1", "A-A-01", 1, func(sc *broadcast.Screen) error { return nil })
		require.NoError(t, err)

		_, err = s.UpdateScreen(ctx, "tenant-1", "A-A-01", 1, func(sc *broadcast.Screen) error { return nil })
		assert.ErrorIs(t, err, broadcast.ErrConflict)
	})

	t.Run("UpdateCallbackErrorLeavesRecord", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.CreateScreen(ctx, newScreen("tenant-1", "A-A-01", "Main"))
		require.NoError(t, err)

		_, err = s.UpdateScreen(ctx, "tenant-1", "A-A-01", 0, func(sc *broadcast.Screen) error {
			sc.Name = "changed"
			return broadcast.ErrNoSong
		})
		assert.ErrorIs(t, err, broadcast.ErrNoSong)

		got, err := s.GetScreen(ctx, "tenant-1", "A-A-01")
		require.NoError(t, err)
		assert.Equal(t, "Main", got.Name)
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("WatchDeliversCurrentThenChanges", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		_, err := s.CreateScreen(ctx, newScreen("tenant-1", "A-A-01", "Main"))
		require.NoError(t, err)

		updates, err := s.WatchScreen(ctx, "tenant-1", "A-A-01")
		require.NoError(t, err)

		first := receive(t, updates)
		assert.Equal(t, int64(1), first.Version)

		_, err = s.UpdateScreen(ctx, "tenant-1", "A-A-01", 0, func(sc *broadcast.Screen) error {
			sc.Display = broadcast.VerseState("John 3:16", "KJV", "For God so loved the world")
			return nil
		})
		require.NoError(t, err)

		second := receive(t, updates)
		assert.Equal(t, int64(2), second.Version)
		assert.Equal(t, broadcast.DisplayVerse, second.Display.Kind)
	})

	t.Run("WatchClosesOnCancel", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		_, err := s.CreateScreen(context.Background(), newScreen("tenant-1", "A-A-01", "Main"))
		require.NoError(t, err)

		updates, err := s.WatchScreen(ctx, "tenant-1", "A-A-01")
		require.NoError(t, err)
		receive(t, updates)
		cancel()

		require.Eventually(t, func() bool {
			select {
			case _, ok := <-updates:
				return !ok
			default:
				return false
			}
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("WatchMissingScreen", func(t *testing.T) {
		s := newStore(t)
		_, err := s.WatchScreen(context.Background(), "tenant-1", "NOPE-NOPE-00")
		assert.ErrorIs(t, err, broadcast.ErrNotFound)
	})

	t.Run("DeleteScreen", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.CreateScreen(ctx, newScreen("tenant-1", "A-A-01", "Main"))
		require.NoError(t, err)

		require.NoError(t, s.DeleteScreen(ctx, "tenant-1", "A-A-01"))
		_, err = s.GetScreen(ctx, "tenant-1", "A-A-01")
		assert.ErrorIs(t, err, broadcast.ErrNotFound)
		assert.ErrorIs(t, s.DeleteScreen(ctx, "tenant-1", "A-A-01"), broadcast.ErrNotFound)

		screens, err := s.ListScreens(ctx, "tenant-1")
		require.NoError(t, err)
		assert.Empty(t, screens)
	})

	t.Run("DeleteScreenResetsSignals", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		entry := broadcast.SignalEntry{Session: "sess", Sender: "control", Kind: broadcast.SignalICE, Payload: "cand"}

		_, err := s.CreateScreen(ctx, newScreen("tenant-1", "A-A-01", "Main"))
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			_, err = s.AppendSignal(ctx, "tenant-1", "A-A-01", entry)
			require.NoError(t, err)
		}

		require.NoError(t, s.DeleteScreen(ctx, "tenant-1", "A-A-01"))
		_, err = s.CreateScreen(ctx, newScreen("tenant-1", "A-A-01", "Main"))
		require.NoError(t, err)

		signals, err := s.Signals(ctx, "tenant-1", "A-A-01", 0)
		require.NoError(t, err)
		assert.Empty(t, signals)

		appended, err := s.AppendSignal(ctx, "tenant-1", "A-A-01", entry)
		require.NoError(t, err)
		assert.Equal(t, int64(1), appended.Seq)
	})

	t.Run("SongLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		song, err := s.CreateSong(ctx, broadcast.Song{
			Tenant: "tenant-1",
			Title:  "Amazing Grace",
			Verses: []broadcast.Verse{"Amazing grace", "Twas grace", "Through many dangers"},
		})
		require.NoError(t, err)
		require.NotEmpty(t, song.ID)

		got, err := s.GetSong(ctx, "tenant-1", song.ID)
		require.NoError(t, err)
		assert.Len(t, got.Verses, 3)

		got.Title = "Amazing Grace (My Chains Are Gone)"
		_, err = s.UpdateSong(ctx, got)
		require.NoError(t, err)

		songs, err := s.ListSongs(ctx, "tenant-1")
		require.NoError(t, err)
		require.Len(t, songs, 1)
		assert.Equal(t, "Amazing Grace (My Chains Are Gone)", songs[0].Title)

		require.NoError(t, s.DeleteSong(ctx, "tenant-1", song.ID))
		_, err = s.GetSong(ctx, "tenant-1", song.ID)
		assert.ErrorIs(t, err, broadcast.ErrNotFound)
	})

	t.Run("UpdateMissingSong", func(t *testing.T) {
		s := newStore(t)
		_, err := s.UpdateSong(context.Background(), broadcast.Song{Tenant: "tenant-1", ID: "missing"})
		assert.ErrorIs(t, err, broadcast.ErrNotFound)
	})

	t.Run("SignalLogKeepsEveryEntry", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, c := range []string{"cand-1", "cand-2", "cand-3"} {
			_, err := s.AppendSignal(ctx, "tenant-1", "A-A-01", broadcast.SignalEntry{
				Session: "sess", Sender: "control", Kind: broadcast.SignalICE, Payload: c,
			})
			require.NoError(t, err)
		}

		all, err := s.Signals(ctx, "tenant-1", "A-A-01", 0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "cand-1", all[0].Payload)
		assert.Equal(t, "cand-3", all[2].Payload)
		assert.Less(t, all[0].Seq, all[1].Seq)

		tail, err := s.Signals(ctx, "tenant-1", "A-A-01", all[0].Seq)
		require.NoError(t, err)
		assert.Len(t, tail, 2)
	})

	t.Run("ClearSignalsKeepsSequenceMonotonic", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, err := s.AppendSignal(ctx, "tenant-1", "A-A-01", broadcast.SignalEntry{Kind: broadcast.SignalOffer})
		require.NoError(t, err)
		require.NoError(t, s.ClearSignals(ctx, "tenant-1", "A-A-01"))

		empty, err := s.Signals(ctx, "tenant-1", "A-A-01", 0)
		require.NoError(t, err)
		assert.Empty(t, empty)

		second, err := s.AppendSignal(ctx, "tenant-1", "A-A-01", broadcast.SignalEntry{Kind: broadcast.SignalOffer})
		require.NoError(t, err)
		assert.Greater(t, second.Seq, first.Seq)
	})
}

func newScreen(tenant, id, name string) broadcast.Screen {
	return broadcast.Screen{
		Tenant:  tenant,
		ID:      id,
		Name:    name,
		Display: broadcast.EmptyDisplay(),
		Style:   broadcast.DefaultStyle(),
	}
}

func receive(t *testing.T, ch <-chan broadcast.Screen) broadcast.Screen {
	t.Helper()
	select {
	case s, ok := <-ch:
		require.True(t, ok, "watch channel closed")
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for screen update")
		return broadcast.Screen{}
	}
}
