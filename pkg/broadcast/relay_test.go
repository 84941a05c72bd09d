package broadcast_test

import (
	"context"
	"testing"

	"github.com/sparedes88/projector/pkg/broadcast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOffer = broadcast.SessionDescription{Type: "offer", SDP: "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\n"}

func enableMic(t *testing.T, s *broadcast.Synchronizer) broadcast.Screen {
	t.Helper()
	ctx := context.Background()
	screen, err := s.CreateScreen(ctx, tenant, "Main")
	require.NoError(t, err)
	screen, err = s.EnableMic(ctx, tenant, screen.ID, "control", testOffer)
	require.NoError(t, err)
	return screen
}

func TestEnableMic(t *testing.T) {
	s := newSync(t)
	screen := enableMic(t, s)

	assert.True(t, screen.Mic.Enabled)
	assert.NotEmpty(t, screen.Mic.Session)
	require.NotNil(t, screen.Mic.Offer)
	assert.Equal(t, testOffer.SDP, screen.Mic.Offer.SDP)
	assert.Nil(t, screen.Mic.Answer)

	entries, err := s.Signals(context.Background(), tenant, screen.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, broadcast.SignalOffer, entries[0].Kind)
	assert.Equal(t, screen.Mic.Session, entries[0].Session)
}

func TestEnableMic_RequiresSDP(t *testing.T) {
	s := newSync(t)
	ctx := context.Background()
	screen, err := s.CreateScreen(ctx, tenant, "Main")
	require.NoError(t, err)

	_, err = s.EnableMic(ctx, tenant, screen.ID, "control", broadcast.SessionDescription{})
	assert.ErrorIs(t, err, broadcast.ErrInvalid)
}

func TestPublishCandidate_RecordKeepsLastLogKeepsAll(t *testing.T) {
	s := newSync(t)
	ctx := context.Background()
	screen := enableMic(t, s)
	session := screen.Mic.Session

	for _, c := range []string{"candidate:1", "candidate:2", "candidate:3"} {
		var err error
		screen, err = s.PublishCandidate(ctx, tenant, screen.ID, session, "control", c)
		require.NoError(t, err)
	}
	assert.Equal(t, "candidate:3", screen.Mic.ICECandidate)

	entries, err := s.Signals(ctx, tenant, screen.ID, 0)
	require.NoError(t, err)
	var candidates []string
	for _, e := range entries {
		if e.Kind == broadcast.SignalICE {
			candidates = append(candidates, e.Payload)
		}
	}
	assert.Equal(t, []string{"candidate:1", "candidate:2", "candidate:3"}, candidates)
}

func TestPublishAnswer(t *testing.T) {
	s := newSync(t)
	ctx := context.Background()
	screen := enableMic(t, s)

	screen, err := s.PublishAnswer(ctx, tenant, screen.ID, screen.Mic.Session, "viewer",
		broadcast.SessionDescription{SDP: "v=0 answer"})
	require.NoError(t, err)
	require.NotNil(t, screen.Mic.Answer)
	assert.Equal(t, "answer", screen.Mic.Answer.Type)
	// The offer is untouched.
	assert.Equal(t, testOffer.SDP, screen.Mic.Offer.SDP)
}

func TestPublish_WhileDisabled(t *testing.T) {
	s := newSync(t)
	ctx := context.Background()
	screen, err := s.CreateScreen(ctx, tenant, "Main")
	require.NoError(t, err)

	_, err = s.PublishCandidate(ctx, tenant, screen.ID, "", "control", "candidate:1")
	assert.ErrorIs(t, err, broadcast.ErrMicDisabled)

	_, err = s.PublishAnswer(ctx, tenant, screen.ID, "", "viewer", broadcast.SessionDescription{SDP: "x"})
	assert.ErrorIs(t, err, broadcast.ErrMicDisabled)
}

func TestPublish_StaleSession(t *testing.T) {
	s := newSync(t)
	ctx := context.Background()
	screen := enableMic(t, s)
	old := screen.Mic.Session

	screen, err := s.EnableMic(ctx, tenant, screen.ID, "control", testOffer)
	require.NoError(t, err)
	require.NotEqual(t, old, screen.Mic.Session)

	_, err = s.PublishCandidate(ctx, tenant, screen.ID, old, "control", "candidate:late")
	assert.ErrorIs(t, err, broadcast.ErrSessionMismatch)

	// Re-enabling started a fresh log.
	entries, err := s.Signals(ctx, tenant, screen.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, screen.Mic.Session, entries[0].Session)
}

func TestDisableMic_ClearsEverything(t *testing.T) {
	s := newSync(t)
	ctx := context.Background()
	screen := enableMic(t, s)

	_, err := s.PublishCandidate(ctx, tenant, screen.ID, screen.Mic.Session, "control", "candidate:1")
	require.NoError(t, err)
	_, err = s.PublishAnswer(ctx, tenant, screen.ID, screen.Mic.Session, "viewer", broadcast.SessionDescription{SDP: "a"})
	require.NoError(t, err)

	screen, err = s.DisableMic(ctx, tenant, screen.ID)
	require.NoError(t, err)
	assert.Equal(t, broadcast.Mic{}, screen.Mic)

	entries, err := s.Signals(ctx, tenant, screen.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMicChangesLeaveDisplayAlone(t *testing.T) {
	s := newSync(t)
	ctx := context.Background()
	song := addSong(t, s, "Song", "a", "b")
	screen, err := s.CreateScreen(ctx, tenant, "Main")
	require.NoError(t, err)
	_, err = s.SelectSong(ctx, tenant, screen.ID, song.ID)
	require.NoError(t, err)

	screen, err = s.EnableMic(ctx, tenant, screen.ID, "control", testOffer)
	require.NoError(t, err)
	screen, err = s.DisableMic(ctx, tenant, screen.ID)
	require.NoError(t, err)

	require.NotNil(t, screen.Display.Song)
	assert.Equal(t, song.ID, screen.Display.Song.SongID)
}
