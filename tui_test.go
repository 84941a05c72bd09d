package main

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sparedes88/projector/pkg/broadcast"
	"github.com/sparedes88/projector/pkg/mic"
	"github.com/sparedes88/projector/pkg/settings"
	sig "github.com/sparedes88/projector/pkg/signal"
	"github.com/sparedes88/projector/pkg/store"
)

// fakeControl records the commands the console sends
type fakeControl struct {
	mu     sync.Mutex
	calls  []string
	styles []broadcast.Style
	songs  []broadcast.Song
	frames chan broadcast.Frame
}

func newFakeControl() *fakeControl {
	return &fakeControl{
		frames: make(chan broadcast.Frame, 1),
		songs: []broadcast.Song{
			{ID: "s1", Title: "Amazing Grace", Verses: []broadcast.Verse{"one", "two"}},
			{ID: "s2", Title: "Be Thou My Vision", Verses: []broadcast.Verse{"one"}},
		},
	}
}

func (f *fakeControl) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeControl) Songs(ctx context.Context) ([]broadcast.Song, error) { return f.songs, nil }
func (f *fakeControl) SelectSong(ctx context.Context, songID string) error {
	f.record("select " + songID)
	return nil
}
func (f *fakeControl) Advance(ctx context.Context, dir broadcast.Direction) error {
	f.record("advance " + dir.String())
	return nil
}
func (f *fakeControl) ShowVerse(ctx context.Context, verse broadcast.VerseDisplay) error {
	f.record("verse " + verse.Reference)
	return nil
}
func (f *fakeControl) Clear(ctx context.Context) error {
	f.record("clear")
	return nil
}
func (f *fakeControl) ApplyStyle(ctx context.Context, style broadcast.Style) error {
	f.mu.Lock()
	f.styles = append(f.styles, style)
	f.mu.Unlock()
	f.record("style")
	return nil
}
func (f *fakeControl) EnableMic(ctx context.Context, offer broadcast.SessionDescription) (string, error) {
	return "", broadcast.ErrMicDisabled
}
func (f *fakeControl) PublishCandidate(ctx context.Context, session, candidate string) error {
	return nil
}
func (f *fakeControl) DisableMic(ctx context.Context) error {
	f.record("mic off")
	return nil
}
func (f *fakeControl) Frames() <-chan broadcast.Frame { return f.frames }
func (f *fakeControl) Close()                         {}

func (f *fakeControl) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func connectedModel(t *testing.T, ctrl *fakeControl) model {
	t.Helper()
	m := initialModel(Config{Tenant: "grace", NoMic: true}, settings.DefaultSettings(), zap.NewNop())
	sess := &session{ctrl: ctrl, screen: broadcast.Screen{Tenant: "grace", ID: "CALM-DOVE-07", Name: "Main"}}

	next, _ := m.Update(connectedMsg{sess: sess})
	m = next.(model)
	next, _ = m.Update(songsMsg{songs: ctrl.songs})
	m = next.(model)

	screen := sess.screen
	screen.Style = broadcast.DefaultStyle()
	next, _ = m.Update(frameMsg{sess: sess, frame: broadcast.Frame{Screen: screen}})
	return next.(model)
}

func press(t *testing.T, m model, key string) (model, tea.Msg) {
	t.Helper()
	var msg tea.KeyMsg
	switch key {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		msg = tea.KeyMsg{Type: tea.KeyDown}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	next, cmd := m.Update(msg)
	var out tea.Msg
	if cmd != nil {
		out = cmd()
	}
	return next.(model), out
}

func TestNavigationCommands(t *testing.T) {
	ctrl := newFakeControl()
	m := connectedModel(t, ctrl)

	m, _ = press(t, m, "down")
	assert.Equal(t, 1, m.cursor)
	m, _ = press(t, m, "down")
	assert.Equal(t, 1, m.cursor)

	m, out := press(t, m, "enter")
	assert.Equal(t, opDoneMsg{action: "Showing Be Thou My Vision"}, out)
	m, _ = press(t, m, "n")
	m, _ = press(t, m, "p")
	_, _ = press(t, m, "c")

	assert.Equal(t, []string{"select s2", "advance next", "advance prev", "clear"}, ctrl.snapshot())
}

func TestStyleDraftOnlyAppliedExplicitly(t *testing.T) {
	ctrl := newFakeControl()
	m := connectedModel(t, ctrl)

	m, _ = press(t, m, "b")
	m, _ = press(t, m, "+")
	m, _ = press(t, m, "B")
	assert.True(t, m.editor.Dirty())
	assert.Empty(t, ctrl.snapshot())

	draft := m.editor.Draft()
	assert.Equal(t, broadcast.BackgroundGradient, draft.Background.Kind)
	assert.Equal(t, broadcast.DefaultGradientFrom, draft.Background.From)
	assert.Equal(t, broadcast.DefaultFontSize+fontSizeStep, draft.Font.Size)
	assert.True(t, draft.Font.Bold)

	m, out := press(t, m, "a")
	assert.Equal(t, opDoneMsg{action: "Style applied"}, out)
	require.Len(t, ctrl.styles, 1)
	assert.Equal(t, draft, ctrl.styles[0])

	// The applied style comes back on the record and the draft is clean
	screen := m.frame.Screen
	screen.Style = draft
	next, _ := m.Update(frameMsg{sess: m.sess, frame: broadcast.Frame{Screen: screen}})
	m = next.(model)
	assert.False(t, m.editor.Dirty())
}

func TestStyleDiscardAndSizeClamp(t *testing.T) {
	m := connectedModel(t, newFakeControl())

	for i := 0; i < 40; i++ {
		m, _ = press(t, m, "+")
	}
	assert.Equal(t, broadcast.MaxFontSize, m.editor.Draft().Font.Size)
	for i := 0; i < 60; i++ {
		m, _ = press(t, m, "-")
	}
	assert.Equal(t, broadcast.MinFontSize, m.editor.Draft().Font.Size)

	m, _ = press(t, m, "d")
	assert.False(t, m.editor.Dirty())
	assert.Equal(t, broadcast.DefaultStyle(), m.editor.Draft())
}

func TestSavedDraftRestoredForSameScreen(t *testing.T) {
	draft := broadcast.SwitchBackground(broadcast.DefaultStyle(), broadcast.BackgroundImage)
	saved := settings.DefaultSettings()
	saved.Screen = "CALM-DOVE-07"
	saved.Draft = &draft

	m := initialModel(Config{Tenant: "grace", NoMic: true}, saved, zap.NewNop())
	m = m.applyFrame(broadcast.Frame{Screen: broadcast.Screen{ID: "CALM-DOVE-07", Style: broadcast.DefaultStyle()}})
	assert.True(t, m.editor.Dirty())
	assert.Equal(t, draft, m.editor.Draft())

	m = initialModel(Config{Tenant: "grace", NoMic: true}, saved, zap.NewNop())
	m = m.applyFrame(broadcast.Frame{Screen: broadcast.Screen{ID: "OTHER-CODE-01", Style: broadcast.DefaultStyle()}})
	assert.False(t, m.editor.Dirty())
}

func TestStaleFramesIgnored(t *testing.T) {
	m := connectedModel(t, newFakeControl())
	old := &session{ctrl: newFakeControl()}

	next, cmd := m.Update(frameMsg{sess: old, frame: broadcast.Frame{Screen: broadcast.Screen{Name: "Stale"}}})
	assert.Nil(t, cmd)
	assert.NotEqual(t, "Stale", next.(model).frame.Screen.Name)
}

func TestViewRendersLiveSlide(t *testing.T) {
	m := connectedModel(t, newFakeControl())
	frame := *m.frame
	frame.Slide = broadcast.Slide{Kind: broadcast.DisplaySong, Title: "Amazing Grace", Text: "one", Index: 0, Count: 2}
	m = m.applyFrame(frame)

	view := m.View()
	assert.Contains(t, view, "Amazing Grace")
	assert.Contains(t, view, "1/2")
	assert.Contains(t, view, "CALM-DOVE-07")
}

func TestMicSourceSelection(t *testing.T) {
	m := initialModel(Config{Tenant: "grace", SilentMic: true}, settings.DefaultSettings(), zap.NewNop())
	assert.IsType(t, &mic.SilenceSource{}, m.micSource())

	m = initialModel(Config{Tenant: "grace"}, settings.DefaultSettings(), zap.NewNop())
	assert.IsType(t, &mic.FallbackSource{}, m.micSource())
}

func TestViewShowsAudioPage(t *testing.T) {
	m := initialModel(Config{Tenant: "grace", SilentMic: true}, settings.DefaultSettings(), zap.NewNop())
	sess := &session{
		ctrl:      newFakeControl(),
		screen:    broadcast.Screen{Tenant: "grace", ID: "CALM-DOVE-07", Name: "Main"},
		viewerURL: "http://10.0.0.5:8080/grace/CALM-DOVE-07",
	}
	next, _ := m.Update(connectedMsg{sess: sess})
	m = next.(model)
	require.NotNil(t, m.mic)
	t.Cleanup(m.mic.Close)

	assert.Contains(t, m.View(), "http://10.0.0.5:8080/grace/CALM-DOVE-07?audio=1")
}

func TestConnectRemote(t *testing.T) {
	mem := store.NewMemory()
	syncer := broadcast.NewSynchronizer(mem, mem, mem, zap.NewNop())
	server := sig.NewServer(syncer, sig.Options{ControlKey: "s3cret", Logger: zap.NewNop()})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(server.Close)

	config := Config{ServerURL: ts.URL, Tenant: "grace", ScreenName: "Main", ControlKey: "s3cret"}

	sess, err := connectRemote(context.Background(), config, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "Main", sess.screen.Name)
	assert.Equal(t, ts.URL+"/grace/"+sess.screen.ID, sess.viewerURL)

	// Reopening by name reuses the screen, and the code resolves directly
	again, err := connectRemote(context.Background(), config, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, sess.screen.ID, again.screen.ID)
	again.Close()

	config.Screen = sess.screen.ID
	byCode, err := connectRemote(context.Background(), config, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, sess.screen.ID, byCode.screen.ID)
	byCode.Close()

	assert.NotNil(t, sess.done)
	sess.Close()

	_, err = connectRemote(context.Background(), Config{ServerURL: ts.URL, Tenant: "grace", ScreenName: "Main"}, zap.NewNop())
	assert.ErrorIs(t, err, sig.ErrUnauthorized)
}
