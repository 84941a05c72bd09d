package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/sparedes88/projector/pkg/broadcast"
	"github.com/sparedes88/projector/pkg/logger"
	"github.com/sparedes88/projector/pkg/mic"
	"github.com/sparedes88/projector/pkg/settings"
	sig "github.com/sparedes88/projector/pkg/signal"
)

const (
	opTimeout      = 10 * time.Second
	micTimeout     = 15 * time.Second
	maxReconnects  = 10
	fontSizeStep   = 2
	songListHeight = 12
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	normalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("7"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	urlStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("13"))

	liveStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	keySepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	toggleActiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("10"))

	toggleInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("8"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1)

	dirtyBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("11")).
			Padding(0, 1)

	boxTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))
)

// Messages
type connectedMsg struct {
	sess *session
}

type connectErrMsg struct {
	err error
}

type disconnectedMsg struct {
	sess *session
}

type frameMsg struct {
	sess  *session
	frame broadcast.Frame
}

type songsMsg struct {
	songs []broadcast.Song
	err   error
}

type opDoneMsg struct {
	action string
	err    error
}

type micStateMsg struct {
	state mic.State
	err   error
}

// reconnectMsg schedules the next reconnection attempt
type reconnectMsg struct {
	attempt int
	delay   time.Duration
}

type reconnectFailedMsg struct {
	err error
}

type model struct {
	config Config
	saved  settings.ConsoleSettings
	logger *zap.Logger

	sess      *session
	connected bool

	songs  []broadcast.Song
	cursor int
	frame  *broadcast.Frame

	editor *broadcast.StyleEditor

	mic       *mic.Controller
	micEvents chan micStateMsg

	reconnecting bool
	status       string
	lastError    string
}

func initialModel(config Config, saved settings.ConsoleSettings, log *zap.Logger) model {
	return model{
		config:    config,
		saved:     saved,
		logger:    log,
		micEvents: make(chan micStateMsg, 16),
		status:    "Connecting...",
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.connect(), waitMic(m.micEvents))
}

func (m model) connect() tea.Cmd {
	config, log := m.config, m.logger
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()

		var sess *session
		var err error
		if config.ServeMode {
			sess, err = startEmbedded(ctx, config, log)
		} else {
			sess, err = connectRemote(ctx, config, log)
		}
		if err != nil {
			return connectErrMsg{err: err}
		}
		return connectedMsg{sess: sess}
	}
}

// waitFrame blocks until the session delivers a frame or drops
func waitFrame(sess *session) tea.Cmd {
	frames := sess.ctrl.Frames()
	done := sess.done
	return func() tea.Msg {
		select {
		case f := <-frames:
			return frameMsg{sess: sess, frame: f}
		case <-done:
			return disconnectedMsg{sess: sess}
		}
	}
}

func waitMic(events <-chan micStateMsg) tea.Cmd {
	return func() tea.Msg {
		return <-events
	}
}

func loadSongs(ctrl sig.Controller) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		songs, err := ctrl.Songs(ctx)
		return songsMsg{songs: songs, err: err}
	}
}

// run executes a control operation off the UI loop
func (m model) run(action string, fn func(ctx context.Context, ctrl sig.Controller) error) tea.Cmd {
	if m.sess == nil {
		return nil
	}
	ctrl := m.sess.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return opDoneMsg{action: action, err: fn(ctx, ctrl)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case connectedMsg:
		m.sess = msg.sess
		m.connected = true
		m.reconnecting = false
		m.lastError = ""
		m.config.Screen = msg.sess.screen.ID
		m.status = "Connected"
		m.logger.Info("connected",
			zap.String("tenant", m.config.Tenant),
			zap.String("screen", msg.sess.screen.ID),
			zap.Bool("embedded", !msg.sess.remote))

		if !m.config.NoMic {
			m.mic = m.newMic(msg.sess.ctrl)
		}
		return m, tea.Batch(waitFrame(msg.sess), loadSongs(msg.sess.ctrl))

	case connectErrMsg:
		m.lastError = msg.err.Error()
		m.logger.Error("connect failed", zap.Error(msg.err))
		if m.config.ServeMode || errors.Is(msg.err, sig.ErrUnauthorized) {
			m.status = "Not connected"
			return m, nil
		}
		m.reconnecting = true
		m.status = "Reconnecting..."
		return m, m.attemptReconnect(1, time.Second)

	case disconnectedMsg:
		if msg.sess != m.sess {
			return m, nil
		}
		m.logger.Warn("connection lost")
		m.dropSession()
		m.reconnecting = true
		m.status = "Connection lost, reconnecting..."
		return m, m.attemptReconnect(1, time.Second)

	case reconnectMsg:
		m.status = fmt.Sprintf("Reconnecting (attempt %d)...", msg.attempt)
		return m, m.attemptReconnect(msg.attempt, msg.delay)

	case reconnectFailedMsg:
		m.reconnecting = false
		m.status = "Not connected"
		m.lastError = msg.err.Error()
		return m, nil

	case frameMsg:
		if msg.sess != m.sess {
			return m, nil
		}
		return m.applyFrame(msg.frame), waitFrame(msg.sess)

	case songsMsg:
		if msg.err != nil {
			m.lastError = "songs: " + msg.err.Error()
			return m, nil
		}
		m.songs = msg.songs
		if m.cursor >= len(m.songs) {
			m.cursor = max(len(m.songs)-1, 0)
		}
		return m, nil

	case opDoneMsg:
		if msg.err != nil {
			m.lastError = fmt.Sprintf("%s: %v", msg.action, msg.err)
			m.logger.Warn("operation failed", zap.String("action", msg.action), zap.Error(msg.err))
		} else {
			m.lastError = ""
			m.status = msg.action
		}
		return m, nil

	case micStateMsg:
		if msg.err != nil {
			m.lastError = "mic: " + msg.err.Error()
		}
		return m, waitMic(m.micEvents)
	}

	return m, nil
}

// applyFrame records the live state and feeds the mic handshake
func (m model) applyFrame(f broadcast.Frame) model {
	m.frame = &f

	if m.editor == nil {
		m.editor = broadcast.NewStyleEditor(f.Screen.Style)
		if m.saved.Draft != nil && m.saved.Screen == f.Screen.ID {
			draft := *m.saved.Draft
			m.editor.Edit(func(s *broadcast.Style) { *s = draft })
		}
	} else {
		m.editor.SetLive(f.Screen.Style)
	}

	if m.mic != nil {
		if err := m.mic.Observe(f.Screen.Mic); err != nil {
			m.lastError = "mic: " + err.Error()
			m.logger.Warn("apply mic answer", zap.Error(err))
		}
	}
	return m
}

// micSource captures the default microphone, sending silence when the
// host has none or --silent-mic is set
func (m model) micSource() mic.AudioSource {
	if m.config.SilentMic {
		return mic.NewSilenceSource()
	}
	return mic.NewFallbackSource(mic.NewDeviceSource(mic.DefaultBitrate), mic.NewSilenceSource(), m.logger.Named("mic"))
}

func (m model) newMic(signaler mic.Signaler) *mic.Controller {
	c := mic.NewController(signaler, m.micSource(), mic.Options{
		ICE: mic.ICEConfig{
			TURNServer: m.config.TURNServer,
			TURNUser:   m.config.TURNUser,
			TURNPass:   m.config.TURNPass,
			ForceRelay: m.config.ForceRelay,
		},
		Logger: m.logger.Named("mic"),
	})
	events := m.micEvents
	c.OnStateChange(func(s mic.State, err error) {
		select {
		case events <- micStateMsg{state: s, err: err}:
		default:
		}
	})
	return c
}

// dropSession releases the current session and its microphone
func (m *model) dropSession() {
	if m.mic != nil {
		m.mic.Close()
		m.mic = nil
	}
	if m.sess != nil {
		m.sess.Close()
		m.sess = nil
	}
	m.connected = false
}

func (m model) attemptReconnect(attempt int, delay time.Duration) tea.Cmd {
	config, log := m.config, m.logger
	return func() tea.Msg {
		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		sess, err := connectRemote(ctx, config, log)
		if err == nil {
			return connectedMsg{sess: sess}
		}
		log.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))

		if errors.Is(err, sig.ErrUnauthorized) {
			return reconnectFailedMsg{err: err}
		}
		if attempt >= maxReconnects {
			return reconnectFailedMsg{err: fmt.Errorf("failed to reconnect after %d attempts: %w", attempt, err)}
		}

		// Exponential backoff
		next := delay * 2
		if next > 30*time.Second {
			next = 30 * time.Second
		}
		return reconnectMsg{attempt: attempt + 1, delay: next}
	}
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "q", "ctrl+c":
		return m, tea.Quit
	}

	if !m.connected {
		return m, nil
	}

	switch key {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.songs)-1 {
			m.cursor++
		}
	case "enter":
		if m.cursor >= len(m.songs) {
			return m, nil
		}
		song := m.songs[m.cursor]
		return m, m.run("Showing "+song.Title, func(ctx context.Context, ctrl sig.Controller) error {
			return ctrl.SelectSong(ctx, song.ID)
		})
	case "n":
		return m, m.run("Next verse", func(ctx context.Context, ctrl sig.Controller) error {
			return ctrl.Advance(ctx, broadcast.Next)
		})
	case "p":
		return m, m.run("Previous verse", func(ctx context.Context, ctrl sig.Controller) error {
			return ctrl.Advance(ctx, broadcast.Prev)
		})
	case "c":
		return m, m.run("Cleared", func(ctx context.Context, ctrl sig.Controller) error {
			return ctrl.Clear(ctx)
		})
	case "r":
		return m, loadSongs(m.sess.ctrl)
	case "m":
		return m.toggleMic()
	}

	if m.editor != nil {
		return m.handleStyleKey(key)
	}
	return m, nil
}

// handleStyleKey edits the local draft; only "a" writes it to the screen
func (m model) handleStyleKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "b":
		m.editor.SwitchBackground(broadcast.NextBackgroundKind(m.editor.Draft().Background.Kind))
	case "+", "=":
		m.editor.Edit(func(s *broadcast.Style) {
			s.Font.Size = min(s.Font.Size+fontSizeStep, broadcast.MaxFontSize)
		})
	case "-":
		m.editor.Edit(func(s *broadcast.Style) {
			s.Font.Size = max(s.Font.Size-fontSizeStep, broadcast.MinFontSize)
		})
	case "B":
		m.editor.Edit(func(s *broadcast.Style) { s.Font.Bold = !s.Font.Bold })
	case "I":
		m.editor.Edit(func(s *broadcast.Style) { s.Font.Italic = !s.Font.Italic })
	case "U":
		m.editor.Edit(func(s *broadcast.Style) { s.Font.Uppercase = !s.Font.Uppercase })
	case "S":
		m.editor.Edit(func(s *broadcast.Style) { s.Font.Shadow = !s.Font.Shadow })
	case "d":
		m.editor.Discard()
	case "a":
		if !m.editor.Dirty() {
			return m, nil
		}
		draft := m.editor.Draft()
		return m, m.run("Style applied", func(ctx context.Context, ctrl sig.Controller) error {
			return ctrl.ApplyStyle(ctx, draft)
		})
	}
	return m, nil
}

func (m model) toggleMic() (tea.Model, tea.Cmd) {
	if m.mic == nil {
		return m, nil
	}
	c := m.mic
	if c.State() == mic.Idle {
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), micTimeout)
			defer cancel()
			err := c.Enable(ctx)
			if errors.Is(err, mic.ErrCanceled) {
				// Switched off again before it finished starting
				return opDoneMsg{action: "Microphone off"}
			}
			return opDoneMsg{action: "Microphone on", err: err}
		}
	}
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), micTimeout)
		defer cancel()
		return opDoneMsg{action: "Microphone off", err: c.Disable(ctx)}
	}
}

// cleanup persists console settings and tears down the session
func (m model) cleanup() {
	saved := m.saved
	if !m.config.ServeMode {
		saved.ServerURL = m.config.ServerURL
	}
	saved.Tenant = m.config.Tenant
	saved.Screen = m.config.Screen
	saved.Mic = !m.config.NoMic
	saved.Draft = nil
	if m.editor != nil && m.editor.Dirty() {
		draft := m.editor.Draft()
		saved.Draft = &draft
	}
	if err := settings.Save(saved); err != nil {
		m.logger.Warn("save settings", zap.Error(err))
	}

	if m.mic != nil && m.mic.State() != mic.Idle {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		if err := m.mic.Disable(ctx); err != nil {
			m.logger.Warn("disable mic on exit", zap.Error(err))
		}
		cancel()
	}
	m.dropSession()
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Projector"))
	b.WriteString(dimStyle.Render(" - live lyrics and verses"))
	b.WriteString("\n\n")

	b.WriteString(m.renderStatus())
	b.WriteString("\n")

	if m.connected {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			m.renderSongs(), " ", m.renderLive(), " ", m.renderStyle()))
		b.WriteString("\n")
	}

	if m.lastError != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("Error: " + m.lastError))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderHelp())

	return b.String()
}

func (m model) renderStatus() string {
	var b strings.Builder
	if !m.connected {
		target := m.config.ServerURL
		if m.config.ServeMode {
			target = fmt.Sprintf("embedded server on :%d", m.config.Port)
		}
		b.WriteString(statusStyle.Render(m.status))
		b.WriteString(dimStyle.Render("  " + target))
		b.WriteString("\n")
		return b.String()
	}

	screen := m.sess.screen
	if m.frame != nil {
		screen = m.frame.Screen
	}
	b.WriteString(statusStyle.Render("● " + m.config.Tenant + " / " + screen.Name))
	b.WriteString(dimStyle.Render(" (" + screen.ID + ")"))
	if m.status != "" {
		b.WriteString("  " + dimStyle.Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Viewer: "))
	b.WriteString(urlStyle.Render(m.sess.viewerURL))
	b.WriteString("\n")

	if m.mic != nil {
		b.WriteString(dimStyle.Render("Audio:  "))
		b.WriteString(urlStyle.Render(audioURL(m.sess.viewerURL)))
		b.WriteString("\n")
		state := m.mic.State()
		label := "Mic: " + state.String()
		if state == mic.Connected {
			b.WriteString(toggleActiveStyle.Render(label))
		} else {
			b.WriteString(dimStyle.Render(label))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m model) renderSongs() string {
	var b strings.Builder
	b.WriteString(boxTitleStyle.Render("Songs"))
	b.WriteString("\n")

	if len(m.songs) == 0 {
		b.WriteString(dimStyle.Render("No songs"))
		return boxStyle.Render(b.String())
	}

	liveSong := ""
	if m.frame != nil && m.frame.Screen.Display.Kind == broadcast.DisplaySong && m.frame.Screen.Display.Song != nil {
		liveSong = m.frame.Screen.Display.Song.SongID
	}

	// Window the list around the cursor
	start := 0
	if m.cursor >= songListHeight {
		start = m.cursor - songListHeight + 1
	}
	end := min(start+songListHeight, len(m.songs))

	for i := start; i < end; i++ {
		song := m.songs[i]
		line := truncate(fmt.Sprintf("%s (%d)", song.Title, len(song.Verses)), 32)
		marker := "  "
		if song.ID == liveSong {
			marker = liveStyle.Render("▶ ")
		}
		if i == m.cursor {
			b.WriteString(marker + selectedStyle.Render(line))
		} else {
			b.WriteString(marker + normalStyle.Render(line))
		}
		if i < end-1 {
			b.WriteString("\n")
		}
	}
	return boxStyle.Render(b.String())
}

func (m model) renderLive() string {
	var b strings.Builder
	b.WriteString(boxTitleStyle.Render("Live"))
	b.WriteString("\n")

	if m.frame == nil {
		b.WriteString(dimStyle.Render("Waiting for screen..."))
		return boxStyle.Render(b.String())
	}

	slide := m.frame.Slide
	switch slide.Kind {
	case broadcast.DisplaySong:
		b.WriteString(liveStyle.Render(slide.Title))
		b.WriteString(dimStyle.Render(fmt.Sprintf("  %d/%d", slide.Index+1, slide.Count)))
		b.WriteString("\n")
		b.WriteString(normalStyle.Width(40).Render(slide.Text))
	case broadcast.DisplayVerse:
		b.WriteString(liveStyle.Render(slide.Reference))
		if slide.Version != "" {
			b.WriteString(dimStyle.Render("  " + slide.Version))
		}
		b.WriteString("\n")
		b.WriteString(normalStyle.Width(40).Render(slide.Text))
	default:
		b.WriteString(dimStyle.Render("(blank)"))
	}
	return boxStyle.Render(b.String())
}

func (m model) renderStyle() string {
	var b strings.Builder
	b.WriteString(boxTitleStyle.Render("Style"))
	b.WriteString("\n")

	if m.editor == nil {
		b.WriteString(dimStyle.Render("-"))
		return boxStyle.Render(b.String())
	}

	b.WriteString(dimStyle.Render("live  "))
	b.WriteString(normalStyle.Render(m.editor.Live().Describe()))
	if !m.editor.Dirty() {
		return boxStyle.Render(b.String())
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("draft "))
	b.WriteString(selectedStyle.Render(m.editor.Draft().Describe()))
	return dirtyBoxStyle.Render(b.String())
}

func (m model) renderHelp() string {
	var b strings.Builder
	sep := keySepStyle.Render("  ")

	var actions []string
	if m.connected {
		actions = append(actions, keyStyle.Render("↑↓")+helpStyle.Render(" select"))
		actions = append(actions, keyStyle.Render("enter")+helpStyle.Render(" show"))
		actions = append(actions, keyStyle.Render("n/p")+helpStyle.Render(" verse"))
		actions = append(actions, keyStyle.Render("c")+helpStyle.Render(" clear"))
		actions = append(actions, keyStyle.Render("r")+helpStyle.Render(" refresh"))
	}
	actions = append(actions, keyStyle.Render("q")+helpStyle.Render(" quit"))
	b.WriteString(strings.Join(actions, sep))

	if !m.connected || m.editor == nil {
		return b.String()
	}

	var styleKeys []string
	styleKeys = append(styleKeys, keyStyle.Render("b")+helpStyle.Render(" background"))
	styleKeys = append(styleKeys, keyStyle.Render("+/-")+helpStyle.Render(" size"))
	if m.editor.Dirty() {
		styleKeys = append(styleKeys, keyStyle.Render("a")+helpStyle.Render(" apply"))
		styleKeys = append(styleKeys, keyStyle.Render("d")+helpStyle.Render(" discard"))
	}
	b.WriteString("\n")
	b.WriteString(strings.Join(styleKeys, sep))

	draft := m.editor.Draft()
	toggles := []string{
		m.renderToggle("B", "bold", draft.Font.Bold),
		m.renderToggle("I", "italic", draft.Font.Italic),
		m.renderToggle("U", "upper", draft.Font.Uppercase),
		m.renderToggle("S", "shadow", draft.Font.Shadow),
	}
	if m.mic != nil {
		toggles = append(toggles, m.renderToggle("m", "mic", m.mic.State() != mic.Idle))
	}
	b.WriteString("\n\n")
	b.WriteString(strings.Join(toggles, "   "))

	return b.String()
}

// renderToggle renders a toggle keybind with active/inactive indicator
func (m model) renderToggle(key, label string, active bool) string {
	if active {
		return toggleActiveStyle.Render("● "+key) + " " + toggleActiveStyle.Render(label)
	}
	return toggleInactiveStyle.Render("○ "+key) + " " + toggleInactiveStyle.Render(label)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// RunTUI starts the console
func RunTUI(config Config, saved settings.ConsoleSettings) error {
	// Log to a file so the TUI display stays clean
	log, err := logger.NewFile(config.LogLevel, "json", "projector-console", config.LogFile)
	if err != nil {
		log = zap.NewNop()
	}
	defer log.Sync()
	log.Info("console started", zap.Bool("serve", config.ServeMode), zap.String("server", config.ServerURL))

	p := tea.NewProgram(
		initialModel(config, saved, log),
		tea.WithAltScreen(),
	)

	final, runErr := p.Run()
	if fm, ok := final.(model); ok {
		fm.cleanup()
	}
	return runErr
}
