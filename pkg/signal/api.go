package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/sparedes88/projector/pkg/broadcast"
	"go.uber.org/zap"
)

// ControlKeyHeader carries the tenant control key on REST writes
const ControlKeyHeader = "X-Control-Key"

var (
	ErrAssistUnavailable = errors.New("assist is not configured")
	ErrAssistFailed      = errors.New("assist produced no result")
)

// Assistant generates lyrics, verses and background images from prompts
type Assistant interface {
	Lyrics(ctx context.Context, prompt string) (string, error)
	Verse(ctx context.Context, prompt string) (string, error)
	Image(ctx context.Context, prompt string) (string, error)
}

type createScreenRequest struct {
	Name  string `json:"name" validate:"required"`
	Reuse bool   `json:"reuse"`
}

type displayRequest struct {
	Kind            broadcast.DisplayKind   `json:"kind" validate:"oneof=empty song verse"`
	Song            *broadcast.SongDisplay  `json:"song,omitempty"`
	Verse           *broadcast.VerseDisplay `json:"verse,omitempty"`
	ExpectedVersion int64                   `json:"expectedVersion" validate:"gte=0"`
}

type advanceRequest struct {
	Direction       string `json:"direction" validate:"oneof=next prev"`
	ExpectedVersion int64  `json:"expectedVersion" validate:"gte=0"`
}

type styleRequest struct {
	Style           broadcast.Style `json:"style"`
	ExpectedVersion int64           `json:"expectedVersion" validate:"gte=0"`
}

type micRequest struct {
	Session   string `json:"session"`
	SDP       string `json:"sdp"`
	Candidate string `json:"candidate"`
}

type songRequest struct {
	Title  string            `json:"title" validate:"required"`
	Verses []broadcast.Verse `json:"verses"`
}

type assistRequest struct {
	Prompt string `json:"prompt" validate:"required"`
}

type assistResponse struct {
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Handler returns the HTTP routes: REST API, WebSocket and viewer page
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	log := func(h http.HandlerFunc) http.HandlerFunc { return WithLogging(s.logger, h) }

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Screens
	mux.HandleFunc("GET /api/tenants/{tenant}/screens", log(s.listScreens))
	mux.HandleFunc("POST /api/tenants/{tenant}/screens", log(s.control(s.createScreen)))
	mux.HandleFunc("GET /api/tenants/{tenant}/screens/{screen}", log(s.getScreen))
	mux.HandleFunc("DELETE /api/tenants/{tenant}/screens/{screen}", log(s.control(s.deleteScreen)))
	mux.HandleFunc("PUT /api/tenants/{tenant}/screens/{screen}/display", log(s.control(s.setDisplay)))
	mux.HandleFunc("POST /api/tenants/{tenant}/screens/{screen}/advance", log(s.control(s.advance)))
	mux.HandleFunc("PUT /api/tenants/{tenant}/screens/{screen}/style", log(s.control(s.applyStyle)))

	// Microphone signaling
	mux.HandleFunc("POST /api/tenants/{tenant}/screens/{screen}/mic", log(s.control(s.enableMic)))
	mux.HandleFunc("POST /api/tenants/{tenant}/screens/{screen}/mic/ice", log(s.control(s.publishCandidate)))
	mux.HandleFunc("POST /api/tenants/{tenant}/screens/{screen}/mic/answer", log(s.publishAnswer))
	mux.HandleFunc("DELETE /api/tenants/{tenant}/screens/{screen}/mic", log(s.control(s.disableMic)))
	mux.HandleFunc("GET /api/tenants/{tenant}/screens/{screen}/signals", log(s.signals))

	// Songs
	mux.HandleFunc("GET /api/tenants/{tenant}/songs", log(s.listSongs))
	mux.HandleFunc("POST /api/tenants/{tenant}/songs", log(s.control(s.createSong)))
	mux.HandleFunc("GET /api/tenants/{tenant}/songs/{song}", log(s.getSong))
	mux.HandleFunc("PUT /api/tenants/{tenant}/songs/{song}", log(s.control(s.updateSong)))
	mux.HandleFunc("DELETE /api/tenants/{tenant}/songs/{song}", log(s.control(s.deleteSong)))

	// Generative assist
	mux.HandleFunc("POST /api/tenants/{tenant}/assist/{kind}", log(s.control(s.runAssist)))

	// WebSocket endpoint and viewer page
	mux.HandleFunc("GET /ws/{tenant}/{screen}", s.HandleWebSocket)
	mux.HandleFunc("GET /{tenant}/{screen}", s.HandleViewer)

	return mux
}

// control rejects requests without the control key
func (s *Server) control(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r.Header.Get(ControlKeyHeader)) {
			WriteError(w, ErrUnauthorized)
			return
		}
		next(w, r)
	}
}

func screenParam(r *http.Request) string {
	return broadcast.NormalizeScreenCode(r.PathValue("screen"))
}

func versionOpts(v int64) []broadcast.WriteOption {
	if v == 0 {
		return nil
	}
	return []broadcast.WriteOption{broadcast.IfVersion(v)}
}

func (s *Server) listScreens(w http.ResponseWriter, r *http.Request) {
	screens, err := s.syncer.ListScreens(r.Context(), r.PathValue("tenant"))
	if err != nil {
		WriteError(w, err)
		return
	}
	JSONResponse(w, http.StatusOK, screens)
}

func (s *Server) createScreen(w http.ResponseWriter, r *http.Request) {
	var req createScreenRequest
	if err := s.decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	tenant := r.PathValue("tenant")
	var (
		screen broadcast.Screen
		err    error
	)
	if req.Reuse {
		screen, err = s.syncer.EnsureScreen(r.Context(), tenant, strings.TrimSpace(req.Name))
	} else {
		screen, err = s.syncer.CreateScreen(r.Context(), tenant, req.Name)
	}
	if err != nil {
		WriteError(w, err)
		return
	}
	JSONResponse(w, http.StatusCreated, screen)
}

func (s *Server) getScreen(w http.ResponseWriter, r *http.Request) {
	screen, err := s.syncer.GetScreen(r.Context(), r.PathValue("tenant"), screenParam(r))
	if err != nil {
		WriteError(w, err)
		return
	}
	JSONResponse(w, http.StatusOK, s.syncer.FrameFor(r.Context(), screen))
}

func (s *Server) deleteScreen(w http.ResponseWriter, r *http.Request) {
	if err := s.syncer.DeleteScreen(r.Context(), r.PathValue("tenant"), screenParam(r)); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setDisplay(w http.ResponseWriter, r *http.Request) {
	var req displayRequest
	if err := s.decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	state := broadcast.DisplayState{Kind: req.Kind, Song: req.Song, Verse: req.Verse}
	if state.Kind == broadcast.DisplayVerse && (req.Verse == nil || strings.TrimSpace(req.Verse.Text) == "") {
		WriteError(w, &ValidationError{Fields: []FieldError{{Field: "verse.text", Error: "this field is required"}}})
		return
	}
	if state.Kind == broadcast.DisplaySong && (req.Song == nil || req.Song.SongID == "") {
		WriteError(w, &ValidationError{Fields: []FieldError{{Field: "song.songId", Error: "this field is required"}}})
		return
	}

	screen, err := s.syncer.SetDisplayState(r.Context(), r.PathValue("tenant"), screenParam(r), state, versionOpts(req.ExpectedVersion)...)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSONResponse(w, http.StatusOK, screen)
}

func (s *Server) advance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := s.decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	dir, err := broadcast.ParseDirection(req.Direction)
	if err != nil {
		WriteError(w, err)
		return
	}
	screen, err := s.syncer.AdvanceVerse(r.Context(), r.PathValue("tenant"), screenParam(r), dir, versionOpts(req.ExpectedVersion)...)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSONResponse(w, http.StatusOK, screen)
}

func (s *Server) applyStyle(w http.ResponseWriter, r *http.Request) {
	var req styleRequest
	if err := s.decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	screen, err := s.syncer.ApplyStyle(r.Context(), r.PathValue("tenant"), screenParam(r), req.Style, versionOpts(req.ExpectedVersion)...)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSONResponse(w, http.StatusOK, screen)
}

func (s *Server) enableMic(w http.ResponseWriter, r *http.Request) {
	var req micRequest
	if err := ParseJSONBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	screen, err := s.syncer.EnableMic(r.Context(), r.PathValue("tenant"), screenParam(r), RoleControl,
		broadcast.SessionDescription{Type: "offer", SDP: req.SDP})
	if err != nil {
		WriteError(w, err)
		return
	}
	JSONResponse(w, http.StatusOK, screen)
}

func (s *Server) publishCandidate(w http.ResponseWriter, r *http.Request) {
	var req micRequest
	if err := ParseJSONBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	screen, err := s.syncer.PublishCandidate(r.Context(), r.PathValue("tenant"), screenParam(r), req.Session, RoleControl, req.Candidate)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSONResponse(w, http.StatusOK, screen)
}

// publishAnswer is open to viewers, like mic-answer on the WebSocket
func (s *Server) publishAnswer(w http.ResponseWriter, r *http.Request) {
	var req micRequest
	if err := ParseJSONBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	screen, err := s.syncer.PublishAnswer(r.Context(), r.PathValue("tenant"), screenParam(r), req.Session, RoleViewer,
		broadcast.SessionDescription{Type: "answer", SDP: req.SDP})
	if err != nil {
		WriteError(w, err)
		return
	}
	JSONResponse(w, http.StatusOK, screen)
}

func (s *Server) disableMic(w http.ResponseWriter, r *http.Request) {
	screen, err := s.syncer.DisableMic(r.Context(), r.PathValue("tenant"), screenParam(r))
	if err != nil {
		WriteError(w, err)
		return
	}
	JSONResponse(w, http.StatusOK, screen)
}

func (s *Server) signals(w http.ResponseWriter, r *http.Request) {
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			WriteError(w, &ValidationError{Fields: []FieldError{{Field: "since", Error: "must be a non-negative integer"}}})
			return
		}
		since = n
	}
	entries, err := s.syncer.Signals(r.Context(), r.PathValue("tenant"), screenParam(r), since)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSONResponse(w, http.StatusOK, entries)
}

func (s *Server) listSongs(w http.ResponseWriter, r *http.Request) {
	songs, err := s.syncer.Songs().ListSongs(r.Context(), r.PathValue("tenant"))
	if err != nil {
		WriteError(w, err)
		return
	}
	JSONResponse(w, http.StatusOK, songs)
}

func (s *Server) createSong(w http.ResponseWriter, r *http.Request) {
	var req songRequest
	if err := s.decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	song, err := s.syncer.Songs().CreateSong(r.Context(), broadcast.Song{
		Tenant: r.PathValue("tenant"),
		Title:  strings.TrimSpace(req.Title),
		Verses: req.Verses,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	JSONResponse(w, http.StatusCreated, song)
}

func (s *Server) getSong(w http.ResponseWriter, r *http.Request) {
	song, err := s.syncer.Songs().GetSong(r.Context(), r.PathValue("tenant"), r.PathValue("song"))
	if err != nil {
		WriteError(w, err)
		return
	}
	JSONResponse(w, http.StatusOK, song)
}

func (s *Server) updateSong(w http.ResponseWriter, r *http.Request) {
	var req songRequest
	if err := s.decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	song, err := s.syncer.Songs().UpdateSong(r.Context(), broadcast.Song{
		Tenant: r.PathValue("tenant"),
		ID:     r.PathValue("song"),
		Title:  strings.TrimSpace(req.Title),
		Verses: req.Verses,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	JSONResponse(w, http.StatusOK, song)
}

func (s *Server) deleteSong(w http.ResponseWriter, r *http.Request) {
	if err := s.syncer.Songs().DeleteSong(r.Context(), r.PathValue("tenant"), r.PathValue("song")); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) runAssist(w http.ResponseWriter, r *http.Request) {
	if s.assist == nil {
		WriteError(w, ErrAssistUnavailable)
		return
	}
	var req assistRequest
	if err := s.decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	var (
		resp assistResponse
		err  error
	)
	switch kind := r.PathValue("kind"); kind {
	case "lyrics":
		resp.Text, err = s.assist.Lyrics(r.Context(), req.Prompt)
	case "verse":
		resp.Text, err = s.assist.Verse(r.Context(), req.Prompt)
	case "image":
		resp.URL, err = s.assist.Image(r.Context(), req.Prompt)
	default:
		WriteError(w, fmt.Errorf("%w: unknown assist kind %q", broadcast.ErrNotFound, kind))
		return
	}
	if err != nil {
		s.logger.Warn("assist failed", zap.String("tenant", r.PathValue("tenant")), zap.Error(err))
		WriteError(w, fmt.Errorf("%w: %v", ErrAssistFailed, err))
		return
	}
	JSONResponse(w, http.StatusOK, resp)
}

// decode parses and validates a JSON request body
func (s *Server) decode(r *http.Request, v interface{}) error {
	if err := ParseJSONBody(r, v); err != nil {
		return err
	}
	return check(s.validate, v)
}
