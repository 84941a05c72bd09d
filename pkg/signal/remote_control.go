package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sparedes88/projector/pkg/broadcast"
	"go.uber.org/zap"
)

// RemoteControl implements Controller over a WebSocket connection to the
// signal server
type RemoteControl struct {
	conn   *websocket.Conn
	connMu sync.Mutex
	logger *zap.Logger

	frames  chan broadcast.Frame
	pending map[string]chan Message
	nextID  int64
	mu      sync.Mutex

	done         chan struct{}
	onDisconnect func()
	closed       bool
	closeMu      sync.Mutex
}

// WebSocketURL turns a server base URL (http, https, ws or wss) into the
// screen's WebSocket endpoint
func WebSocketURL(base, tenant, screen string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws", "":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = u.Path + "/ws/" + url.PathEscape(tenant) + "/" + url.PathEscape(broadcast.NormalizeScreenCode(screen))
	return u.String(), nil
}

// DialControl connects to a screen and joins it as control
func DialControl(ctx context.Context, serverURL, tenant, screen, key string, logger *zap.Logger) (*RemoteControl, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	wsURL, err := WebSocketURL(serverURL, tenant, screen)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", wsURL, err)
	}

	rc := NewRemoteControl(conn, logger)
	if _, err := rc.call(ctx, Message{Type: TypeJoin, Role: RoleControl, Key: key}); err != nil {
		rc.Close()
		return nil, err
	}
	return rc, nil
}

// NewRemoteControl wraps an open connection. The caller must send join.
func NewRemoteControl(conn *websocket.Conn, logger *zap.Logger) *RemoteControl {
	rc := &RemoteControl{
		conn:    conn,
		logger:  logger,
		frames:  make(chan broadcast.Frame, 1),
		pending: make(map[string]chan Message),
		done:    make(chan struct{}),
	}
	go rc.readLoop()
	return rc
}

func (rc *RemoteControl) readLoop() {
	defer func() {
		rc.mu.Lock()
		for id, ch := range rc.pending {
			close(ch)
			delete(rc.pending, id)
		}
		rc.mu.Unlock()

		rc.closeMu.Lock()
		if rc.onDisconnect != nil && !rc.closed {
			rc.onDisconnect()
		}
		rc.closeMu.Unlock()
	}()

	for {
		_, data, err := rc.conn.ReadMessage()
		if err != nil {
			rc.logger.Debug("websocket read ended", zap.Error(err))
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			rc.logger.Warn("invalid message from server", zap.Error(err))
			continue
		}

		switch msg.Type {
		case TypeState:
			if msg.Frame != nil {
				offerFrame(rc.frames, *msg.Frame)
			}
		case TypeJoined, TypeAck, TypeError:
			rc.mu.Lock()
			ch, ok := rc.pending[msg.ID]
			delete(rc.pending, msg.ID)
			rc.mu.Unlock()
			if ok {
				ch <- msg
			} else if msg.Type == TypeError {
				rc.logger.Warn("server error", zap.String("code", msg.Code), zap.String("error", msg.Error))
			}
		}
	}
}

// call sends a request and waits for its ack or error
func (rc *RemoteControl) call(ctx context.Context, msg Message) (Message, error) {
	rc.mu.Lock()
	rc.nextID++
	msg.ID = strconv.FormatInt(rc.nextID, 10)
	ch := make(chan Message, 1)
	rc.pending[msg.ID] = ch
	rc.mu.Unlock()

	rc.connMu.Lock()
	err := rc.conn.WriteJSON(msg)
	rc.connMu.Unlock()
	if err != nil {
		rc.mu.Lock()
		delete(rc.pending, msg.ID)
		rc.mu.Unlock()
		return Message{}, fmt.Errorf("send %s: %w", msg.Type, err)
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return Message{}, fmt.Errorf("%s: connection closed", msg.Type)
		}
		if reply.Type == TypeError {
			return Message{}, errorFromCode(reply.Code, reply.Error)
		}
		return reply, nil
	case <-ctx.Done():
		rc.mu.Lock()
		delete(rc.pending, msg.ID)
		rc.mu.Unlock()
		return Message{}, ctx.Err()
	}
}

// errorFromCode rebuilds a typed error from a server error message
func errorFromCode(code, text string) error {
	sentinel := map[string]error{
		"not-found":          broadcast.ErrNotFound,
		"exists":             broadcast.ErrExists,
		"conflict":           broadcast.ErrConflict,
		"invalid":            broadcast.ErrInvalid,
		"no-song":            broadcast.ErrNoSong,
		"empty-song":         broadcast.ErrEmptySong,
		"mic-disabled":       broadcast.ErrMicDisabled,
		"session-mismatch":   broadcast.ErrSessionMismatch,
		"unauthorized":       ErrUnauthorized,
		"assist-unavailable": ErrAssistUnavailable,
		"no-result":          ErrAssistFailed,
	}[code]
	if sentinel == nil {
		return fmt.Errorf("server error: %s", text)
	}
	return fmt.Errorf("%s: %w", text, sentinel)
}

func (rc *RemoteControl) Songs(ctx context.Context) ([]broadcast.Song, error) {
	reply, err := rc.call(ctx, Message{Type: TypeListSongs})
	if err != nil {
		return nil, err
	}
	if reply.Songs == nil {
		return []broadcast.Song{}, nil
	}
	return reply.Songs, nil
}

func (rc *RemoteControl) SelectSong(ctx context.Context, songID string) error {
	_, err := rc.call(ctx, Message{Type: TypeSelectSong, SongID: songID})
	return err
}

func (rc *RemoteControl) Advance(ctx context.Context, dir broadcast.Direction) error {
	t := TypeNext
	if dir == broadcast.Prev {
		t = TypePrev
	}
	_, err := rc.call(ctx, Message{Type: t})
	return err
}

func (rc *RemoteControl) ShowVerse(ctx context.Context, verse broadcast.VerseDisplay) error {
	_, err := rc.call(ctx, Message{Type: TypeShowVerse, Verse: &verse})
	return err
}

func (rc *RemoteControl) Clear(ctx context.Context) error {
	_, err := rc.call(ctx, Message{Type: TypeClear})
	return err
}

func (rc *RemoteControl) ApplyStyle(ctx context.Context, style broadcast.Style) error {
	_, err := rc.call(ctx, Message{Type: TypeApplyStyle, Style: &style})
	return err
}

func (rc *RemoteControl) EnableMic(ctx context.Context, offer broadcast.SessionDescription) (string, error) {
	reply, err := rc.call(ctx, Message{Type: TypeMicOffer, SDP: offer.SDP})
	if err != nil {
		return "", err
	}
	return reply.Session, nil
}

func (rc *RemoteControl) PublishCandidate(ctx context.Context, session, candidate string) error {
	_, err := rc.call(ctx, Message{Type: TypeMicICE, Session: session, Candidate: candidate})
	return err
}

func (rc *RemoteControl) DisableMic(ctx context.Context) error {
	_, err := rc.call(ctx, Message{Type: TypeMicDisable})
	return err
}

// Frames returns the latest-state channel
func (rc *RemoteControl) Frames() <-chan broadcast.Frame {
	return rc.frames
}

// SetDisconnectHandler sets callback for when connection is lost
func (rc *RemoteControl) SetDisconnectHandler(handler func()) {
	rc.closeMu.Lock()
	rc.onDisconnect = handler
	rc.closeMu.Unlock()
}

// Done is closed by Close
func (rc *RemoteControl) Done() <-chan struct{} {
	return rc.done
}

// Close shuts down the connection
func (rc *RemoteControl) Close() {
	rc.closeMu.Lock()
	defer rc.closeMu.Unlock()
	if !rc.closed {
		rc.closed = true
		close(rc.done)
		rc.connMu.Lock()
		rc.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		rc.connMu.Unlock()
		rc.conn.Close()
	}
}
