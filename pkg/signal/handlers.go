package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/sparedes88/projector/pkg/broadcast"
	"go.uber.org/zap"
)

// readPump reads messages from the WebSocket
func (c *Client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Warn("websocket read failed", zap.String("screen", c.screen), zap.Error(err))
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(Message{Type: TypeError, Code: "invalid", Error: "invalid message format"})
			continue
		}

		c.handleMessage(msg)
	}
}

// writePump sends messages to the WebSocket
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.server.logger.Debug("websocket write failed", zap.String("screen", c.screen), zap.Error(err))
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// reply queues a message for this client only
func (c *Client) reply(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) fail(id string, err error) {
	c.reply(Message{Type: TypeError, ID: id, Code: codeFor(err), Error: err.Error()})
}

// handleMessage processes incoming signaling messages
func (c *Client) handleMessage(msg Message) {
	if msg.Type == TypeJoin {
		c.handleJoin(msg)
		return
	}
	if c.role == "" {
		c.fail(msg.ID, fmt.Errorf("%w: join first", broadcast.ErrInvalid))
		return
	}
	if c.role == RoleViewer && msg.Type != TypeMicAnswer {
		c.fail(msg.ID, fmt.Errorf("%w: viewers may only answer the microphone", ErrUnauthorized))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	ack, err := c.handleCommand(ctx, msg)
	if err != nil {
		c.fail(msg.ID, err)
		return
	}
	ack.Type = TypeAck
	ack.ID = msg.ID
	c.reply(ack)
}

// handleJoin admits the client to the screen's room and sends it the
// current state
func (c *Client) handleJoin(msg Message) {
	if c.role != "" {
		c.fail(msg.ID, fmt.Errorf("%w: already joined", broadcast.ErrInvalid))
		return
	}
	switch msg.Role {
	case RoleControl:
		if !c.server.authorized(msg.Key) {
			c.server.logger.Warn("control join rejected", zap.String("tenant", c.tenant), zap.String("screen", c.screen))
			c.fail(msg.ID, ErrUnauthorized)
			return
		}
	case RoleViewer:
	default:
		c.fail(msg.ID, fmt.Errorf("%w: role must be control or viewer", broadcast.ErrInvalid))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	screen, err := c.server.syncer.GetScreen(ctx, c.tenant, c.screen)
	if err != nil {
		c.fail(msg.ID, err)
		return
	}

	c.role = msg.Role
	if _, err := c.server.joinRoom(c); err != nil {
		c.role = ""
		c.fail(msg.ID, err)
		return
	}

	frame := c.server.syncer.FrameFor(ctx, screen)
	c.reply(Message{Type: TypeJoined, ID: msg.ID, Role: c.role})
	c.reply(Message{Type: TypeState, Frame: &frame})
}

// handleCommand runs one control command and returns the ack payload
func (c *Client) handleCommand(ctx context.Context, msg Message) (Message, error) {
	syncer := c.server.syncer
	var opts []broadcast.WriteOption
	if msg.Version != 0 {
		opts = append(opts, broadcast.IfVersion(msg.Version))
	}

	var (
		screen broadcast.Screen
		err    error
	)
	switch msg.Type {
	case TypeListSongs:
		songs, err := syncer.Songs().ListSongs(ctx, c.tenant)
		if err != nil {
			return Message{}, err
		}
		return Message{Songs: songs}, nil
	case TypeSelectSong:
		if msg.SongID == "" {
			return Message{}, &ValidationError{Fields: []FieldError{{Field: "songId", Error: "this field is required"}}}
		}
		screen, err = syncer.SelectSong(ctx, c.tenant, c.screen, msg.SongID, opts...)
	case TypeNext:
		screen, err = syncer.AdvanceVerse(ctx, c.tenant, c.screen, broadcast.Next, opts...)
	case TypePrev:
		screen, err = syncer.AdvanceVerse(ctx, c.tenant, c.screen, broadcast.Prev, opts...)
	case TypeShowVerse:
		if msg.Verse == nil {
			return Message{}, &ValidationError{Fields: []FieldError{{Field: "verse", Error: "this field is required"}}}
		}
		screen, err = syncer.ShowVerse(ctx, c.tenant, c.screen, *msg.Verse, opts...)
	case TypeClear:
		screen, err = syncer.ClearScreen(ctx, c.tenant, c.screen, opts...)
	case TypeApplyStyle:
		if msg.Style == nil {
			return Message{}, &ValidationError{Fields: []FieldError{{Field: "style", Error: "this field is required"}}}
		}
		if err := check(c.server.validate, styleRequest{Style: *msg.Style}); err != nil {
			return Message{}, err
		}
		screen, err = syncer.ApplyStyle(ctx, c.tenant, c.screen, *msg.Style, opts...)
	case TypeMicOffer:
		screen, err = syncer.EnableMic(ctx, c.tenant, c.screen, c.role, broadcast.SessionDescription{Type: "offer", SDP: msg.SDP})
	case TypeMicICE:
		screen, err = syncer.PublishCandidate(ctx, c.tenant, c.screen, msg.Session, c.role, msg.Candidate)
	case TypeMicAnswer:
		screen, err = syncer.PublishAnswer(ctx, c.tenant, c.screen, msg.Session, c.role, broadcast.SessionDescription{Type: "answer", SDP: msg.SDP})
	case TypeMicDisable:
		screen, err = syncer.DisableMic(ctx, c.tenant, c.screen)
	default:
		return Message{}, fmt.Errorf("%w: unknown message type %q", broadcast.ErrInvalid, msg.Type)
	}
	if err != nil {
		if !errors.Is(err, broadcast.ErrInvalid) {
			c.server.logger.Info("command rejected",
				zap.String("type", msg.Type),
				zap.String("screen", c.screen),
				zap.String("code", codeFor(err)),
			)
		}
		return Message{}, err
	}
	return Message{Version: screen.Version, Session: screen.Mic.Session}, nil
}
