package signal

import "github.com/sparedes88/projector/pkg/broadcast"

// Message types exchanged on /ws/{tenant}/{screen}
const (
	TypeJoin   = "join"
	TypeJoined = "joined"
	TypeState  = "state"
	TypeAck    = "ack"
	TypeError  = "error"

	TypeListSongs  = "list-songs"
	TypeSelectSong = "select-song"
	TypeNext       = "next"
	TypePrev       = "prev"
	TypeShowVerse  = "show-verse"
	TypeClear      = "clear"
	TypeApplyStyle = "apply-style"

	TypeMicOffer   = "mic-offer"
	TypeMicICE     = "mic-ice"
	TypeMicAnswer  = "mic-answer"
	TypeMicDisable = "mic-disable"
)

// Client roles
const (
	RoleControl = "control"
	RoleViewer  = "viewer"
)

// Message is a WebSocket signaling message
type Message struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`      // request id, echoed on ack/error
	Role    string `json:"role,omitempty"`    // control or viewer (join)
	Key     string `json:"key,omitempty"`     // tenant control key (join)
	Version int64  `json:"version,omitempty"` // expected version on commands, record version on ack

	SongID string                  `json:"songId,omitempty"`
	Verse  *broadcast.VerseDisplay `json:"verse,omitempty"`
	Style  *broadcast.Style        `json:"style,omitempty"`

	Session   string `json:"session,omitempty"`
	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit

	Frame *broadcast.Frame `json:"frame,omitempty"`
	Songs []broadcast.Song `json:"songs,omitempty"`

	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}
