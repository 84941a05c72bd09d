package broadcast

import (
	"encoding/json"
	"fmt"
	"time"
)

// DisplayKind tags which branch of a screen's display is active
type DisplayKind string

const (
	DisplayEmpty DisplayKind = "empty"
	DisplaySong  DisplayKind = "song"
	DisplayVerse DisplayKind = "verse"
)

// DisplayState is what a screen currently shows.
// At most one of Song or Verse is set, matching Kind.
type DisplayState struct {
	Kind  DisplayKind   `json:"kind"`
	Song  *SongDisplay  `json:"song,omitempty"`
	Verse *VerseDisplay `json:"verse,omitempty"`
}

// SongDisplay points at a verse of a song in the tenant's library
type SongDisplay struct {
	SongID     string `json:"songId"`
	VerseIndex int    `json:"verseIndex"`
}

// VerseDisplay is a Bible passage shown verbatim
type VerseDisplay struct {
	Reference string `json:"reference"`
	Version   string `json:"version"`
	Text      string `json:"text"`
}

// EmptyDisplay returns the cleared display state
func EmptyDisplay() DisplayState {
	return DisplayState{Kind: DisplayEmpty}
}

// SongState builds a display state for a song verse
func SongState(songID string, verseIndex int) DisplayState {
	return DisplayState{Kind: DisplaySong, Song: &SongDisplay{SongID: songID, VerseIndex: verseIndex}}
}

// VerseState builds a display state for a Bible verse
func VerseState(reference, version, text string) DisplayState {
	return DisplayState{Kind: DisplayVerse, Verse: &VerseDisplay{Reference: reference, Version: version, Text: text}}
}

// Normalize drops whichever branch does not match Kind, so that selecting
// one branch always clears the other.
func (d DisplayState) Normalize() DisplayState {
	switch d.Kind {
	case DisplaySong:
		if d.Song == nil {
			return EmptyDisplay()
		}
		return DisplayState{Kind: DisplaySong, Song: d.Song}
	case DisplayVerse:
		if d.Verse == nil {
			return EmptyDisplay()
		}
		return DisplayState{Kind: DisplayVerse, Verse: d.Verse}
	default:
		return EmptyDisplay()
	}
}

// SessionDescription is an SDP offer or answer as stored on the screen record
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Mic holds the transient signaling fields of a microphone session
type Mic struct {
	Enabled      bool                `json:"enabled"`
	Session      string              `json:"session,omitempty"`
	Offer        *SessionDescription `json:"offer,omitempty"`
	Answer       *SessionDescription `json:"answer,omitempty"`
	ICECandidate string              `json:"iceCandidate,omitempty"` // last written candidate only
}

// Screen is one live display target owned by a tenant
type Screen struct {
	Tenant    string       `json:"tenant"`
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Display   DisplayState `json:"display"`
	Style     Style        `json:"style"`
	Mic       Mic          `json:"mic"`
	Version   int64        `json:"version"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// Verse is a single verse of song lyrics. Stored lyrics come as either a
// bare string or a {"text": ...} object; both decode to the same value.
type Verse string

// UnmarshalJSON accepts both stored lyric shapes
func (v *Verse) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = Verse(s)
		return nil
	}

	var obj struct {
		Text *string `json:"text"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("verse must be a string or {text}: %w", err)
	}
	if obj.Text == nil {
		return fmt.Errorf("verse object has no text field")
	}
	*v = Verse(*obj.Text)
	return nil
}

// Song is an entry in a tenant's song library
type Song struct {
	Tenant    string    `json:"tenant"`
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Verses    []Verse   `json:"verses"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// VerseText returns the text of verse i, or false if out of range
func (s *Song) VerseText(i int) (string, bool) {
	if s == nil || i < 0 || i >= len(s.Verses) {
		return "", false
	}
	return string(s.Verses[i]), true
}

// SignalKind is the type of a signaling log entry
type SignalKind string

const (
	SignalOffer  SignalKind = "offer"
	SignalAnswer SignalKind = "answer"
	SignalICE    SignalKind = "ice"
)

// SignalEntry is one message in a screen's append-only signaling log
type SignalEntry struct {
	Seq     int64      `json:"seq"`
	Session string     `json:"session"`
	Sender  string     `json:"sender"`
	Kind    SignalKind `json:"kind"`
	Payload string     `json:"payload"`
	At      time.Time  `json:"at"`
}

// Clone returns a deep copy so stored records never alias returned ones
func (s Screen) Clone() Screen {
	out := s
	if s.Display.Song != nil {
		song := *s.Display.Song
		out.Display.Song = &song
	}
	if s.Display.Verse != nil {
		verse := *s.Display.Verse
		out.Display.Verse = &verse
	}
	if s.Mic.Offer != nil {
		offer := *s.Mic.Offer
		out.Mic.Offer = &offer
	}
	if s.Mic.Answer != nil {
		answer := *s.Mic.Answer
		out.Mic.Answer = &answer
	}
	return out
}

// Clone returns a copy with its own verse slice
func (s Song) Clone() Song {
	out := s
	out.Verses = append([]Verse(nil), s.Verses...)
	return out
}
