package broadcast

import (
	"fmt"
	"strings"
)

// Direction is the way verse navigation moves
type Direction int

const (
	Next Direction = 1
	Prev Direction = -1
)

// ParseDirection accepts "next" or "prev"
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "next":
		return Next, nil
	case "prev", "previous":
		return Prev, nil
	}
	return 0, fmt.Errorf("%w: direction %q", ErrInvalid, s)
}

func (d Direction) String() string {
	if d == Prev {
		return "prev"
	}
	return "next"
}

// AdvanceIndex moves current one step in dir, wrapping circularly over
// count verses: next from count-1 is 0, prev from 0 is count-1.
func AdvanceIndex(current, count int, dir Direction) (int, error) {
	if count <= 0 {
		return 0, ErrEmptySong
	}
	step := 1
	if dir == Prev {
		step = -1
	}
	return ((current+step)%count + count) % count, nil
}

// Slide is the presentation-ready content of a display state
type Slide struct {
	Kind      DisplayKind `json:"kind"`
	Title     string      `json:"title,omitempty"`
	Text      string      `json:"text,omitempty"`
	Index     int         `json:"index"`
	Count     int         `json:"count"`
	Reference string      `json:"reference,omitempty"`
	Version   string      `json:"version,omitempty"`
}

// SlideFor derives the slide for a display state. A song display whose song
// is missing or whose index is out of range renders as empty.
func SlideFor(d DisplayState, song *Song) Slide {
	switch d.Kind {
	case DisplaySong:
		if d.Song == nil || song == nil {
			return Slide{Kind: DisplayEmpty}
		}
		text, ok := song.VerseText(d.Song.VerseIndex)
		if !ok {
			return Slide{Kind: DisplayEmpty}
		}
		return Slide{
			Kind:  DisplaySong,
			Title: song.Title,
			Text:  text,
			Index: d.Song.VerseIndex,
			Count: len(song.Verses),
		}
	case DisplayVerse:
		if d.Verse == nil {
			return Slide{Kind: DisplayEmpty}
		}
		return Slide{
			Kind:      DisplayVerse,
			Text:      d.Verse.Text,
			Reference: d.Verse.Reference,
			Version:   d.Verse.Version,
			Count:     1,
		}
	}
	return Slide{Kind: DisplayEmpty}
}
