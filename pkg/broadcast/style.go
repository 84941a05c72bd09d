package broadcast

import (
	"fmt"
	"strings"
)

// BackgroundKind selects how a screen background is painted
type BackgroundKind string

const (
	BackgroundSolid    BackgroundKind = "solid"
	BackgroundGradient BackgroundKind = "gradient"
	BackgroundImage    BackgroundKind = "image"
)

// Style bounds accepted at the API boundary
const (
	MinAngle    = 0
	MaxAngle    = 360
	MinFontSize = 12
	MaxFontSize = 96
)

// Defaults applied on creation and when switching background kind
const (
	DefaultSolidColor    = "#000000"
	DefaultGradientFrom  = "#1e3c72"
	DefaultGradientTo    = "#2a5298"
	DefaultGradientAngle = 45
	DefaultFontFamily    = "Arial"
	DefaultFontSize      = 48
	DefaultFontColor     = "#ffffff"
)

// Background is a solid color, a two-color gradient, or an image URL
type Background struct {
	Kind     BackgroundKind `json:"kind" validate:"oneof=solid gradient image"`
	Color    string         `json:"color,omitempty"`
	From     string         `json:"from,omitempty"`
	To       string         `json:"to,omitempty"`
	Angle    int            `json:"angle,omitempty" validate:"min=0,max=360"`
	ImageURL string         `json:"imageUrl,omitempty" validate:"omitempty,url"`
}

// Font describes the lyric/verse text rendering
type Font struct {
	Family    string `json:"family"`
	Size      int    `json:"size" validate:"min=12,max=96"`
	Color     string `json:"color"`
	Bold      bool   `json:"bold"`
	Italic    bool   `json:"italic"`
	Uppercase bool   `json:"uppercase"`
	Shadow    bool   `json:"shadow"`
	Blur      int    `json:"blur" validate:"min=0"`
}

// Style is the presentation styling of a screen
type Style struct {
	Background Background `json:"background"`
	Font       Font       `json:"font"`
}

// DefaultStyle is the style of a newly created screen
func DefaultStyle() Style {
	return Style{
		Background: Background{Kind: BackgroundSolid, Color: DefaultSolidColor},
		Font: Font{
			Family: DefaultFontFamily,
			Size:   DefaultFontSize,
			Color:  DefaultFontColor,
		},
	}
}

// SwitchBackground changes the background kind and resets the kind-specific
// values to their defaults. Prior values are not carried over, even when
// switching back to a kind used before.
func SwitchBackground(style Style, kind BackgroundKind) Style {
	switch kind {
	case BackgroundGradient:
		style.Background = Background{
			Kind:  BackgroundGradient,
			From:  DefaultGradientFrom,
			To:    DefaultGradientTo,
			Angle: DefaultGradientAngle,
		}
	case BackgroundImage:
		style.Background = Background{Kind: BackgroundImage}
	default:
		style.Background = Background{Kind: BackgroundSolid, Color: DefaultSolidColor}
	}
	return style
}

// NextBackgroundKind cycles solid -> gradient -> image -> solid
func NextBackgroundKind(kind BackgroundKind) BackgroundKind {
	switch kind {
	case BackgroundSolid:
		return BackgroundGradient
	case BackgroundGradient:
		return BackgroundImage
	default:
		return BackgroundSolid
	}
}

// Rendered is a style resolved into CSS-ready values
type Rendered struct {
	Background    string `json:"background"`
	FontFamily    string `json:"fontFamily"`
	FontSize      string `json:"fontSize"`
	Color         string `json:"color"`
	FontWeight    string `json:"fontWeight"`
	FontStyle     string `json:"fontStyle"`
	TextTransform string `json:"textTransform"`
	TextShadow    string `json:"textShadow"`
	Filter        string `json:"filter"`
}

// Resolve deterministically turns a style into a renderable descriptor.
// Out-of-range angle and font size are clamped here only; the stored
// style keeps whatever was written.
func Resolve(style Style) Rendered {
	r := Rendered{
		FontFamily:    orDefault(style.Font.Family, DefaultFontFamily),
		FontSize:      fmt.Sprintf("%dpx", clamp(orDefaultInt(style.Font.Size, DefaultFontSize), MinFontSize, MaxFontSize)),
		Color:         orDefault(style.Font.Color, DefaultFontColor),
		FontWeight:    "normal",
		FontStyle:     "normal",
		TextTransform: "none",
		TextShadow:    "none",
		Filter:        "none",
	}

	bg := style.Background
	switch bg.Kind {
	case BackgroundGradient:
		r.Background = fmt.Sprintf("linear-gradient(%ddeg, %s, %s)",
			clamp(bg.Angle, MinAngle, MaxAngle),
			orDefault(bg.From, DefaultGradientFrom),
			orDefault(bg.To, DefaultGradientTo))
	case BackgroundImage:
		if bg.ImageURL == "" {
			r.Background = DefaultSolidColor
		} else {
			r.Background = fmt.Sprintf("url(%q) center / cover no-repeat", bg.ImageURL)
		}
	default:
		r.Background = orDefault(bg.Color, DefaultSolidColor)
	}

	if style.Font.Bold {
		r.FontWeight = "bold"
	}
	if style.Font.Italic {
		r.FontStyle = "italic"
	}
	if style.Font.Uppercase {
		r.TextTransform = "uppercase"
	}
	if style.Font.Shadow {
		r.TextShadow = "2px 2px 4px rgba(0, 0, 0, 0.8)"
	}
	if style.Font.Blur > 0 {
		r.Filter = fmt.Sprintf("blur(%dpx)", style.Font.Blur)
	}
	return r
}

// StyleEditor holds the Control Surface's pending draft next to the live
// style. Edits touch only the draft until Apply.
type StyleEditor struct {
	live  Style
	draft Style
}

// NewStyleEditor starts with the draft equal to the live style
func NewStyleEditor(live Style) *StyleEditor {
	return &StyleEditor{live: live, draft: live}
}

// Live returns the committed style
func (e *StyleEditor) Live() Style { return e.live }

// Draft returns the local, unapplied style
func (e *StyleEditor) Draft() Style { return e.draft }

// Dirty reports whether the draft differs from the live style
func (e *StyleEditor) Dirty() bool { return e.draft != e.live }

// Edit mutates the draft
func (e *StyleEditor) Edit(fn func(*Style)) {
	fn(&e.draft)
}

// SwitchBackground switches the draft background kind with reset-on-switch
func (e *StyleEditor) SwitchBackground(kind BackgroundKind) {
	e.draft = SwitchBackground(e.draft, kind)
}

// SetLive records a committed style observed from the shared record.
// A clean draft follows it; a dirty draft is kept.
func (e *StyleEditor) SetLive(live Style) {
	if !e.Dirty() {
		e.draft = live
	}
	e.live = live
}

// Discard drops the draft
func (e *StyleEditor) Discard() {
	e.draft = e.live
}

// Describe is a one-line summary used by the console
func (s Style) Describe() string {
	var b strings.Builder
	switch s.Background.Kind {
	case BackgroundGradient:
		fmt.Fprintf(&b, "gradient %s→%s %d°", s.Background.From, s.Background.To, s.Background.Angle)
	case BackgroundImage:
		fmt.Fprintf(&b, "image %s", orDefault(s.Background.ImageURL, "(none)"))
	default:
		fmt.Fprintf(&b, "solid %s", s.Background.Color)
	}
	fmt.Fprintf(&b, " | %s %dpx %s", s.Font.Family, s.Font.Size, s.Font.Color)
	for _, f := range []struct {
		on   bool
		name string
	}{{s.Font.Bold, "bold"}, {s.Font.Italic, "italic"}, {s.Font.Uppercase, "upper"}, {s.Font.Shadow, "shadow"}} {
		if f.on {
			b.WriteString(" " + f.name)
		}
	}
	return b.String()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
