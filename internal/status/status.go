package status

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"mailwatch/internal/models"
)

// accentColor highlights the bar segment whenever unread mail is present.
const accentColor = "#ffcc00"

// Format selects one of the supported status line encodings.
type Format int

const (
	FormatI3Bar Format = iota
	FormatWaybar
)

const (
	formatNameI3Bar  = "i3-bar-format"
	formatNameWaybar = "waybar-format"
)

func (f Format) String() string {
	if f == FormatWaybar {
		return formatNameWaybar
	}
	return formatNameI3Bar
}

// ParseFormat maps a format selector from the command line onto a Format.
// It returns an error for anything but the two known selectors.
func ParseFormat(name string) (Format, error) {
	switch name {
	case formatNameI3Bar:
		return FormatI3Bar, nil
	case formatNameWaybar:
		return FormatWaybar, nil
	default:
		return FormatI3Bar, fmt.Errorf("unknown status format %q", name)
	}
}

// i3barLine is the i3bar/swaybar block protocol payload. The color field is
// always present, empty when no accent applies.
type i3barLine struct {
	FullText string `json:"full_text"`
	Color    string `json:"color"`
}

// waybarLine is the waybar custom module payload. The alt field carries the
// unread condition as the strings "true" and "false".
type waybarLine struct {
	Text string `json:"text"`
	Alt  string `json:"alt"`
}

// Render produces one status line for the observation in the given format.
// The visible text is "(<unread>) <total>"; the remaining field marks
// whether any unread mail is present.
func Render(f Format, obs models.Observation) (string, error) {
	text := fmt.Sprintf("(%d) %d", obs.Unread, obs.Total)

	var payload interface{}
	if f == FormatWaybar {
		payload = waybarLine{
			Text: text,
			Alt:  strconv.FormatBool(obs.Unread > 0),
		}
	} else {
		color := ""
		if obs.Unread > 0 {
			color = accentColor
		}
		payload = i3barLine{FullText: text, Color: color}
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding status line: %w", err)
	}
	return string(b), nil
}

// Reporter emits one status line per observation to a single destination,
// normally standard output.
type Reporter struct {
	format Format
	out    io.Writer
}

// NewReporter creates a Reporter writing lines in the given format.
func NewReporter(f Format, out io.Writer) *Reporter {
	return &Reporter{format: f, out: out}
}

// Emit renders the observation and writes it followed by a newline.
func (r *Reporter) Emit(obs models.Observation) error {
	line, err := Render(r.format, obs)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(r.out, line); err != nil {
		return fmt.Errorf("writing status line: %w", err)
	}
	return nil
}
