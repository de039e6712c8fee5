package models

// UserRecord is one participant in the session. IDs are assigned by the
// remote endpoint and are stable for the lifetime of the session.
type UserRecord struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	ActiveFile string `json:"activeFile"`
}

// UserRef is the minimal identity used by the per-file presence index.
type UserRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Style classes for console text segments. The web surface maps these to
// CSS classes; they carry no presentation detail themselves.
const (
	ClassSystem  = "system"
	ClassError   = "error"
	ClassSandbox = "sandbox"
	ClassSocket  = "socket"
	ClassSelf    = "self"
)

// UserPalette is the set of classes cycled through for other participants.
// Color assignment is id mod len(UserPalette), so a user keeps the same
// color across reconnects with the same id.
var UserPalette = []string{
	"user-blue",
	"user-amber",
	"user-pink",
	"user-teal",
	"user-indigo",
}

// TextSegment is one styled span of console output. Link, when set, is a
// URL the surface should render the segment as pointing to.
type TextSegment struct {
	Text  string `json:"text"`
	Class string `json:"class,omitempty"`
	Link  string `json:"link,omitempty"`
}

// LogEntry is one console line. Entries with a CorrelationID grow by
// appended segments as more deltas for the same id arrive; entries without
// one are immutable once appended.
type LogEntry struct {
	CorrelationID string        `json:"correlationId,omitempty"`
	Segments      []TextSegment `json:"segments"`
}

// Text returns the entry's concatenated segment text.
func (e LogEntry) Text() string {
	var out string
	for _, seg := range e.Segments {
		out += seg.Text
	}
	return out
}

// Segment builds a single-segment entry with no correlation id.
func Segment(text, class string) LogEntry {
	return LogEntry{Segments: []TextSegment{{Text: text, Class: class}}}
}
