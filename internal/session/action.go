package session

import "gittyup-client/internal/models"

// Action is the closed set of events the state machine applies. Actions are
// produced by the connection controller (from decoded envelopes and
// transport lifecycle events), by the provisioning pipeline (progress and
// error logs), and by user intents from the web surface.
type Action interface {
	actionName() string
}

// BeginConnect records a dial in progress.
type BeginConnect struct {
	URL       string
	Transport Transport
}

// TransportEstablished moves a connecting session to awaiting-welcome once
// the socket is open.
type TransportEstablished struct{}

// Initialize applies the welcome message: who we are, who else is here, and
// the repository snapshot being observed.
type Initialize struct {
	CurrentUserID int
	Users         []models.UserRecord
	Files         []string
	RepoHash      string
	Commit        string
}

// Disconnect tears the session down, optionally recording why.
type Disconnect struct {
	Err string
}

// AppendLog adds one uncorrelated console entry.
type AppendLog struct {
	Entry models.LogEntry
}

// StreamDelta appends streamed text to the entry with the same correlation
// id, creating it on first delta. This is how token-by-token assistant
// output renders as a single growing line.
type StreamDelta struct {
	CorrelationID string
	Text          string
}

// SelectFile records the locally selected file.
type SelectFile struct {
	Path string
}

// ReplaceFileList swaps in a new repository snapshot.
type ReplaceFileList struct {
	Files    []string
	RepoHash string
	Commit   string
}

// UpdateUserMetadata merges partial fields into a roster member. Nil fields
// are left untouched.
type UpdateUserMetadata struct {
	ID         int
	Name       *string
	ActiveFile *string
}

// UserJoined inserts a new roster member.
type UserJoined struct {
	User models.UserRecord
}

// UserLeft removes a roster member.
type UserLeft struct {
	ID int
}

// ChatReceived appends a chat line from a roster member.
type ChatReceived struct {
	UserID  int
	Content string
}

func (BeginConnect) actionName() string         { return "BeginConnect" }
func (TransportEstablished) actionName() string { return "TransportEstablished" }
func (Initialize) actionName() string           { return "Initialize" }
func (Disconnect) actionName() string           { return "Disconnect" }
func (AppendLog) actionName() string            { return "AppendLog" }
func (StreamDelta) actionName() string          { return "StreamDelta" }
func (SelectFile) actionName() string           { return "SelectFile" }
func (ReplaceFileList) actionName() string      { return "ReplaceFileList" }
func (UpdateUserMetadata) actionName() string   { return "UpdateUserMetadata" }
func (UserJoined) actionName() string           { return "UserJoined" }
func (UserLeft) actionName() string             { return "UserLeft" }
func (ChatReceived) actionName() string         { return "ChatReceived" }
