// Package session holds the client-side session state and the pure
// transition function that applies server-pushed events to it. The state is
// the single source of truth for connection phase, roster, console log, and
// file selection; every transition returns a fresh snapshot and never
// mutates the one it was given, so callers may hold old snapshots
// indefinitely.
package session

import (
	"slices"

	"gittyup-client/internal/models"
)

// Phase is the connection lifecycle of the session.
type Phase string

const (
	PhaseDisconnected    Phase = "disconnected"
	PhaseConnecting      Phase = "connecting"
	PhaseAwaitingWelcome Phase = "awaitingWelcome"
	PhaseReady           Phase = "ready"
)

// Transport is the handle the state machine keeps for the live connection.
// The controller owns the concrete object; the state only carries it so
// user intents can be written back out.
type Transport interface {
	Send(text string) error
	Close() error
}

// State is one immutable snapshot of the session.
type State struct {
	Phase         Phase
	RepoURL       string
	RepoHash      string
	Commit        string
	Files         []string
	SelectedFile  string
	CurrentUserID int
	Users         map[int]models.UserRecord
	Logs          []models.LogEntry
	LastError     string
	Transport     Transport

	// FilesByActiveUser maps a file path to the other participants whose
	// active file it is. Derived from Users after every transition; never
	// mutated independently.
	FilesByActiveUser map[string][]models.UserRef
}

// NewState returns the initial disconnected state.
func NewState() State {
	return State{
		Phase:             PhaseDisconnected,
		Users:             map[int]models.UserRecord{},
		FilesByActiveUser: map[string][]models.UserRef{},
	}
}

// CurrentUser returns the current user's record, if the session knows who
// it is.
func (s State) CurrentUser() (models.UserRecord, bool) {
	if s.CurrentUserID == 0 {
		return models.UserRecord{}, false
	}
	user, ok := s.Users[s.CurrentUserID]
	return user, ok
}

// UserColor returns the style class for a participant's console output.
// The current user always gets the distinguished self class; everyone else
// cycles through the palette by id, which keeps a user's color stable
// across reconnects with the same id.
func UserColor(id, currentUserID int) string {
	if id == currentUserID && id != 0 {
		return models.ClassSelf
	}
	return models.UserPalette[((id%len(models.UserPalette))+len(models.UserPalette))%len(models.UserPalette)]
}

// clone copies the snapshot's mutable containers so the transition can
// build the next snapshot without touching the previous one. LogEntry
// segment slices are shared between snapshots; the one transition that
// extends an existing entry (stream deltas) replaces its segment slice
// wholesale.
func (s State) clone() State {
	next := s
	next.Users = make(map[int]models.UserRecord, len(s.Users))
	for id, user := range s.Users {
		next.Users[id] = user
	}
	next.Files = append([]string(nil), s.Files...)
	next.Logs = append([]models.LogEntry(nil), s.Logs...)
	// FilesByActiveUser is rebuilt from scratch by the transition trailer.
	next.FilesByActiveUser = nil
	return next
}

// recomputePresence rebuilds FilesByActiveUser from the roster, excluding
// the current user and anyone without an active file. Iteration visits ids
// in ascending order so the derived lists are deterministic.
func (s *State) recomputePresence() {
	index := map[string][]models.UserRef{}
	for _, id := range sortedIDs(s.Users) {
		user := s.Users[id]
		if user.ID == s.CurrentUserID || user.ActiveFile == "" {
			continue
		}
		index[user.ActiveFile] = append(index[user.ActiveFile], models.UserRef{ID: user.ID, Name: user.Name})
	}
	s.FilesByActiveUser = index
}

func sortedIDs(users map[int]models.UserRecord) []int {
	ids := make([]int, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
