package session

import (
	"fmt"
	"slices"

	"gittyup-client/internal/models"
)

// Transition applies one action to a snapshot and returns the next
// snapshot. It never mutates its input. Actions whose preconditions fail
// are rejected without failing the session: a diagnostic console entry is
// appended and nothing else changes. The single exception is an Initialize
// whose current user id is missing from the user list — the client cannot
// function without knowing who it is, so that returns an error and the
// caller is expected to disconnect.
func Transition(s State, action Action) (State, error) {
	next := s.clone()

	switch a := action.(type) {
	case BeginConnect:
		next.Phase = PhaseConnecting
		next.RepoURL = a.URL
		next.Transport = a.Transport
		next.LastError = ""
		next.appendLog(models.Segment(fmt.Sprintf("Connecting to %s...", a.URL), models.ClassSocket))

	case TransportEstablished:
		if next.Phase != PhaseConnecting {
			next.appendDiagnostic(fmt.Sprintf("Transport established in phase %s ignored", next.Phase))
			break
		}
		next.Phase = PhaseAwaitingWelcome

	case Initialize:
		users := make(map[int]models.UserRecord, len(a.Users))
		for _, user := range a.Users {
			users[user.ID] = user
		}
		if _, ok := users[a.CurrentUserID]; !ok {
			return s, fmt.Errorf("welcome names current user %d but the user list does not contain it", a.CurrentUserID)
		}
		next.Phase = PhaseReady
		next.Users = users
		next.CurrentUserID = a.CurrentUserID
		next.Files = append([]string(nil), a.Files...)
		next.RepoHash = a.RepoHash
		next.Commit = a.Commit
		next.LastError = ""
		next.appendLog(models.Segment(fmt.Sprintf("Connected to repository at commit %s", a.Commit), models.ClassSystem))

	case Disconnect:
		next.Phase = PhaseDisconnected
		next.LastError = a.Err
		next.Files = nil
		next.SelectedFile = ""
		next.RepoHash = ""
		next.RepoURL = ""
		next.Commit = ""
		next.CurrentUserID = 0
		next.Users = map[int]models.UserRecord{}
		next.Transport = nil

	case AppendLog:
		entry := a.Entry
		entry.CorrelationID = ""
		next.appendLog(entry)

	case StreamDelta:
		segment := models.TextSegment{Text: a.Text, Class: models.ClassSystem}
		index := slices.IndexFunc(next.Logs, func(e models.LogEntry) bool {
			return e.CorrelationID == a.CorrelationID
		})
		if index >= 0 {
			entry := next.Logs[index]
			segments := make([]models.TextSegment, 0, len(entry.Segments)+1)
			segments = append(segments, entry.Segments...)
			entry.Segments = append(segments, segment)
			next.Logs[index] = entry
		} else {
			next.appendLog(models.LogEntry{
				CorrelationID: a.CorrelationID,
				Segments:      []models.TextSegment{segment},
			})
		}

	case SelectFile:
		next.SelectedFile = a.Path

	case ReplaceFileList:
		next.Files = append([]string(nil), a.Files...)
		next.RepoHash = a.RepoHash
		next.Commit = a.Commit
		if next.SelectedFile != "" && !slices.Contains(next.Files, next.SelectedFile) {
			next.SelectedFile = ""
		}

	case UpdateUserMetadata:
		user, ok := next.Users[a.ID]
		if !ok {
			next.appendDiagnostic(fmt.Sprintf("Metadata update for unknown user %d ignored", a.ID))
			break
		}
		if a.Name != nil && *a.Name != user.Name {
			next.appendLog(models.Segment(fmt.Sprintf("%s is now known as %s", user.Name, *a.Name), models.ClassSystem))
			user.Name = *a.Name
		}
		if a.ActiveFile != nil {
			user.ActiveFile = *a.ActiveFile
		}
		next.Users[a.ID] = user

	case UserJoined:
		if _, exists := next.Users[a.User.ID]; exists {
			next.appendDiagnostic(fmt.Sprintf("Join for already-present user %d ignored", a.User.ID))
			break
		}
		next.Users[a.User.ID] = a.User
		next.appendLog(models.Segment(
			fmt.Sprintf("%s (id: %d) joined the room", a.User.Name, a.User.ID),
			UserColor(a.User.ID, next.CurrentUserID),
		))

	case UserLeft:
		user, ok := next.Users[a.ID]
		if !ok {
			next.appendDiagnostic(fmt.Sprintf("Leave for unknown user %d ignored", a.ID))
			break
		}
		delete(next.Users, a.ID)
		next.appendLog(models.Segment(
			fmt.Sprintf("%s (id: %d) left the room", user.Name, user.ID),
			UserColor(user.ID, next.CurrentUserID),
		))

	case ChatReceived:
		user, ok := next.Users[a.UserID]
		if !ok {
			next.appendDiagnostic(fmt.Sprintf("Chat from unknown user %d ignored", a.UserID))
			break
		}
		next.appendLog(models.Segment(
			fmt.Sprintf("<%s> %s", user.Name, a.Content),
			UserColor(a.UserID, next.CurrentUserID),
		))

	default:
		next.appendDiagnostic(fmt.Sprintf("Unhandled action %T ignored", action))
	}

	// The presence index is rebuilt unconditionally, rejected transitions
	// included. The rebuild is idempotent, so running it on an unchanged
	// roster is harmless and no branch can leave a stale index behind.
	next.recomputePresence()
	return next, nil
}

func (s *State) appendLog(entry models.LogEntry) {
	s.Logs = append(s.Logs, entry)
}

func (s *State) appendDiagnostic(text string) {
	s.appendLog(models.Segment(text, models.ClassError))
}
