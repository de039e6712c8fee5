// Package protocol implements the wire format exchanged with the session
// endpoint: one message per frame, formatted as
//
//	<senderID> <kind> <payload-json>
//
// where the payload JSON occupies the remainder of the frame and may itself
// contain spaces.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gittyup-client/internal/models"
)

// Envelope kinds.
const (
	KindChat           = "chat"
	KindJoin           = "join"
	KindLeave          = "leave"
	KindLLMDelta       = "llmDelta"
	KindUpdateMetadata = "updateMetadata"
	KindWelcome        = "welcome"
)

// Payload is the closed set of message bodies. Exactly one struct per wire
// kind, plus UnknownPayload for kinds this client does not recognize.
type Payload interface {
	Kind() string
}

type ChatPayload struct {
	Content string `json:"content"`
}

func (ChatPayload) Kind() string { return KindChat }

type JoinPayload struct {
	User models.UserRecord `json:"user"`
}

func (JoinPayload) Kind() string { return KindJoin }

type LeavePayload struct{}

func (LeavePayload) Kind() string { return KindLeave }

type LLMDeltaPayload struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

func (LLMDeltaPayload) Kind() string { return KindLLMDelta }

// UpdateMetadataPayload carries a partial user update. Nil fields were not
// present on the wire and must not overwrite existing values.
type UpdateMetadataPayload struct {
	ActiveFile *string `json:"activeFile,omitempty"`
	Name       *string `json:"name,omitempty"`
}

func (UpdateMetadataPayload) Kind() string { return KindUpdateMetadata }

type WelcomePayload struct {
	Users         []models.UserRecord `json:"users"`
	RepoHash      string              `json:"repoHash"`
	CurrentCommit string              `json:"currentCommit"`
	Files         []string            `json:"files"`
}

func (WelcomePayload) Kind() string { return KindWelcome }

// UnknownPayload preserves a message whose kind this client does not
// understand. Unrecognized kinds are not a codec error; the consumer's
// policy is to surface the raw frame as an opaque system log line.
type UnknownPayload struct {
	WireKind string
	Raw      json.RawMessage
}

func (p UnknownPayload) Kind() string { return p.WireKind }

// Envelope is one transport-level message: who sent it and what it carries.
type Envelope struct {
	SenderID int
	Payload  Payload
}

// MalformedEnvelopeError reports a frame that could not be decoded. Callers
// degrade to logging the raw frame rather than propagating the failure.
type MalformedEnvelopeError struct {
	Raw    string
	Reason string
}

func (e *MalformedEnvelopeError) Error() string {
	return fmt.Sprintf("malformed envelope (%s): %q", e.Reason, e.Raw)
}

// Decode parses a raw frame into an Envelope. The frame is split at the
// first two spaces; everything after the second space is the payload JSON.
func Decode(raw string) (Envelope, error) {
	idText, rest, ok := strings.Cut(raw, " ")
	if !ok {
		return Envelope{}, &MalformedEnvelopeError{Raw: raw, Reason: "missing kind"}
	}
	kind, payloadText, ok := strings.Cut(rest, " ")
	if !ok {
		return Envelope{}, &MalformedEnvelopeError{Raw: raw, Reason: "missing payload"}
	}

	senderID, err := strconv.Atoi(idText)
	if err != nil {
		return Envelope{}, &MalformedEnvelopeError{Raw: raw, Reason: "sender id is not an integer"}
	}

	var payload Payload
	switch kind {
	case KindChat:
		payload = &ChatPayload{}
	case KindJoin:
		payload = &JoinPayload{}
	case KindLeave:
		payload = &LeavePayload{}
	case KindLLMDelta:
		payload = &LLMDeltaPayload{}
	case KindUpdateMetadata:
		payload = &UpdateMetadataPayload{}
	case KindWelcome:
		payload = &WelcomePayload{}
	default:
		if !json.Valid([]byte(payloadText)) {
			return Envelope{}, &MalformedEnvelopeError{Raw: raw, Reason: "payload is not valid JSON"}
		}
		return Envelope{
			SenderID: senderID,
			Payload:  UnknownPayload{WireKind: kind, Raw: json.RawMessage(payloadText)},
		}, nil
	}

	if err := json.Unmarshal([]byte(payloadText), payload); err != nil {
		return Envelope{}, &MalformedEnvelopeError{Raw: raw, Reason: "payload is not valid JSON"}
	}
	return Envelope{SenderID: senderID, Payload: deref(payload)}, nil
}

// deref unwraps the pointer used for unmarshaling so envelopes compare by
// value.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *ChatPayload:
		return *v
	case *JoinPayload:
		return *v
	case *LeavePayload:
		return *v
	case *LLMDeltaPayload:
		return *v
	case *UpdateMetadataPayload:
		return *v
	case *WelcomePayload:
		return *v
	}
	return p
}

// Encode serializes an envelope into the three-field wire format. It is the
// inverse of Decode for every recognized payload kind.
func Encode(e Envelope) (string, error) {
	var payloadText []byte
	var err error
	if unknown, ok := e.Payload.(UnknownPayload); ok {
		payloadText = unknown.Raw
	} else {
		payloadText, err = json.Marshal(e.Payload)
		if err != nil {
			return "", fmt.Errorf("encode %s payload: %w", e.Payload.Kind(), err)
		}
	}
	return fmt.Sprintf("%d %s %s", e.SenderID, e.Payload.Kind(), payloadText), nil
}
