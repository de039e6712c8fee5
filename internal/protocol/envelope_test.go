package protocol

import (
	"errors"
	"reflect"
	"testing"

	"gittyup-client/internal/models"
)

func TestDecodeKnownKinds(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Envelope
	}{
		{
			name: "chat",
			raw:  `4 chat {"content":"hello there"}`,
			want: Envelope{SenderID: 4, Payload: ChatPayload{Content: "hello there"}},
		},
		{
			name: "chat payload containing spaces and braces",
			raw:  `12 chat {"content":"a {weird} message with  spaces"}`,
			want: Envelope{SenderID: 12, Payload: ChatPayload{Content: "a {weird} message with  spaces"}},
		},
		{
			name: "join",
			raw:  `0 join {"user":{"id":9,"name":"Ada","activeFile":"main.js"}}`,
			want: Envelope{SenderID: 0, Payload: JoinPayload{
				User: models.UserRecord{ID: 9, Name: "Ada", ActiveFile: "main.js"},
			}},
		},
		{
			name: "leave",
			raw:  `7 leave {}`,
			want: Envelope{SenderID: 7, Payload: LeavePayload{}},
		},
		{
			name: "llm delta",
			raw:  `0 llmDelta {"id":"t1","content":"Hel"}`,
			want: Envelope{SenderID: 0, Payload: LLMDeltaPayload{ID: "t1", Content: "Hel"}},
		},
		{
			name: "welcome",
			raw:  `3 welcome {"users":[{"id":3,"name":"Bob","activeFile":""}],"repoHash":"r1","currentCommit":"c1","files":["a.js","b.js"]}`,
			want: Envelope{SenderID: 3, Payload: WelcomePayload{
				Users:         []models.UserRecord{{ID: 3, Name: "Bob"}},
				RepoHash:      "r1",
				CurrentCommit: "c1",
				Files:         []string{"a.js", "b.js"},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.raw)
			if err != nil {
				t.Fatalf("Decode(%q) error: %v", tt.raw, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Decode(%q) = %#v, want %#v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestDecodeUpdateMetadataPartialFields(t *testing.T) {
	got, err := Decode(`5 updateMetadata {"activeFile":"src/app.js"}`)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	payload, ok := got.Payload.(UpdateMetadataPayload)
	if !ok {
		t.Fatalf("payload is %T, want UpdateMetadataPayload", got.Payload)
	}
	if payload.ActiveFile == nil || *payload.ActiveFile != "src/app.js" {
		t.Errorf("ActiveFile = %v, want src/app.js", payload.ActiveFile)
	}
	if payload.Name != nil {
		t.Errorf("Name = %q, want nil (field absent on the wire)", *payload.Name)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	got, err := Decode(`2 shrug {"whatever":true}`)
	if err != nil {
		t.Fatalf("unknown kind must not be a codec error, got %v", err)
	}
	payload, ok := got.Payload.(UnknownPayload)
	if !ok {
		t.Fatalf("payload is %T, want UnknownPayload", got.Payload)
	}
	if payload.Kind() != "shrug" {
		t.Errorf("Kind() = %q, want shrug", payload.Kind())
	}
	if string(payload.Raw) != `{"whatever":true}` {
		t.Errorf("Raw = %s", payload.Raw)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"no spaces", "justonefield"},
		{"one space", "3 chat"},
		{"non-integer id", `abc chat {"content":"x"}`},
		{"invalid json payload", "3 chat not-json"},
		{"invalid json unknown kind", "3 mystery not-json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.raw)
			var malformed *MalformedEnvelopeError
			if !errors.As(err, &malformed) {
				t.Fatalf("Decode(%q) error = %v, want MalformedEnvelopeError", tt.raw, err)
			}
			if malformed.Raw != tt.raw {
				t.Errorf("error carries raw %q, want %q", malformed.Raw, tt.raw)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	name := "Grace"
	envelopes := []Envelope{
		{SenderID: 1, Payload: ChatPayload{Content: "hi all"}},
		{SenderID: 2, Payload: JoinPayload{User: models.UserRecord{ID: 2, Name: "Eve"}}},
		{SenderID: 3, Payload: LeavePayload{}},
		{SenderID: 4, Payload: LLMDeltaPayload{ID: "d1", Content: "token"}},
		{SenderID: 5, Payload: UpdateMetadataPayload{Name: &name}},
		{SenderID: 6, Payload: WelcomePayload{
			Users:         []models.UserRecord{{ID: 6, Name: "Hal", ActiveFile: "x.go"}},
			RepoHash:      "abcd",
			CurrentCommit: "ef01",
			Files:         []string{"x.go"},
		}},
	}

	for _, e := range envelopes {
		t.Run(e.Payload.Kind(), func(t *testing.T) {
			raw, err := Encode(e)
			if err != nil {
				t.Fatalf("Encode error: %v", err)
			}
			got, err := Decode(raw)
			if err != nil {
				t.Fatalf("Decode(%q) error: %v", raw, err)
			}
			if !reflect.DeepEqual(got, e) {
				t.Errorf("round trip: got %#v, want %#v", got, e)
			}
		})
	}
}
