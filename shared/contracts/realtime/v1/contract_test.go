package v1

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{name: "ok", env: Envelope{V: Version, Type: TypeChatSend}},
		{name: "missing version", env: Envelope{Type: TypeHello}, wantErr: true},
		{name: "wrong version", env: Envelope{V: "v2", Type: TypeHello}, wantErr: true},
		{name: "missing type", env: Envelope{V: Version}, wantErr: true},
		{name: "unknown type", env: Envelope{V: Version, Type: "message.send"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.env.Validate()
			if tc.wantErr != (err != nil) {
				t.Fatalf("Validate() err=%v wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestChatMessagePayload_OmitsUnpersistedFields(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(ChatMessagePayload{SenderID: 1, ReceiverID: 2, Content: "hi"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got, want := string(b), `{"sender_id":1,"receiver_id":2,"content":"hi"}`; got != want {
		t.Fatalf("got %s want %s", got, want)
	}

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b, err = json.Marshal(ChatMessagePayload{MessageID: 9, SenderID: 1, ReceiverID: 2, Content: "hi", SentAt: &ts})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got, want := string(b), `{"message_id":9,"sender_id":1,"receiver_id":2,"content":"hi","sent_at":"2026-01-02T03:04:05Z"}`; got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}
