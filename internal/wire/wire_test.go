package wire_test

import (
	"errors"
	"testing"

	cbus "github.com/next-trace/scg-cqrs-adapters/contract/bus"
	berr "github.com/next-trace/scg-cqrs-adapters/contract/errors"
	"github.com/next-trace/scg-cqrs-adapters/internal/wire"
)

type createUser struct {
	Name string `json:"name"`
}

func TestEncode_ReplyToOnlyWhenWanted(t *testing.T) {
	env := cbus.Envelope{
		ID:          "1",
		Type:        "createUser",
		Destination: cbus.Destination{Endpoint: "users", Host: "node-a"},
		Command:     createUser{Name: "ada"},
	}

	b, err := wire.Encode(env, "replies.x")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	m, err := wire.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if m.ReplyTo != "" || m.WantReply {
		t.Fatalf("unexpected reply fields: %+v", m)
	}

	if m.Destination != "users@node-a" || string(m.Command) != `{"name":"ada"}` {
		t.Fatalf("message: %+v", m)
	}

	env.WantReply = true

	b, _ = wire.Encode(env, "replies.x")
	m, _ = wire.Decode(b)

	if m.ReplyTo != "replies.x" || !m.WantReply {
		t.Fatalf("reply fields: %+v", m)
	}
}

func TestEncode_UnsupportedPayload(t *testing.T) {
	_, err := wire.Encode(cbus.Envelope{Type: "ch", Command: make(chan int)}, "")
	if !errors.Is(err, berr.ErrSerializationFailed) {
		t.Fatalf("want ErrSerializationFailed, got %v", err)
	}
}

func TestDecode_Invalid(t *testing.T) {
	for _, in := range []string{"{", `{"id":"1"}`} {
		if _, err := wire.Decode([]byte(in)); !errors.Is(err, berr.ErrSerializationFailed) {
			t.Fatalf("%q: want ErrSerializationFailed, got %v", in, err)
		}
	}

	if _, err := wire.DecodeReply([]byte("nope")); !errors.Is(err, berr.ErrSerializationFailed) {
		t.Fatalf("want ErrSerializationFailed, got %v", err)
	}
}

func TestReply_Decode(t *testing.T) {
	b, err := wire.EncodeReply(cbus.Reply{CorrelationID: "c1", Code: 3, Error: "denied"})
	if err != nil {
		t.Fatalf("encode reply: %v", err)
	}

	r, err := wire.DecodeReply(b)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}

	if r.CorrelationID != "c1" || r.Code != 3 || r.Error != "denied" {
		t.Fatalf("reply: %+v", r)
	}
}
