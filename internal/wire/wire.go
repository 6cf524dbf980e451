// Package wire is the JSON encoding of envelopes and replies shared by every transport adapter.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	cbus "github.com/next-trace/scg-cqrs-adapters/contract/bus"
	berr "github.com/next-trace/scg-cqrs-adapters/contract/errors"
)

// Message is an envelope as it travels between processes.
type Message struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Destination string            `json:"destination,omitempty"`
	Command     json.RawMessage   `json:"command"`
	WantReply   bool              `json:"want_reply,omitempty"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// ReplyMessage is a reply as it travels between processes.
type ReplyMessage struct {
	CorrelationID string `json:"correlation_id"`
	Code          int    `json:"code"`
	Error         string `json:"error,omitempty"`
}

// Encode serializes env. replyTo is the transport-specific address replies go to; empty when
// env does not want one.
func Encode(env cbus.Envelope, replyTo string) ([]byte, error) {
	cmd, err := json.Marshal(env.Command)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Type, errors.Join(berr.ErrSerializationFailed, err))
	}

	m := Message{
		ID:          env.ID,
		Type:        env.Type,
		Destination: env.Destination.String(),
		Command:     cmd,
		WantReply:   env.WantReply,
		Headers:     env.Headers,
	}
	if env.WantReply {
		m.ReplyTo = replyTo
	}

	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Type, errors.Join(berr.ErrSerializationFailed, err))
	}

	return b, nil
}

// Decode parses a Message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	if m.Type == "" {
		return Message{}, fmt.Errorf("decode message %q: missing type: %w", m.ID, berr.ErrSerializationFailed)
	}

	return m, nil
}

// EncodeReply serializes r.
func EncodeReply(r cbus.Reply) ([]byte, error) {
	b, err := json.Marshal(ReplyMessage{CorrelationID: r.CorrelationID, Code: r.Code, Error: r.Error})
	if err != nil {
		return nil, fmt.Errorf("encode reply: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	return b, nil
}

// DecodeReply parses a reply.
func DecodeReply(data []byte) (cbus.Reply, error) {
	var m ReplyMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return cbus.Reply{}, fmt.Errorf("decode reply: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	return cbus.Reply{CorrelationID: m.CorrelationID, Code: m.Code, Error: m.Error}, nil
}
