// Package substrate implements the message-passing layer distwq's controller,
// worker and broker roles run on top of: point-to-point send/receive,
// non-blocking probe, collective scatter/gather/barrier, and process spawn.
package substrate

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// MessageTag classifies an Envelope the way an MPI tag would.
type MessageTag int

const (
	TagReady MessageTag = iota
	TagTask
	TagDone
	TagExit
)

func (t MessageTag) String() string {
	switch t {
	case TagReady:
		return "READY"
	case TagTask:
		return "TASK"
	case TagDone:
		return "DONE"
	case TagExit:
		return "EXIT"
	default:
		return fmt.Sprintf("MessageTag(%d)", int(t))
	}
}

// Envelope is the unit exchanged over a point-to-point connection. Rank is
// the sender's rank within the communicator the connection belongs to.
type Envelope struct {
	Tag     MessageTag
	Rank    int
	Payload []byte
}

// EncodeEnvelope gob-encodes tag/rank/v into a single framed Envelope.
func EncodeEnvelope(tag MessageTag, rank int, v interface{}) ([]byte, error) {
	var payload bytes.Buffer
	if v != nil {
		if err := gob.NewEncoder(&payload).Encode(v); err != nil {
			return nil, fmt.Errorf("substrate: encode payload: %w", err)
		}
	}
	env := Envelope{Tag: tag, Rank: rank, Payload: payload.Bytes()}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return nil, fmt.Errorf("substrate: encode envelope: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeEnvelope reverses EncodeEnvelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("substrate: decode envelope: %w", err)
	}
	return env, nil
}

// DecodePayload decodes an Envelope's Payload into out.
func DecodePayload(env Envelope, out interface{}) error {
	return DecodeBytes(env.Payload, out)
}

// DecodeBytes decodes a raw gob-encoded payload into out, as produced by
// Scatter for a non-root recipient.
func DecodeBytes(data []byte, out interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(out); err != nil {
		return fmt.Errorf("substrate: decode payload: %w", err)
	}
	return nil
}
