package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PratikDhanave/attendance-ingest/internal/models"
)

// ReadingType discriminates the payload carried by an Envelope.
type ReadingType uint8

const (
	readingUnknown ReadingType = iota
	ReadingFace
	ReadingCard
)

func (t ReadingType) String() string {
	switch t {
	case ReadingFace:
		return "face"
	case ReadingCard:
		return "card"
	default:
		return "unknown"
	}
}

// ParseReadingType maps a wire tag to a ReadingType. Unknown tags are rejected.
func ParseReadingType(s string) (ReadingType, error) {
	switch {
	case strings.EqualFold(s, "face"):
		return ReadingFace, nil
	case strings.EqualFold(s, "card"):
		return ReadingCard, nil
	default:
		return readingUnknown, &ParseError{Reason: fmt.Sprintf("unrecognized type %q", s)}
	}
}

// Envelope is a decoded queue message. Exactly one of Face or Card is set,
// matching Type.
type Envelope struct {
	Type ReadingType
	Face *models.FaceReading
	Card *models.CardReading
}

type wireEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeFace wraps r into the transport format.
func EncodeFace(r models.FaceReading) ([]byte, error) {
	return encode(ReadingFace, r)
}

// EncodeCard wraps r into the transport format.
func EncodeCard(r models.CardReading) ([]byte, error) {
	return encode(ReadingCard, r)
}

func encode(t ReadingType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &SerializationError{Type: t, Err: err}
	}
	b, err := json.Marshal(wireEnvelope{Type: t.String(), Payload: raw})
	if err != nil {
		return nil, &SerializationError{Type: t, Err: err}
	}
	return b, nil
}

// Decode parses a raw queue message. Every failure is a *ParseError.
func Decode(raw []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return Envelope{}, &ParseError{Reason: "malformed json", Err: err}
	}

	t, err := ParseReadingType(w.Type)
	if err != nil {
		return Envelope{}, err
	}

	payload := bytes.TrimSpace(w.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return Envelope{Type: t}, &ParseError{Reason: t.String() + " payload missing"}
	}

	switch t {
	case ReadingFace:
		var r models.FaceReading
		if err := json.Unmarshal(payload, &r); err != nil {
			return Envelope{Type: t}, &ParseError{Reason: "face payload", Err: err}
		}
		if err := r.Validate(); err != nil {
			return Envelope{Type: t}, &ParseError{Reason: "face payload", Err: err}
		}
		return Envelope{Type: t, Face: &r}, nil
	case ReadingCard:
		var r models.CardReading
		if err := json.Unmarshal(payload, &r); err != nil {
			return Envelope{Type: t}, &ParseError{Reason: "card payload", Err: err}
		}
		if err := r.Validate(); err != nil {
			return Envelope{Type: t}, &ParseError{Reason: "card payload", Err: err}
		}
		return Envelope{Type: t, Card: &r}, nil
	}
	return Envelope{}, &ParseError{Reason: "unreachable reading type " + t.String()}
}
