package broker

import (
	"encoding/json"
	"fmt"

	"peercast/internal/core/domain"
)

// MessageType enumerates the signaling wire protocol.
type MessageType string

const (
	// MessageOpen is sent by the server once, carrying the assigned identity.
	MessageOpen MessageType = "open"
	// MessageOffer carries an SDP offer for a new data or media connection.
	MessageOffer MessageType = "offer"
	// MessageAnswer carries the SDP answer for a pending connection.
	MessageAnswer MessageType = "answer"
	// MessageCandidate carries one trickled ICE candidate.
	MessageCandidate MessageType = "candidate"
	// MessageLeave announces that the sender tore a connection down.
	MessageLeave MessageType = "leave"
	// MessageHeartbeat keeps the broker link alive.
	MessageHeartbeat MessageType = "heartbeat"
	// MessageError reports a routing or protocol failure to the sender.
	MessageError MessageType = "error"
)

// Connection kinds carried in offer payloads.
const (
	KindData  = "data"
	KindMedia = "media"
)

// Message is the signaling envelope. Src is stamped by the server on relayed
// messages; Dst selects the relay target.
type Message struct {
	Type    MessageType     `json:"type"`
	Src     domain.PeerID   `json:"src,omitempty"`
	Dst     domain.PeerID   `json:"dst,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OpenPayload carries the server-assigned identity.
type OpenPayload struct {
	ID domain.PeerID `json:"id"`
}

// OfferPayload opens a connection of the given kind.
type OfferPayload struct {
	ConnectionID domain.ConnectionID `json:"connection_id"`
	Kind         string              `json:"kind"`
	SDP          string              `json:"sdp"`
}

// AnswerPayload completes connection negotiation.
type AnswerPayload struct {
	ConnectionID domain.ConnectionID `json:"connection_id"`
	SDP          string              `json:"sdp"`
}

// CandidatePayload trickles one ICE candidate for a connection.
type CandidatePayload struct {
	ConnectionID  domain.ConnectionID `json:"connection_id"`
	Candidate     string              `json:"candidate"`
	SDPMid        *string             `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16             `json:"sdp_mline_index,omitempty"`
}

// LeavePayload announces a connection teardown.
type LeavePayload struct {
	ConnectionID domain.ConnectionID `json:"connection_id"`
}

// ErrorPayload reports a failure back to the sender.
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewMessage builds an envelope with a marshaled payload.
func NewMessage(t MessageType, dst domain.PeerID, payload interface{}) (Message, error) {
	msg := Message{Type: t, Dst: dst}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		msg.Payload = data
	}
	return msg, nil
}

// Decode unmarshals the payload into out.
func (m Message) Decode(out interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, out); err != nil {
		return fmt.Errorf("invalid %s payload: %w", m.Type, err)
	}
	return nil
}
