package broker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewMessageCarriesPayload(t *testing.T) {
	msg, err := NewMessage(MessageOffer, "viewer-1", OfferPayload{
		ConnectionID: "conn-1",
		Kind:         KindMedia,
		SDP:          "v=0",
	})
	assert.NoError(t, err)
	assert.Equal(t, MessageOffer, msg.Type)
	assert.Equal(t, "viewer-1", string(msg.Dst))

	var p OfferPayload
	assert.NoError(t, msg.Decode(&p))
	assert.Equal(t, KindMedia, p.Kind)
	assert.Equal(t, "v=0", p.SDP)
}

func TestDecodeRejectsMalformedPayload(t *testing.T) {
	msg := Message{Type: MessageCandidate, Payload: json.RawMessage(`{"candidate":42}`)}
	var p CandidatePayload
	assert.Error(t, msg.Decode(&p))
}

func TestDecodeRejectsEmptyPayload(t *testing.T) {
	msg := Message{Type: MessageLeave}
	var p LeavePayload
	assert.Error(t, msg.Decode(&p))
}
