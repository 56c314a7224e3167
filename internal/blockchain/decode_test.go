package blockchain

import (
	"testing"

	"credential-registry/internal/blockchain/credentialfamily"
	"credential-registry/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	at := model.Position{Block: 9, LogIndex: 2}
	issuance := model.RequestRef{Kind: model.KindIssuance, ID: 5}
	token := "tok-5"

	tests := []struct {
		name      string
		eventType string
		data      credentialfamily.EventData
		want      model.Event
	}{
		{
			name:      "created",
			eventType: credentialfamily.EventRequestCreated,
			data:      credentialfamily.EventData{Kind: "issuance", RequestID: 5, UniversityID: 3, Quorum: 2, Payload: []byte("p")},
			want:      model.RequestCreated{At: at, Ref: issuance, UniversityID: 3, Quorum: 2, Payload: []byte("p")},
		},
		{
			name:      "withdrawn with prefixed upper case verifier",
			eventType: credentialfamily.EventWithdrawn,
			data:      credentialfamily.EventData{Kind: "issuance", RequestID: 5, Verifier: "0x0279BE667EF9DCBBAC55A06295CE870B07029BFCDB2DCE28D959F2815B16F81798"},
			want:      model.Withdrawn{At: at, Ref: issuance, Verifier: testVerifier},
		},
		{
			name:      "rejected",
			eventType: credentialfamily.EventRejected,
			data:      credentialfamily.EventData{Kind: "issuance", RequestID: 5},
			want:      model.Rejected{At: at, Ref: issuance},
		},
		{
			name:      "executed issuance",
			eventType: credentialfamily.EventExecuted,
			data:      credentialfamily.EventData{Kind: "issuance", RequestID: 5, TokenID: &token},
			want:      model.Executed{At: at, Ref: issuance, TokenID: &token},
		},
		{
			name:      "executed revocation drops token",
			eventType: credentialfamily.EventExecuted,
			data:      credentialfamily.EventData{Kind: "revocation", RequestID: 5, TokenID: &token},
			want:      model.Executed{At: at, Ref: model.RequestRef{Kind: model.KindRevocation, ID: 5}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEvent(at, tt.eventType, mustCbor(t, tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeEventMalformed(t *testing.T) {
	at := model.Position{Block: 1}
	tests := []struct {
		name      string
		eventType string
		data      []byte
	}{
		{"not cbor", credentialfamily.EventApproved, []byte{0xff, 0x00}},
		{"unknown kind", credentialfamily.EventRejected, mustCbor(t, credentialfamily.EventData{Kind: "transfer", RequestID: 1})},
		{"zero quorum", credentialfamily.EventRequestCreated, mustCbor(t, credentialfamily.EventData{Kind: "issuance", RequestID: 1})},
		{"bad verifier", credentialfamily.EventApproved, mustCbor(t, credentialfamily.EventData{Kind: "issuance", RequestID: 1, Verifier: "0xabc"})},
		{"unknown type", "credential/minted", mustCbor(t, credentialfamily.EventData{Kind: "issuance", RequestID: 1})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEvent(at, tt.eventType, tt.data)
			assert.ErrorIs(t, err, model.ErrMalformedEvent)
		})
	}
}
