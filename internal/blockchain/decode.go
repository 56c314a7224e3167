package blockchain

import (
	"fmt"

	"credential-registry/internal/blockchain/credentialfamily"
	"credential-registry/internal/model"
	"credential-registry/internal/signkeys"

	"github.com/fxamacker/cbor"
	"github.com/hyperledger/sawtooth-sdk-go/protobuf/events_pb2"
)

// decodeBlockEvents turns the events of one block into model events. The log
// index of an event is its position in the validator's list.
func decodeBlockEvents(block uint64, raw []*events_pb2.Event) ([]model.Event, []error) {
	var (
		events    []model.Event
		malformed []error
	)
	for i, e := range raw {
		at := model.Position{Block: block, LogIndex: uint32(i)}
		ev, err := DecodeEvent(at, e.GetEventType(), e.GetData())
		if err != nil {
			malformed = append(malformed, err)
			continue
		}
		events = append(events, ev)
	}
	return events, malformed
}

func malformedf(at model.Position, eventType string, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s at %d/%d: %s", model.ErrMalformedEvent, eventType, at.Block, at.LogIndex, fmt.Sprintf(format, args...))
}

// DecodeEvent validates a raw credential event. Every error wraps
// model.ErrMalformedEvent.
func DecodeEvent(at model.Position, eventType string, data []byte) (model.Event, error) {
	var d credentialfamily.EventData
	if err := cbor.Unmarshal(data, &d); err != nil {
		return nil, malformedf(at, eventType, "cbor: %v", err)
	}

	ref := model.RequestRef{Kind: model.RequestKind(d.Kind), ID: d.RequestID}
	if !ref.Kind.IsValid() {
		return nil, malformedf(at, eventType, "unknown request kind %q", d.Kind)
	}

	switch eventType {
	case credentialfamily.EventRequestCreated:
		if d.Quorum < 1 {
			return nil, malformedf(at, eventType, "quorum %d", d.Quorum)
		}
		return model.RequestCreated{At: at, Ref: ref, UniversityID: d.UniversityID, Quorum: d.Quorum, Payload: d.Payload}, nil

	case credentialfamily.EventApproved, credentialfamily.EventWithdrawn:
		verifier, err := signkeys.NormalizeAddress(d.Verifier)
		if err != nil {
			return nil, malformedf(at, eventType, "%v", err)
		}
		if eventType == credentialfamily.EventApproved {
			return model.Approved{At: at, Ref: ref, Verifier: verifier}, nil
		}
		return model.Withdrawn{At: at, Ref: ref, Verifier: verifier}, nil

	case credentialfamily.EventRejected:
		return model.Rejected{At: at, Ref: ref}, nil

	case credentialfamily.EventExecuted:
		token := d.TokenID
		// only issuance mints a token
		if ref.Kind != model.KindIssuance || (token != nil && *token == "") {
			token = nil
		}
		return model.Executed{At: at, Ref: ref, TokenID: token}, nil
	}

	return nil, malformedf(at, eventType, "unknown event type")
}
