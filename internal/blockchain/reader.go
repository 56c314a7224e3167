// based on https://www.hyperledger.org/blog/2019/02/19/hyperledger-sawtooth-events-in-go-2
package blockchain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"credential-registry/internal/blockchain/credentialfamily"
	"credential-registry/internal/model"

	"github.com/hyperledger/sawtooth-sdk-go/messaging"
	"github.com/hyperledger/sawtooth-sdk-go/protobuf/client_event_pb2"
	"github.com/hyperledger/sawtooth-sdk-go/protobuf/events_pb2"
	"github.com/hyperledger/sawtooth-sdk-go/protobuf/validator_pb2"
	"github.com/pebbe/zmq4"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

type blockEventFetcher interface {
	BlockEvents(ctx context.Context, blockID string) ([]*events_pb2.Event, error)
}

// zmqEventFetcher asks the validator for the credential events of one block
// at a time. The connection is opened lazily and dropped on any failure.
type zmqEventFetcher struct {
	log          *zap.Logger
	validatorUrl string

	mu         sync.Mutex
	connection messaging.Connection
}

func newZmqEventFetcher(logger *zap.Logger, validatorHost string) *zmqEventFetcher {
	return &zmqEventFetcher{
		log:          logger,
		validatorUrl: fmt.Sprint("tcp://", validatorHost),
	}
}

func (f *zmqEventFetcher) connect() error {
	if f.connection != nil {
		return nil
	}

	zmqContext, err := zmq4.NewContext()
	if err != nil {
		return err
	}

	zmqConnection, err := messaging.NewConnection(
		zmqContext,
		zmq4.DEALER,
		f.validatorUrl,
		false,
	)
	if err != nil {
		return err
	}
	f.connection = zmqConnection
	return nil
}

func (f *zmqEventFetcher) dropConnection() {
	if f.connection != nil {
		f.connection.Close()
		f.connection = nil
	}
}

func (f *zmqEventFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropConnection()
	return nil
}

func (f *zmqEventFetcher) BlockEvents(ctx context.Context, blockID string) ([]*events_pb2.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.connect(); err != nil {
		return nil, fmt.Errorf("%w: connect to validator: %v", model.ErrLedgerUnavailable, err)
	}

	subscriptions := make([]*events_pb2.EventSubscription, 0, len(credentialfamily.EventTypes()))
	for _, eventType := range credentialfamily.EventTypes() {
		subscriptions = append(subscriptions, &events_pb2.EventSubscription{EventType: eventType})
	}
	request := client_event_pb2.ClientEventsGetRequest{
		Subscriptions: subscriptions,
		BlockIds:      []string{blockID},
	}
	serializedReq, err := proto.Marshal(&request)
	if err != nil {
		return nil, err
	}

	corrId, err := f.connection.SendNewMsg(validator_pb2.Message_CLIENT_EVENTS_GET_REQUEST, serializedReq)
	if err != nil {
		f.dropConnection()
		return nil, fmt.Errorf("%w: send events request: %v", model.ErrLedgerUnavailable, err)
	}

	type received struct {
		message *validator_pb2.Message
		err     error
	}
	ch := make(chan received, 1)
	go func(conn messaging.Connection) {
		_, message, err := conn.RecvMsgWithId(corrId)
		ch <- received{message, err}
	}(f.connection)

	var res received
	select {
	case <-ctx.Done():
		// the pending receive is abandoned together with its socket
		f.dropConnection()
		return nil, fmt.Errorf("%w: %v", model.ErrLedgerUnavailable, ctx.Err())
	case res = <-ch:
	}
	if res.err != nil {
		f.dropConnection()
		return nil, fmt.Errorf("%w: receive events: %v", model.ErrLedgerUnavailable, res.err)
	}
	if res.message.MessageType != validator_pb2.Message_CLIENT_EVENTS_GET_RESPONSE {
		f.dropConnection()
		return nil, fmt.Errorf("%w: unexpected message type %s", model.ErrLedgerUnavailable, res.message.MessageType)
	}

	response := client_event_pb2.ClientEventsGetResponse{}
	if err := proto.Unmarshal(res.message.Content, &response); err != nil {
		return nil, err
	}

	switch response.Status {
	case client_event_pb2.ClientEventsGetResponse_OK:
		return response.Events, nil
	case client_event_pb2.ClientEventsGetResponse_UNKNOWN_BLOCK, client_event_pb2.ClientEventsGetResponse_INTERNAL_ERROR:
		return nil, fmt.Errorf("%w: events of block %s: %s", model.ErrLedgerUnavailable, blockID, response.Status)
	default:
		return nil, errors.New("events request failed with status " + response.Status.String())
	}
}

// FetchEvents returns the credential events of blocks from..to (inclusive)
// ordered by position. Events failing validation are reported in Malformed
// and left out.
func (c *Client) FetchEvents(ctx context.Context, from, to uint64) (model.EventRange, error) {
	out := model.EventRange{From: from, To: to}
	if from > to {
		return out, nil
	}

	blocks, err := c.blockRange(ctx, from, to)
	if err != nil {
		return out, err
	}

	for _, b := range blocks {
		raw, err := c.events.BlockEvents(ctx, b.ID)
		if err != nil {
			return out, err
		}
		events, malformed := decodeBlockEvents(b.Num, raw)
		out.Events = append(out.Events, events...)
		out.Malformed = append(out.Malformed, malformed...)
	}

	model.SortEvents(out.Events)
	c.logger.Debug("fetched ledger events",
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("events", len(out.Events)),
		zap.Int("malformed", len(out.Malformed)))
	return out, nil
}
