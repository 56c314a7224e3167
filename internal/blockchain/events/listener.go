// based on https://www.hyperledger.org/blog/2019/02/19/hyperledger-sawtooth-events-in-go-2
package events

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/hyperledger/sawtooth-sdk-go/messaging"
	"github.com/hyperledger/sawtooth-sdk-go/protobuf/client_event_pb2"
	"github.com/hyperledger/sawtooth-sdk-go/protobuf/events_pb2"
	"github.com/hyperledger/sawtooth-sdk-go/protobuf/validator_pb2"
	"github.com/pebbe/zmq4"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

type Handler func(event *events_pb2.Event) error

// EventListener pushes live validator events to handlers. Delivery is best
// effort: nothing is replayed after a disconnect.
type EventListener struct {
	log          *zap.Logger
	connection   messaging.Connection
	validatorUrl string
	handlers     map[string]Handler

	mu      sync.Mutex
	stopped bool
	wg      *sync.WaitGroup
}

func NewEventListener(logger *zap.Logger, validatorAddr string) *EventListener {
	return &EventListener{
		log:          logger,
		validatorUrl: fmt.Sprint("tcp://", validatorAddr),
		handlers:     make(map[string]Handler),
		wg:           &sync.WaitGroup{},
	}
}

// SetHandler registers the handler of an event type. Call before Start.
func (e *EventListener) SetHandler(eventType string, handler Handler) {
	e.handlers[eventType] = handler
}

func (e *EventListener) Start() error {
	if len(e.handlers) == 0 {
		return errors.New("no event handlers set")
	}

	zmqContext, err := zmq4.NewContext()
	if err != nil {
		return err
	}

	zmqConnection, err := messaging.NewConnection(
		zmqContext,
		zmq4.DEALER,
		e.validatorUrl,
		false,
	)
	if err != nil {
		return err
	}
	e.connection = zmqConnection

	if err := e.subscribe(); err != nil {
		e.connection.Close()
		return err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.listenLoop(); err != nil && !e.isStopped() {
			e.log.Error("event listener stopped: " + err.Error())
		}
	}()

	return nil
}

// Stop closes the connection, which also ends the subscription on the
// validator side, and waits for running handlers.
func (e *EventListener) Stop() {
	e.mu.Lock()
	if e.stopped || e.connection == nil {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	e.connection.Close()
	e.log.Info("waiting for all the event handlers to finish...")
	e.wg.Wait()
	e.log.Info("event listener handlers finished")
}

func (e *EventListener) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

func (e *EventListener) listenLoop() error {
	e.log.Info("start listening on blockchain events")

	for {
		_, message, err := e.connection.RecvMsg()
		if err != nil {
			return err
		}
		if message.MessageType != validator_pb2.Message_CLIENT_EVENTS {
			e.log.Warn("unexpected message type: " + message.MessageType.String())
			continue
		}

		eventList := events_pb2.EventList{}
		if err := proto.Unmarshal(message.Content, &eventList); err != nil {
			return err
		}

		for _, event := range eventList.Events {
			handler, ok := e.handlers[event.EventType]
			if !ok {
				e.log.Debug("handler missing for the event: " + event.EventType)
				continue
			}

			e.wg.Add(1)
			go func(event *events_pb2.Event) {
				defer e.wg.Done()

				if err := handler(event); err != nil {
					e.log.Error("error when handling the event: "+err.Error(), zap.String("eventType", event.EventType))
				}
			}(event)
		}
	}
}

func (e *EventListener) subscribe() error {
	subscriptions := make([]*events_pb2.EventSubscription, 0, len(e.handlers))
	for eventType := range e.handlers {
		subscriptions = append(subscriptions, &events_pb2.EventSubscription{EventType: eventType})
	}
	request := client_event_pb2.ClientEventsSubscribeRequest{
		Subscriptions: subscriptions,
	}

	serializedReq, err := proto.Marshal(&request)
	if err != nil {
		return err
	}

	corrId, err := e.connection.SendNewMsg(
		validator_pb2.Message_CLIENT_EVENTS_SUBSCRIBE_REQUEST,
		serializedReq,
	)
	if err != nil {
		return err
	}

	e.log.Debug("waiting for receiving the subscription confirmation...")
	_, response, err := e.connection.RecvMsgWithId(corrId)
	if err != nil {
		return err
	}

	subsResponse := client_event_pb2.ClientEventsSubscribeResponse{}
	if err := proto.Unmarshal(response.Content, &subsResponse); err != nil {
		return err
	}
	if subsResponse.Status != client_event_pb2.ClientEventsSubscribeResponse_OK {
		return errors.New("client subscription failed, subscription status: " + subsResponse.String())
	}

	e.log.Info("successfully subscribed to events", zap.Int("types", len(subscriptions)))
	return nil
}

// Attribute returns the value of a named event attribute.
func Attribute(event *events_pb2.Event, key string) (string, bool) {
	for _, attr := range event.GetAttributes() {
		if attr.GetKey() == key {
			return attr.GetValue(), true
		}
	}
	return "", false
}

// BlockNum reads the block number of a sawtooth/block-commit event.
func BlockNum(event *events_pb2.Event) (uint64, error) {
	v, ok := Attribute(event, "block_num")
	if !ok {
		return 0, errors.New("block commit event without block_num")
	}
	return strconv.ParseUint(v, 10, 64)
}
