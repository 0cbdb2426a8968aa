package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/inventory/config"
)

// MessageHandler processes one inbound queue message body. A returned error
// abandons the message back to the queue for redelivery.
type MessageHandler func(ctx context.Context, body []byte) error

// ServiceBus wraps one Azure Service Bus connection with per-queue senders
type ServiceBus struct {
	client  *azservicebus.Client
	senders map[string]*azservicebus.Sender
	mu      sync.Mutex
}

// NewServiceBus creates a new Azure Service Bus client
func NewServiceBus(cfg config.AzureConfig) (*ServiceBus, error) {
	if cfg.ConnStr == "" {
		return nil, errors.New("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	return &ServiceBus{
		client:  client,
		senders: make(map[string]*azservicebus.Sender),
	}, nil
}

func (s *ServiceBus) sender(queueName string) (*azservicebus.Sender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sender, ok := s.senders[queueName]; ok {
		return sender, nil
	}

	sender, err := s.client.NewSender(queueName, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create sender for queue %s", queueName)
	}
	s.senders[queueName] = sender
	return sender, nil
}

// Publish sends one JSON message to the named queue
func (s *ServiceBus) Publish(ctx context.Context, queueName string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message body")
	}

	sender, err := s.sender(queueName)
	if err != nil {
		return err
	}

	msg := &azservicebus.Message{
		Body: data,
		ApplicationProperties: map[string]interface{}{
			"source": "inventory-service",
			"time":   time.Now().UTC().Format(time.RFC3339),
		},
	}

	return sender.SendMessage(ctx, msg, nil)
}

// ProcessMessages consumes the named queue until ctx is cancelled. Handler
// failures abandon the message for redelivery instead of dropping it.
func (s *ServiceBus) ProcessMessages(ctx context.Context, queueName string, handler MessageHandler) error {
	log.Info().Str("queue", queueName).Msg("starting queue consumer")

	receiver, err := s.client.NewReceiverForQueue(queueName, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to create receiver for queue %s", queueName)
	}
	defer func() {
		if err := receiver.Close(context.Background()); err != nil {
			log.Error().Err(err).Str("queue", queueName).Msg("error closing receiver")
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		messages, err := receiver.ReceiveMessages(ctx, 10, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Str("queue", queueName).Msg("error receiving messages")
			time.Sleep(2 * time.Second)
			continue
		}

		for _, message := range messages {
			if err := handler(ctx, message.Body); err != nil {
				log.Error().Err(err).Str("message_id", message.MessageID).Msg("error processing message")
				if err := receiver.AbandonMessage(context.Background(), message, nil); err != nil {
					log.Error().Err(err).Msgf("(AbandonMessage) err: %v", err)
				}
				continue
			}

			if err := receiver.CompleteMessage(context.Background(), message, nil); err != nil {
				log.Error().Err(err).Msgf("(CompleteMessage) err: %v", err)
			}
		}
	}
}

// Close closes all senders and the underlying connection
func (s *ServiceBus) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sender := range s.senders {
		if err := sender.Close(context.Background()); err != nil {
			return err
		}
	}

	if s.client != nil {
		return s.client.Close(context.Background())
	}
	return nil
}
