package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
)

const consumerClientID = "estatedesk-inquiry-events"

type MessageHandler interface {
	Handle(ctx context.Context, msg *sarama.ConsumerMessage) error
}

// Consumer feeds inquiry events from a consumer group into a MessageHandler.
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler MessageHandler
	logger  *slog.Logger
}

func NewConsumer(brokers []string, groupID string, topics []string, cfg *sarama.Config, handler MessageHandler, logger *slog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if len(topics) == 0 || handler == nil {
		return nil, errors.New("kafka: consumer needs topics and a handler")
	}
	if logger == nil {
		logger = slog.Default()
	}
	group, err := sarama.NewConsumerGroup(brokers, groupID, groupConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("kafka: consumer group %s: %w", groupID, err)
	}
	return &Consumer{group: group, topics: topics, handler: handler, logger: logger}, nil
}

func groupConfig(cfg *sarama.Config) *sarama.Config {
	if cfg == nil {
		cfg = sarama.NewConfig()
		cfg.ClientID = consumerClientID
	}
	cfg.Version = sarama.V2_5_0_0
	// Only events raised after startup matter; the first refresh loads the rest.
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true
	return cfg
}

func (c *Consumer) Topics() []string { return append([]string(nil), c.topics...) }

// Run consumes until ctx is cancelled or the group fails. Consume returns on
// every rebalance, so it is re-entered in a loop.
func (c *Consumer) Run(ctx context.Context) error {
	go c.logErrors(ctx)
	claims := claimHandler{handler: c.handler, logger: c.logger}
	for {
		if err := c.group.Consume(ctx, c.topics, claims); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (c *Consumer) logErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-c.group.Errors():
			if !ok {
				return
			}
			c.logger.Warn("inquiry events consumer error", "error", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type claimHandler struct {
	handler MessageHandler
	logger  *slog.Logger
}

func (h claimHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.Debug("inquiry events partitions assigned", "claims", sess.Claims())
	return nil
}

func (h claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim leaves failed messages unmarked so they are redelivered after a rebalance.
func (h claimHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handler.Handle(sess.Context(), msg); err != nil {
				h.logger.Warn("inquiry event not handled",
					"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
				continue
			}
			sess.MarkMessage(msg, "")
		}
	}
}
