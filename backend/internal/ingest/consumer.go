package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/IBM/sarama"
)

// Consumer reads response events off the stream and hands them to the
// ingestor. Offsets are committed only for records that were handled
// (including soft failures); a hard failure aborts the claim so Kafka
// redelivers from the last commit — the at-least-once contract the whole
// merge engine is built to tolerate.
type Consumer struct {
	group    sarama.ConsumerGroup
	topic    string
	ingestor *Ingestor
}

func NewConsumer(brokers []string, groupID, topic string, ingestor *Ingestor) (*Consumer, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}
	return &Consumer{group: group, topic: topic, ingestor: ingestor}, nil
}

// Run consumes until ctx is cancelled. Consume returns on every rebalance,
// so it loops.
func (c *Consumer) Run(ctx context.Context) error {
	h := &consumerHandler{ingestor: c.ingestor}
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			log.Printf("consumer: consume err=%v", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type consumerHandler struct {
	ingestor *Ingestor
}

func (h *consumerHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var evt ResponseEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			// 脏消息直接跳过，重投递也解析不出来
			log.Printf("consumer: drop undecodable event partition=%d offset=%d err=%v",
				msg.Partition, msg.Offset, err)
			session.MarkMessage(msg, "")
			continue
		}

		err := h.ingestor.IngestRecord(session.Context(), evt.Record)
		switch {
		case err == nil:
			session.MarkMessage(msg, "")
		case errors.Is(err, ErrMalformedRecord):
			log.Printf("consumer: malformed record entity=%s err=%v", evt.PartitionKey(), err)
			session.MarkMessage(msg, "")
		case errors.Is(err, context.Canceled):
			return nil
		default:
			// 不 Mark，退出 claim，让 Kafka 从上次提交处重投递
			return err
		}
	}
	return nil
}
