package fanout

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/user/newspulse/internal/types"
)

// Kafka is the production transport between ingestion and analysis. The
// record key is the fingerprint, so all deliveries of one fingerprint land
// on one partition and stay ordered.
type Kafka struct {
	producer *kgo.Client
	brokers  []string
	topic    string
	group    string
}

func NewKafka(brokers []string, topic, group string) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address is required")
	}
	producer, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Kafka{producer: producer, brokers: brokers, topic: topic, group: group}, nil
}

// Publish implements Publisher with a synchronous produce per batch.
func (k *Kafka) Publish(ctx context.Context, batch []types.Fingerprint) error {
	if len(batch) > MaxBatchSize {
		return types.E(types.KindPermanent, "batch of %d exceeds cap %d", len(batch), MaxBatchSize)
	}
	records := make([]*kgo.Record, 0, len(batch))
	for _, fp := range batch {
		records = append(records, &kgo.Record{
			Topic: k.topic,
			Key:   []byte(fp),
			Value: []byte(fp),
		})
	}
	results := k.producer.ProduceSync(ctx, records...)
	if err := results.FirstErr(); err != nil {
		return types.E(types.KindTransientIO, "produce batch", err)
	}
	return nil
}

// Consume implements Consumer with a consumer-group poll loop. It blocks
// until the context is cancelled.
func (k *Kafka) Consume(ctx context.Context, handler func(context.Context, types.Fingerprint)) error {
	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(k.brokers...),
		kgo.ConsumerGroup(k.group),
		kgo.ConsumeTopics(k.topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}
	defer consumer.Close()

	for {
		fetches := consumer.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return ctx.Err()
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fetchErr := range errs {
				slog.Warn("kafka fetch error", "topic", fetchErr.Topic, "error", fetchErr.Err)
			}
			continue
		}
		fetches.EachRecord(func(record *kgo.Record) {
			handler(ctx, types.Fingerprint(record.Value))
		})
	}
}

// Close shuts down the producer client.
func (k *Kafka) Close() {
	k.producer.Close()
}
