package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"cropdoctor/internal/models"
)

// Producer enqueues analysis jobs onto the Kafka topic.
type Producer struct {
	writer *kafka.Writer
	log    *zap.Logger
}

func NewProducer(broker, topic string, log *zap.Logger) *Producer {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: []string{broker},
		Topic:   topic,
	})
	return &Producer{writer: writer, log: log}
}

// Enqueue validates the job and writes it to the topic. Malformed jobs are
// rejected here rather than failing inside the worker.
func (p *Producer) Enqueue(ctx context.Context, job models.AnalysisJob) error {
	if err := validateJob(job); err != nil {
		return err
	}
	value, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(job.ImageStorageKey),
		Value: value,
	}); err != nil {
		return fmt.Errorf("queue: write message: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func validateJob(job models.AnalysisJob) error {
	if job.FarmerID == "" {
		return fmt.Errorf("queue: job missing farmer id")
	}
	if job.ImageURL == "" {
		return fmt.Errorf("queue: job missing image url")
	}
	if job.ImageStorageKey == "" {
		return fmt.Errorf("queue: job missing storage key")
	}
	return nil
}

// Job is one fetched queue entry; the Kafka message stays attached so the
// consumer can commit it after processing.
type Job struct {
	Payload models.AnalysisJob
	msg     kafka.Message
}

// Consumer pulls analysis jobs from the topic. The group watermark is
// cumulative per partition, so the worker commits an offset only once the job
// is fully handled: processed, re-enqueued for another attempt, or dropped
// out of attempts.
type Consumer struct {
	reader *kafka.Reader
	log    *zap.Logger
}

func NewConsumer(broker, topic, groupID string, log *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{broker},
		Topic:   topic,
		GroupID: groupID,
	})
	return &Consumer{reader: reader, log: log}
}

// Fetch blocks until a decodable job arrives or ctx is canceled. Undecodable
// messages are committed and skipped: they can never succeed, and enqueue-time
// validation means they should not exist.
func (c *Consumer) Fetch(ctx context.Context) (Job, error) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return Job{}, err
		}
		var payload models.AnalysisJob
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			c.log.Error("Dropping undecodable job", zap.Error(err), zap.Int64("offset", msg.Offset))
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				return Job{}, err
			}
			continue
		}
		return Job{Payload: payload, msg: msg}, nil
	}
}

func (c *Consumer) Commit(ctx context.Context, job Job) error {
	return c.reader.CommitMessages(ctx, job.msg)
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
