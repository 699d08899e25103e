package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/reminator329/trainingbook/internal/entity"
	"github.com/reminator329/trainingbook/internal/graph"
)

// Publisher turns store upserts into EntityUpserted messages keyed by record id.
type Publisher struct {
	writer Writer
	codec  *graph.Codec
	topic  string
	logger *zap.Logger
	now    func() time.Time
}

// NewPublisher constructs a Publisher. An empty topic selects DefaultTopic.
func NewPublisher(writer Writer, codec *graph.Codec, topic string, logger *zap.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{writer: writer, codec: codec, topic: topic, logger: logger, now: time.Now}
}

// Upserted implements store.Listener.
func (p *Publisher) Upserted(ctx context.Context, collection string, e entity.Entity) error {
	tag, err := p.codec.Registry().TagOf(e)
	if err != nil {
		return err
	}
	doc, err := p.codec.Encode(e)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", e.EntityID(), err)
	}
	record, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", e.EntityID(), err)
	}
	payload, err := json.Marshal(EntityUpserted{
		Collection: collection,
		ID:         e.EntityID().String(),
		Class:      tag.Class,
		Module:     tag.Module,
		Record:     record,
		UpsertedAt: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("events: marshal payload: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(e.EntityID()),
		Value: payload,
		Time:  p.now().UTC(),
		Headers: []kafka.Header{
			{Key: "collection", Value: []byte(collection)},
			{Key: "class", Value: []byte(tag.String())},
		},
	}
	if err := p.writer.WriteMessages(ctx, p.topic, msg); err != nil {
		return fmt.Errorf("events: publish %s: %w", e.EntityID(), err)
	}
	p.logger.Debug("published upsert",
		zap.String("topic", p.topic),
		zap.String("collection", collection),
		zap.String("id", e.EntityID().String()),
	)
	return nil
}
