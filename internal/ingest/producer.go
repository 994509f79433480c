package ingest

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/PratikDhanave/attendance-ingest/internal/models"
)

// Producer accepts readings from request handlers. With queueing enabled it
// pushes them onto the shared queue; otherwise, or when the push fails, it
// hands the reading to the dispatcher as a one-item batch.
type Producer struct {
	queue      Queue
	dispatcher BatchDispatcher
	enabled    bool
	log        *zap.Logger
	metrics    *Metrics
}

// ProducerOption customises a Producer.
type ProducerOption func(*Producer)

// WithProducerLogger sets the logger used for fallback warnings.
func WithProducerLogger(l *zap.Logger) ProducerOption {
	return func(p *Producer) {
		if l != nil {
			p.log = l
		}
	}
}

// WithProducerMetrics sets the metrics sink.
func WithProducerMetrics(m *Metrics) ProducerOption {
	return func(p *Producer) { p.metrics = m }
}

// NewProducer builds a Producer. queue may be nil when enabled is false.
func NewProducer(queue Queue, dispatcher BatchDispatcher, enabled bool, opts ...ProducerOption) *Producer {
	p := &Producer{
		queue:      queue,
		dispatcher: dispatcher,
		enabled:    enabled && queue != nil,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EnqueueFace queues a face reading, or dispatches it directly.
// Only direct-dispatch errors are returned.
func (p *Producer) EnqueueFace(ctx context.Context, r models.FaceReading) error {
	direct := func() error {
		return p.dispatcher.ProcessFaceBatch(ctx, []models.FaceReading{r})
	}
	if !p.enabled {
		return direct()
	}
	msg, err := EncodeFace(r)
	return p.pushOrFallback(ctx, ReadingFace, msg, err, direct)
}

// EnqueueCard queues a card reading, or dispatches it directly.
// Only direct-dispatch errors are returned.
func (p *Producer) EnqueueCard(ctx context.Context, r models.CardReading) error {
	direct := func() error {
		return p.dispatcher.ProcessCardBatch(ctx, []models.CardReading{r})
	}
	if !p.enabled {
		return direct()
	}
	msg, err := EncodeCard(r)
	return p.pushOrFallback(ctx, ReadingCard, msg, err, direct)
}

func (p *Producer) pushOrFallback(ctx context.Context, t ReadingType, msg []byte, encErr error, direct func() error) error {
	err := encErr
	if err == nil {
		err = p.queue.Push(ctx, msg)
	}
	if err == nil {
		p.metrics.incEnqueued(t)
		return nil
	}

	reason := "push"
	var serr *SerializationError
	if errors.As(err, &serr) {
		reason = "serialize"
	}
	p.log.Warn("enqueue failed, dispatching directly",
		zap.Stringer("type", t),
		zap.String("reason", reason),
		zap.Error(err),
	)
	p.metrics.incFallback(t, reason)
	return direct()
}
