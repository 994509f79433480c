package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PratikDhanave/attendance-ingest/internal/models"
)

// Drain defaults, matching the ingestion.queue.* configuration defaults.
const (
	DefaultBatchSize    = 100
	DefaultPopTimeout   = 200 * time.Millisecond
	DefaultPollInterval = 500 * time.Millisecond
	DefaultDedupPrefix  = "attendance:dedup"
)

// DrainerConfig bounds a single drain tick and spaces ticks apart.
type DrainerConfig struct {
	BatchSize int
	// PopTimeout bounds each pop; zero pops without blocking.
	PopTimeout   time.Duration
	PollInterval time.Duration
	DedupPrefix  string
}

func (c *DrainerConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.PopTimeout < 0 {
		c.PopTimeout = 0
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.DedupPrefix == "" {
		c.DedupPrefix = DefaultDedupPrefix
	}
}

// TickReport summarises one drain tick.
type TickReport struct {
	ID             uuid.UUID
	Popped         int
	Duplicates     int
	Unparseable    int
	Face           int // readings handed to ProcessFaceBatch
	Card           int // readings handed to ProcessCardBatch
	DispatchErrors int
	Err            error // queue error that cut popping short
}

// Drainer periodically moves messages from the queue to the dispatcher.
// Ticks never overlap: the next one is scheduled PollInterval after the
// previous one returns.
type Drainer struct {
	queue      Queue
	dedup      DedupIndex
	dispatcher BatchDispatcher
	cfg        DrainerConfig
	log        *zap.Logger
	metrics    *Metrics
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// DrainerOption customises a Drainer.
type DrainerOption func(*Drainer)

// WithDrainerLogger sets the logger for tick failures and summaries.
func WithDrainerLogger(l *zap.Logger) DrainerOption {
	return func(d *Drainer) {
		if l != nil {
			d.log = l
		}
	}
}

// WithDrainerMetrics sets the metrics sink.
func WithDrainerMetrics(m *Metrics) DrainerOption {
	return func(d *Drainer) { d.metrics = m }
}

// WithClock replaces time.Now; the clock decides the dedup key's calendar day.
func WithClock(now func() time.Time) DrainerOption {
	return func(d *Drainer) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDrainer builds a stopped Drainer; zero config fields take the defaults.
func NewDrainer(queue Queue, dedup DedupIndex, dispatcher BatchDispatcher, cfg DrainerConfig, opts ...DrainerOption) *Drainer {
	cfg.applyDefaults()
	d := &Drainer{
		queue:      queue,
		dedup:      dedup,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start runs the drain loop in the background until Stop or ctx cancellation.
// The first tick runs immediately.
func (d *Drainer) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return ErrDrainerRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.loop(ctx, d.done)

	d.log.Info("drainer started",
		zap.Int("batch_size", d.cfg.BatchSize),
		zap.Duration("pop_timeout", d.cfg.PopTimeout),
		zap.Duration("poll_interval", d.cfg.PollInterval),
	)
	return nil
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (d *Drainer) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	d.log.Info("drainer stopped")
}

func (d *Drainer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		d.runTick(ctx)
		timer.Reset(d.cfg.PollInterval)
	}
}

// runTick is the loop's guard: nothing a tick does may take the loop down.
func (d *Drainer) runTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.incTickFailure()
			d.log.Warn("drain tick panicked", zap.Any("panic", r))
		}
	}()

	rep := d.Tick(ctx)
	if rep.Popped > 0 {
		d.log.Debug("drain tick",
			zap.Stringer("tick", rep.ID),
			zap.Int("popped", rep.Popped),
			zap.Int("duplicates", rep.Duplicates),
			zap.Int("unparseable", rep.Unparseable),
			zap.Int("face", rep.Face),
			zap.Int("card", rep.Card),
			zap.Int("dispatch_errors", rep.DispatchErrors),
		)
	}
	if d.metrics != nil && ctx.Err() == nil {
		if n, err := d.queue.Len(ctx); err == nil {
			d.metrics.setQueueDepth(n)
		}
	}
}

// Tick runs one drain tick synchronously: pop, dedup, parse, batch, dispatch.
// Failures are logged and reported, never returned to a caller.
func (d *Drainer) Tick(ctx context.Context) TickReport {
	rep := TickReport{ID: uuid.New()}
	log := d.log.With(zap.Stringer("tick", rep.ID))

	items, err := d.popBatch(ctx)
	rep.Popped = len(items)
	d.metrics.addPopped(len(items))
	if err != nil && !errors.Is(err, context.Canceled) {
		rep.Err = err
		d.metrics.incTickFailure()
		log.Warn("queue drain interrupted", zap.Int("popped", len(items)), zap.Error(err))
	}
	if len(items) == 0 {
		return rep
	}

	// Popped messages are gone from the queue; finish them even if the loop is stopping.
	work := context.WithoutCancel(ctx)

	var (
		faces []models.FaceReading
		cards []models.CardReading
	)
	for _, raw := range items {
		key := DedupKey(d.cfg.DedupPrefix, d.now(), raw)
		fresh, err := d.dedup.AcceptIfNew(work, key)
		if err != nil {
			log.Warn("dedup index unavailable, accepting message", zap.String("key", key), zap.Error(err))
			fresh = true
		}
		if !fresh {
			rep.Duplicates++
			continue
		}

		env, err := Decode(raw)
		if err != nil {
			rep.Unparseable++
			log.Warn("skipping unparseable queue message", zap.Error(err))
			continue
		}
		switch env.Type {
		case ReadingFace:
			faces = append(faces, *env.Face)
		case ReadingCard:
			cards = append(cards, *env.Card)
		}
	}
	d.metrics.addDuplicates(rep.Duplicates)
	d.metrics.addUnparseable(rep.Unparseable)

	if len(faces) > 0 {
		rep.Face = len(faces)
		err := d.dispatch(func() error { return d.dispatcher.ProcessFaceBatch(work, faces) })
		d.metrics.observeDispatch(ReadingFace, len(faces), err)
		if err != nil {
			rep.DispatchErrors++
			log.Error("face batch dispatch failed", zap.Int("size", len(faces)), zap.Error(err))
		}
	}
	if len(cards) > 0 {
		rep.Card = len(cards)
		err := d.dispatch(func() error { return d.dispatcher.ProcessCardBatch(work, cards) })
		d.metrics.observeDispatch(ReadingCard, len(cards), err)
		if err != nil {
			rep.DispatchErrors++
			log.Error("card batch dispatch failed", zap.Int("size", len(cards)), zap.Error(err))
		}
	}
	return rep
}

// popBatch pops until BatchSize items, the first empty pop, or an error.
// Items popped before an error are returned alongside it.
func (d *Drainer) popBatch(ctx context.Context) ([][]byte, error) {
	items := make([][]byte, 0, min(d.cfg.BatchSize, 64))
	for len(items) < d.cfg.BatchSize {
		msg, err := d.queue.Pop(ctx, d.cfg.PopTimeout)
		if errors.Is(err, ErrQueueEmpty) {
			return items, nil
		}
		if err != nil {
			return items, err
		}
		items = append(items, msg)
	}
	return items, nil
}

// dispatch isolates one dispatcher call so a panic fails only that batch.
func (d *Drainer) dispatch(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatcher panic: %v", r)
		}
	}()
	return fn()
}
