// Package odkafka consumes the OD-ready trigger topic and re-runs
// compute_day for each announced batch. It is the adapted replacement
// for the teacher's Kafka-driven cache invalidation: here a message
// drives re-computation instead of a cache delete, but the consumer
// group wiring (Setup/Cleanup/ConsumeClaim, readiness via partition
// assignment, poison-message-safe error handling) follows
// pkg/invalidation/kafka.Runner directly.
package odkafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/citygrid/h3delay/internal/logger"
	"github.com/citygrid/h3delay/internal/observability"
)

// ComputeDayFn runs compute_day for date against the given source
// pointer and publishes the result (a snapshot publish + history sink
// writes are the caller's responsibility, per cmd/dayrunner's wiring).
type ComputeDayFn func(ctx context.Context, date, source string) error

type Runner struct {
	log      zerolog.Logger
	cfg      Config
	compute  ComputeDayFn
	ms       *metricSet
	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

type Options struct {
	Logger   zerolog.Logger
	Register prometheus.Registerer
}

func New(cfg Config, compute ComputeDayFn, opts Options) *Runner {
	return &Runner{
		log:     opts.Logger,
		cfg:     cfg,
		compute: compute,
		ms:      newMetricSet(opts.Register),
		assign:  map[int32]struct{}{},
	}
}

func (r *Runner) Start(ctx context.Context) error {
	if !r.cfg.Enabled {
		r.log.Info().Msg("od-ready trigger disabled")
		return nil
	}
	if r.compute == nil {
		return errors.New("odkafka runner: compute_day callback is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = r.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = r.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = r.cfg.RebalanceTimeout
	if r.cfg.InitialOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(r.cfg.Brokers, r.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("consumer group: %w", err)
	}

	h := &groupHandler{
		setup: func(sess sarama.ConsumerGroupSession) {
			claims := sess.Claims()
			r.assignMu.Lock()
			r.assigned.Store(true)
			r.assign = map[int32]struct{}{}
			for _, parts := range claims {
				for _, p := range parts {
					r.assign[p] = struct{}{}
				}
			}
			r.assignMu.Unlock()
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			r.assignMu.Lock()
			r.assigned.Store(false)
			r.assign = map[int32]struct{}{}
			r.assignMu.Unlock()
		},
		process: r.handleMessage,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				r.log.Error().Err(err).Msg("kafka consumer group close")
			}
		}()

		for {
			if err := group.Consume(ctx, []string{r.cfg.Topic}, h); err != nil {
				r.log.Error().Err(err).Msg("kafka consume error")
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for err := range group.Errors() {
			r.log.Error().Err(err).Msg("kafka group error")
		}
	}()

	r.log.Info().
		Str("topic", r.cfg.Topic).
		Str("group", r.cfg.GroupID).
		Msg("od-ready trigger started")
	return nil
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info().Msg("od-ready trigger stopped")
}

// Readiness reports whether this consumer currently holds partition
// assignments, for internal/health.Readiness.
func (r *Runner) Readiness() (ready bool, partitions []int32) {
	if !r.assigned.Load() {
		return false, nil
	}
	r.assignMu.RLock()
	defer r.assignMu.RUnlock()
	for p := range r.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

func (r *Runner) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	if !msg.Timestamp.IsZero() {
		r.ms.lagGauge.Set(time.Since(msg.Timestamp).Seconds())
	}

	var ev ODReadyEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		r.ms.msgs.WithLabelValues("decode_error").Inc()
		observability.IncKafkaConsumerError("decode")
		r.log.Error().Err(err).Msg("od-ready message decode failed, dropping")
		return nil
	}
	if ev.Date == "" {
		r.ms.msgs.WithLabelValues("decode_error").Inc()
		observability.IncKafkaConsumerError("missing_date")
		r.log.Error().Msg("od-ready message missing date, dropping")
		return nil
	}

	l := logger.FromContext(logger.WithDate(logger.WithComponent(ctx, "odkafka"), ev.Date), &r.log)
	runCtx := l.WithContext(ctx)

	err := r.compute(runCtx, ev.Date, ev.Source)
	dur := time.Since(start)
	r.ms.proc.WithLabelValues(ev.Date).Observe(dur.Seconds())
	if err != nil {
		r.ms.msgs.WithLabelValues("compute_error").Inc()
		observability.IncKafkaConsumerError("compute_day")
		l.Error().Err(err).Int("rows", ev.Rows).Msg("compute_day failed for od-ready batch")
		// message is still marked consumed below: a poison message here
		// is a bad OD batch, not a transient broker error, so retrying
		// it forever would wedge the consumer group.
		return nil
	}
	r.ms.msgs.WithLabelValues("ok").Inc()
	l.Info().Int("rows", ev.Rows).Dur("duration", dur).Msg("compute_day completed for od-ready batch")
	return nil
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		if err := h.process(ctx, msg); err != nil {
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
