package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/angelmondragon/events-collector/internal/analytics/buffer"
	"github.com/angelmondragon/events-collector/internal/analytics/deadletter"
	"github.com/angelmondragon/events-collector/internal/analytics/registry"
	"github.com/angelmondragon/events-collector/internal/analytics/types"
	"github.com/angelmondragon/events-collector/internal/analytics/validation"
	pkgerrors "github.com/angelmondragon/events-collector/pkg/errors"
	"github.com/angelmondragon/events-collector/pkg/kafka"
	"github.com/angelmondragon/events-collector/pkg/logger"
	"github.com/angelmondragon/events-collector/pkg/metrics"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
	"go.uber.org/multierr"
)

const (
	defaultPollTimeout   = time.Second
	defaultCommitTimeout = 10 * time.Second

	defaultDeadLetterTimeout = 5 * time.Second
)

// Consumer is the slice of the kafka group client the service drives.
type Consumer interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitOffsetsSync(ctx context.Context, uncommitted map[string]map[int32]kgo.EpochOffset, onDone func(*kgo.Client, *kmsg.OffsetCommitRequest, *kmsg.OffsetCommitResponse, error))
	Close()
}

var _ Consumer = (*kgo.Client)(nil)

// Options wires the service dependencies. Consumer, Registry, Validator, Inserter and Logger are required.
type Options struct {
	Consumer   Consumer
	Registry   *registry.Registry
	Validator  *validation.Validator
	Inserter   buffer.Inserter
	DeadLetter deadletter.Sink
	Metrics    *metrics.PipelineMetrics
	Logger     *logger.Logger
	Clock      buffer.Clock

	Batch         buffer.Config
	PollTimeout   time.Duration
	CommitTimeout time.Duration

	// DeadLetterTimeout bounds each quarantine publish so a stuck sink cannot stall the loop.
	DeadLetterTimeout time.Duration
}

// Service is the single-goroutine consume loop: poll, validate, map, buffer, flush, commit.
// None of its state is shared, so nothing is locked.
type Service struct {
	consumer   Consumer
	registry   *registry.Registry
	validator  *validation.Validator
	deadLetter deadletter.Sink
	metrics    *metrics.PipelineMetrics
	logg       *logger.Logger

	pollTimeout       time.Duration
	commitTimeout     time.Duration
	deadLetterTimeout time.Duration

	buffers map[string]*buffer.BatchBuffer
	tables  []string

	// pending holds the highest processed offset per partition, committed as offset+1.
	pending map[types.TopicPartition]kgo.EpochOffset
	// unflushed tracks which tables still buffer rows read from each partition.
	unflushed map[types.TopicPartition]map[string]struct{}
}

// NewService builds one buffer per registry table.
func NewService(opts Options) (*Service, error) {
	if opts.Consumer == nil {
		return nil, errors.New("kafka consumer is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("event registry is required")
	}
	if opts.Validator == nil {
		return nil, errors.New("validator is required")
	}
	if opts.Inserter == nil {
		return nil, errors.New("store inserter is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.DeadLetter == nil {
		opts.DeadLetter = deadletter.Nop{}
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaultPollTimeout
	}
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = defaultCommitTimeout
	}
	if opts.DeadLetterTimeout <= 0 {
		opts.DeadLetterTimeout = defaultDeadLetterTimeout
	}

	tables := opts.Registry.Tables()
	if len(tables) == 0 {
		return nil, errors.New("event registry has no tables")
	}
	buffers := make(map[string]*buffer.BatchBuffer, len(tables))
	for _, table := range tables {
		buf, err := buffer.New(table, opts.Registry.ColumnsFor(table), opts.Inserter, opts.Clock, opts.Batch)
		if err != nil {
			return nil, fmt.Errorf("buffer for %s: %w", table, err)
		}
		buffers[table] = buf
	}

	return &Service{
		consumer:      opts.Consumer,
		registry:      opts.Registry,
		validator:     opts.Validator,
		deadLetter:    opts.DeadLetter,
		metrics:       opts.Metrics,
		logg:          opts.Logger,
		pollTimeout:       opts.PollTimeout,
		commitTimeout:     opts.CommitTimeout,
		deadLetterTimeout: opts.DeadLetterTimeout,
		buffers:           buffers,
		tables:            tables,
		pending:           map[types.TopicPartition]kgo.EpochOffset{},
		unflushed:         map[types.TopicPartition]map[string]struct{}{},
	}, nil
}

// Run consumes until ctx is cancelled, then drains: every non-empty buffer is flushed,
// committable offsets are committed and the consumer is closed.
func (s *Service) Run(ctx context.Context) error {
	s.logg.Info(s.logg.WithField(ctx, "tables", s.tables), "events collector consuming")

	for ctx.Err() == nil {
		if closed := s.pollOnce(ctx); closed {
			s.logg.Warn(ctx, "kafka client closed, stopping")
			break
		}
	}
	return s.drain(ctx)
}

func (s *Service) pollOnce(ctx context.Context) bool {
	pollCtx, cancel := context.WithTimeout(ctx, s.pollTimeout)
	fetches := s.consumer.PollFetches(pollCtx)
	cancel()

	if fetches.IsClientClosed() {
		return true
	}

	fetches.EachError(func(topic string, partition int32, err error) {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return
		}
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"topic":     topic,
			"partition": partition,
		})
		s.logg.Warn(s.logg.WithFields(logCtx, pkgerrors.Dump(err).Fields()), "kafka fetch error")
	})

	fetches.EachRecord(func(rec *kgo.Record) {
		s.handleRecord(ctx, rec)
	})

	// Runs on every iteration so idle tables still flush on schedule.
	s.flushDue(ctx)
	return false
}

func (s *Service) handleRecord(ctx context.Context, rec *kgo.Record) {
	s.metrics.IncConsumed(rec.Topic)
	tp := types.TopicPartition{Topic: rec.Topic, Partition: rec.Partition}

	table, err := s.process(rec)
	s.advance(tp, rec)
	if err != nil {
		s.skip(ctx, rec, err)
		return
	}

	s.markUnflushed(tp, table)
	buf := s.buffers[table]
	s.metrics.ObserveBuffered(table, buf.Len())
	if buf.ShouldFlush() {
		s.flushAndCommit(ctx, s.window(table))
	}
}

// process turns one record into a buffered row and returns its table.
func (s *Service) process(rec *kgo.Record) (string, error) {
	env, err := s.validator.DecodeEnvelope(rec.Value)
	if err != nil {
		return "", err
	}

	desc, ok := s.registry.Get(env.EventType, env.EventVersion)
	if !ok {
		return "", pkgerrors.New(pkgerrors.CodeUnknownEvent, "no descriptor registered").
			WithDetails(map[string]any{
				"event_type":    string(env.EventType),
				"event_version": env.EventVersion,
			})
	}

	payload := desc.Schema()
	if err := s.validator.ValidatePayload(env, payload, rec.Value); err != nil {
		return "", err
	}

	row, err := desc.Mapper(env.OccurredAt, env.EventID, payload)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("map %s", desc.Key))
	}
	buf, ok := s.buffers[desc.Table]
	if !ok {
		return "", pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("no buffer for table %s", desc.Table))
	}
	buf.Add(row)
	return desc.Table, nil
}

func (s *Service) skip(ctx context.Context, rec *kgo.Record, err error) {
	code := skipCode(err)
	reason := pkgerrors.MetadataFor(code).SkipReason
	s.metrics.IncSkipped(reason)

	fields := map[string]any{
		"topic":       rec.Topic,
		"partition":   rec.Partition,
		"offset":      rec.Offset,
		"skip_reason": reason,
	}
	entry := deadletter.NewEntry(reason, rec.Topic, rec.Partition, rec.Offset, rec.Value, err)

	var sve *validation.SchemaValidationError
	if errors.As(err, &sve) {
		fields["stage"] = string(sve.Stage)
		fields["event_type"] = string(sve.EventType)
		fields["event_version"] = sve.EventVersion
		fields["raw"] = string(rec.Value)
		entry.Stage = string(sve.Stage)
		entry.EventType = string(sve.EventType)
		entry.EventVersion = sve.EventVersion
	} else if typed := pkgerrors.As(err); typed != nil {
		if details, ok := typed.Details().(map[string]any); ok {
			for k, v := range details {
				fields[k] = v
			}
		}
	}

	logCtx := s.logg.WithFields(ctx, fields)
	if code == pkgerrors.CodeUnknownEvent {
		s.logg.Warn(logCtx, "unknown event type, skipping")
		return
	}
	s.logg.Warn(s.logg.WithFields(logCtx, pkgerrors.Dump(err).Fields()), "rejected message, skipping")

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deadLetterTimeout)
	defer cancel()
	if pubErr := s.deadLetter.Publish(pubCtx, entry); pubErr != nil {
		s.logg.Error(logCtx, "dead-letter publish failed", pubErr)
	}
}

func skipCode(err error) pkgerrors.Code {
	var sve *validation.SchemaValidationError
	if errors.As(err, &sve) {
		return sve.Code()
	}
	return pkgerrors.CodeOf(err)
}

// advance raises the partition watermark. Skipped messages count as processed.
func (s *Service) advance(tp types.TopicPartition, rec *kgo.Record) {
	if cur, ok := s.pending[tp]; ok && cur.Offset >= rec.Offset {
		return
	}
	s.pending[tp] = kgo.EpochOffset{Epoch: rec.LeaderEpoch, Offset: rec.Offset}
}

func (s *Service) markUnflushed(tp types.TopicPartition, table string) {
	set, ok := s.unflushed[tp]
	if !ok {
		set = map[string]struct{}{}
		s.unflushed[tp] = set
	}
	set[table] = struct{}{}
}

// window expands table to every table sharing an unflushed partition with it, so that flushing
// the window makes those partitions committable.
func (s *Service) window(table string) []string {
	set := map[string]struct{}{table: {}}
	for _, tables := range s.unflushed {
		if _, ok := tables[table]; !ok {
			continue
		}
		for t := range tables {
			set[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (s *Service) flushDue(ctx context.Context) {
	var due []string
	for _, table := range s.tables {
		if s.buffers[table].ShouldFlush() {
			due = append(due, table)
		}
	}

	seen := map[string]struct{}{}
	var window []string
	for _, table := range due {
		for _, t := range s.window(table) {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			window = append(window, t)
		}
	}
	sort.Strings(window)
	s.flushAndCommit(ctx, window)
}

func (s *Service) flushAndCommit(ctx context.Context, tables []string) {
	ioCtx := context.WithoutCancel(ctx)
	if err := s.flush(ioCtx, tables); err != nil {
		s.logg.Error(s.logg.WithFields(ctx, pkgerrors.Dump(err).Fields()), "flush failed, rows kept for retry", err)
	}
	if err := s.commit(ioCtx); err != nil {
		s.logg.Error(ctx, "offset commit failed", err)
	}
}

// flush writes each table in turn. A failed table keeps its rows and its partitions stay uncommitted.
func (s *Service) flush(ctx context.Context, tables []string) error {
	var err error
	for _, table := range tables {
		buf := s.buffers[table]
		start := time.Now()
		n, flushErr := buf.Flush(ctx)
		if n == 0 && flushErr == nil {
			continue
		}
		s.metrics.ObserveFlush(table, n, time.Since(start), flushErr)
		if flushErr != nil {
			err = multierr.Append(err, fmt.Errorf("flush %s: %w", table, flushErr))
			continue
		}
		s.markFlushed(table)
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{"table": table, "rows": n}), "batch flushed")
	}
	return err
}

func (s *Service) markFlushed(table string) {
	for tp, tables := range s.unflushed {
		delete(tables, table)
		if len(tables) == 0 {
			delete(s.unflushed, tp)
		}
	}
}

// commit synchronously commits offset+1 for every partition whose rows are all durable.
// On failure the watermarks are kept and retried with the next commit.
func (s *Service) commit(ctx context.Context) error {
	offsets := map[string]map[int32]kgo.EpochOffset{}
	var ready []types.TopicPartition
	for tp, eo := range s.pending {
		if len(s.unflushed[tp]) > 0 {
			continue
		}
		partitions, ok := offsets[tp.Topic]
		if !ok {
			partitions = map[int32]kgo.EpochOffset{}
			offsets[tp.Topic] = partitions
		}
		partitions[tp.Partition] = kgo.EpochOffset{Epoch: eo.Epoch, Offset: eo.Offset + 1}
		ready = append(ready, tp)
	}
	if len(ready) == 0 {
		return nil
	}

	commitCtx, cancel := context.WithTimeout(ctx, s.commitTimeout)
	defer cancel()

	var commitErr error
	s.consumer.CommitOffsetsSync(commitCtx, offsets, func(_ *kgo.Client, _ *kmsg.OffsetCommitRequest, resp *kmsg.OffsetCommitResponse, err error) {
		if err != nil {
			commitErr = err
			return
		}
		commitErr = kafka.CommitResponseError(resp)
	})
	s.metrics.IncCommit(commitErr)
	if commitErr != nil {
		return fmt.Errorf("commit offsets: %w", commitErr)
	}

	for _, tp := range ready {
		delete(s.pending, tp)
	}
	s.logg.Debug(s.logg.WithField(ctx, "offsets", offsets), "offsets committed")
	return nil
}

func (s *Service) drain(ctx context.Context) error {
	ioCtx := context.WithoutCancel(ctx)
	s.logg.Info(ctx, "draining buffers")

	var nonEmpty []string
	for _, table := range s.tables {
		if s.buffers[table].Len() > 0 {
			nonEmpty = append(nonEmpty, table)
		}
	}

	err := s.flush(ioCtx, nonEmpty)
	err = multierr.Append(err, s.commit(ioCtx))
	s.consumer.Close()

	if err != nil {
		s.logg.Error(s.logg.WithFields(ctx, pkgerrors.Dump(err).Fields()), "drain incomplete, uncommitted rows will be redelivered", err)
		return err
	}
	s.logg.Info(ctx, "drain complete")
	return nil
}
