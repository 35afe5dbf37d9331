package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/angelmondragon/events-collector/internal/analytics/buffer"
	"github.com/angelmondragon/events-collector/internal/analytics/deadletter"
	"github.com/angelmondragon/events-collector/internal/analytics/registry"
	"github.com/angelmondragon/events-collector/internal/analytics/types"
	"github.com/angelmondragon/events-collector/internal/analytics/validation"
	"github.com/angelmondragon/events-collector/pkg/logger"
	"github.com/angelmondragon/events-collector/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

const testTopic = "events"

var (
	cardTable = registry.TableSchema + ".card_created"
	userTable = registry.TableSchema + ".user_registered"
	epoch2024 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func TestCardCreatedMapsToOrderedRow(t *testing.T) {
	h := newHarness(t, buffer.Config{Size: 1, FlushInterval: time.Minute})

	h.svc.handleRecord(context.Background(), record(0, 10, cardCreated(42, 7)))

	if len(h.inserter.calls) != 1 {
		t.Fatalf("expected one insert, got %d", len(h.inserter.calls))
	}
	call := h.inserter.calls[0]
	if call.table != cardTable {
		t.Fatalf("unexpected table %s", call.table)
	}
	wantColumns := []string{"event_occurred_at", "produced_at", "event_id", "card_id", "deck_id"}
	require.Equal(t, wantColumns, call.columns)
	if len(call.rows) != 1 {
		t.Fatalf("expected one row, got %d", len(call.rows))
	}
	row := call.rows[0]
	if len(row) != len(wantColumns) {
		t.Fatalf("row arity %d does not match columns %d", len(row), len(wantColumns))
	}
	if ts, ok := row[0].(time.Time); !ok || !ts.Equal(epoch2024) {
		t.Fatalf("unexpected event_occurred_at %v", row[0])
	}
	if ts, ok := row[1].(time.Time); !ok || !ts.Equal(epoch2024) {
		t.Fatalf("unexpected produced_at %v", row[1])
	}
	if row[2] != uint64(42) || row[3] != uint64(7) || row[4] != uint64(3) {
		t.Fatalf("unexpected row tail %v", row[2:])
	}

	h.requireCommits(t, map[int32]int64{0: 11})
}

func TestUnknownEventSkippedWithoutRow(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newHarness(t, buffer.Config{Size: 1, FlushInterval: time.Minute})
	h.svc.metrics = metrics.NewPipelineMetrics(reg)

	unknownType := `{"event_type":"deck_archived","event_version":1,"event_id":1,"occured_at":"2024-01-01T00:00:00Z","producer":"content","payload":{}}`
	unknownVersion := `{"event_type":"card_created","event_version":9,"event_id":2,"occured_at":"2024-01-01T00:00:00Z","producer":"content","payload":{"card_id":1}}`
	h.svc.handleRecord(context.Background(), record(0, 5, unknownType))
	h.svc.handleRecord(context.Background(), record(0, 6, unknownVersion))

	if len(h.inserter.calls) != 0 {
		t.Fatalf("expected no inserts, got %d", len(h.inserter.calls))
	}
	if len(h.sink.entries) != 0 {
		t.Fatalf("unknown events must not be dead-lettered, got %d", len(h.sink.entries))
	}
	if got := counterValue(t, reg, "events_collector_messages_skipped_total", "reason", "unknown_event"); got != 2 {
		t.Fatalf("expected 2 unknown_event skips, got %v", got)
	}

	// Skipped offsets are still committed once nothing from the partition is buffered.
	h.svc.flushDue(context.Background())
	h.requireCommits(t, map[int32]int64{0: 7})
}

func TestInvalidMessagesDoNotBlockValidOnes(t *testing.T) {
	h := newHarness(t, buffer.Config{Size: 10, FlushInterval: time.Minute})
	ctx := context.Background()

	missingCard := `{"event_type":"card_created","event_version":1,"event_id":5,"occured_at":"2024-01-01T00:00:00Z","producer":"content","payload":{"deck_id":3,"created_at":"2024-01-01T00:00:00Z"}}`
	h.svc.handleRecord(ctx, record(0, 1, "not json"))
	h.svc.handleRecord(ctx, record(0, 2, missingCard))
	h.svc.handleRecord(ctx, record(0, 3, cardCreated(6, 8)))

	if got := h.svc.buffers[cardTable].Len(); got != 1 {
		t.Fatalf("expected the valid message to be buffered, got %d rows", got)
	}
	if len(h.sink.entries) != 2 {
		t.Fatalf("expected two dead letters, got %d", len(h.sink.entries))
	}
	decode, schema := h.sink.entries[0], h.sink.entries[1]
	if decode.Reason != "decode" || decode.Offset != 1 || string(decode.Value) != "not json" {
		t.Fatalf("unexpected decode entry %+v", decode)
	}
	if schema.Reason != "schema_validation" || schema.Stage != string(validation.StagePayload) || schema.EventType != "card_created" {
		t.Fatalf("unexpected schema entry %+v", schema)
	}
	if len(h.consumer.commits) != 0 {
		t.Fatalf("nothing should be committed while a row is buffered")
	}
}

func TestDeadLetterFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, buffer.Config{Size: 10, FlushInterval: time.Minute})
	h.sink.err = errors.New("sink down")

	h.svc.handleRecord(context.Background(), record(0, 1, "{"))
	h.svc.handleRecord(context.Background(), record(0, 2, cardCreated(1, 1)))

	if got := h.svc.buffers[cardTable].Len(); got != 1 {
		t.Fatalf("expected processing to continue, got %d rows", got)
	}
}

func TestDeadLetterPublishIsBounded(t *testing.T) {
	reg, err := registry.Default()
	require.NoError(t, err)
	sink := &blockingSink{}
	svc, err := NewService(Options{
		Consumer:          &fakeConsumer{},
		Registry:          reg,
		Validator:         validation.New(),
		Inserter:          &fakeInserter{},
		DeadLetter:        sink,
		Logger:            testLogger(),
		DeadLetterTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		svc.handleRecord(ctx, record(0, 1, "{"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handleRecord blocked on a stuck dead-letter sink")
	}
	if !sink.hadDeadline {
		t.Fatal("expected the publish context to carry a deadline")
	}
	if got := svc.pending[types.TopicPartition{Topic: testTopic, Partition: 0}].Offset; got != 1 {
		t.Fatalf("expected the rejected offset to advance the watermark, got %d", got)
	}
}

func TestEventIDBeyondInt64IsSkippedNotBuffered(t *testing.T) {
	h := newHarness(t, buffer.Config{Size: 1, FlushInterval: time.Minute})
	ctx := context.Background()

	overflow := `{"event_type":"card_created","event_version":1,"event_id":9223372036854775808,"occured_at":"2024-01-01T00:00:00Z","producer":"content","payload":{"card_id":1,"deck_id":3,"created_at":"2024-01-01T00:00:00Z"}}`
	h.svc.handleRecord(ctx, record(0, 1, overflow))
	if got := h.svc.buffers[cardTable].Len(); got != 0 {
		t.Fatalf("expected no buffered row, got %d", got)
	}
	if len(h.sink.entries) != 1 || h.sink.entries[0].Reason != "schema_validation" {
		t.Fatalf("expected one schema dead letter, got %+v", h.sink.entries)
	}

	h.svc.handleRecord(ctx, record(0, 2, cardCreated(7, 7)))
	if len(h.inserter.calls) != 1 || len(h.inserter.calls[0].rows) != 1 {
		t.Fatalf("expected a single one-row insert, got %+v", h.inserter.calls)
	}
	h.requireCommits(t, map[int32]int64{0: 3})
}

func TestCommitOnlyAfterFlush(t *testing.T) {
	h := newHarness(t, buffer.Config{Size: 10, FlushInterval: 3 * time.Second})
	ctx := context.Background()

	for offset := int64(5); offset <= 7; offset++ {
		h.svc.handleRecord(ctx, record(0, offset, cardCreated(uint64(offset), 1)))
	}
	h.svc.flushDue(ctx)
	if len(h.consumer.commits) != 0 {
		t.Fatalf("expected no commit before the flush, got %v", h.consumer.commits)
	}

	h.clock.Advance(3 * time.Second)
	h.svc.flushDue(ctx)

	if len(h.inserter.calls) != 1 || len(h.inserter.calls[0].rows) != 3 {
		t.Fatalf("expected one insert of 3 rows, got %+v", h.inserter.calls)
	}
	h.requireCommits(t, map[int32]int64{0: 8})
	if epoch := h.consumer.commits[0][testTopic][0].Epoch; epoch != 1 {
		t.Fatalf("expected leader epoch carried into commit, got %d", epoch)
	}
}

func TestFlushFailureKeepsRowsAndOffsets(t *testing.T) {
	h := newHarness(t, buffer.Config{Size: 2, FlushInterval: time.Minute})
	h.inserter.errs = []error{errors.New("clickhouse unavailable")}
	ctx := context.Background()

	h.svc.handleRecord(ctx, record(0, 1, cardCreated(1, 1)))
	h.svc.handleRecord(ctx, record(0, 2, cardCreated(2, 2)))

	if len(h.inserter.calls) != 1 {
		t.Fatalf("expected one failed insert, got %d", len(h.inserter.calls))
	}
	if len(h.consumer.commits) != 0 {
		t.Fatalf("offsets must not be committed after a failed flush")
	}
	if got := h.svc.buffers[cardTable].Len(); got != 2 {
		t.Fatalf("expected rows retained, got %d", got)
	}

	h.svc.flushDue(ctx)

	if len(h.inserter.calls) != 2 || len(h.inserter.calls[1].rows) != 2 {
		t.Fatalf("expected retry with the same 2 rows, got %+v", h.inserter.calls)
	}
	h.requireCommits(t, map[int32]int64{0: 3})
}

func TestWindowFlushesTablesSharingAPartition(t *testing.T) {
	h := newHarness(t, buffer.Config{Size: 2, FlushInterval: time.Minute})
	ctx := context.Background()

	h.svc.handleRecord(ctx, record(0, 1, cardCreated(1, 1)))
	h.svc.handleRecord(ctx, record(0, 2, userRegistered(2)))
	h.svc.handleRecord(ctx, record(0, 3, cardCreated(3, 3)))
	h.svc.handleRecord(ctx, record(1, 9, userRegistered(4)))

	tables := map[string]int{}
	for _, call := range h.inserter.calls {
		tables[call.table] += len(call.rows)
	}
	if tables[cardTable] != 2 || tables[userTable] != 1 {
		t.Fatalf("expected both tables flushed together, got %v", tables)
	}
	if got := h.svc.buffers[userTable].Len(); got != 1 {
		t.Fatalf("expected the later partition 1 row still buffered, got %d", got)
	}
	h.requireCommits(t, map[int32]int64{0: 4})
}

func TestDrainFlushesEveryTableAndCommits(t *testing.T) {
	h := newHarness(t, buffer.Config{Size: 100, FlushInterval: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.consumer.polls = []kgo.Fetches{
		fetches(
			record(0, 1, cardCreated(1, 1)),
			record(1, 4, userRegistered(2)),
			record(0, 2, cardCreated(3, 3)),
		),
	}
	h.consumer.onExhausted = cancel

	if err := h.svc.Run(ctx); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	rows := map[string]int{}
	for _, call := range h.inserter.calls {
		rows[call.table] += len(call.rows)
	}
	if rows[cardTable] != 2 || rows[userTable] != 1 {
		t.Fatalf("expected all buffered rows flushed on drain, got %v", rows)
	}
	h.requireCommits(t, map[int32]int64{0: 3, 1: 5})
	if !h.consumer.closed {
		t.Fatal("expected consumer closed after drain")
	}
}

func TestDrainReportsFlushFailure(t *testing.T) {
	h := newHarness(t, buffer.Config{Size: 100, FlushInterval: time.Minute})
	h.inserter.errs = []error{errors.New("boom")}
	h.svc.handleRecord(context.Background(), record(0, 1, cardCreated(1, 1)))

	if err := h.svc.drain(context.Background()); err == nil {
		t.Fatal("expected drain error")
	}
	if len(h.consumer.commits) != 0 {
		t.Fatalf("expected no commit for the failed table")
	}
	if !h.consumer.closed {
		t.Fatal("consumer should still be closed")
	}
}

func TestReplayAfterLostCommitDuplicatesRows(t *testing.T) {
	h := newHarness(t, buffer.Config{Size: 1, FlushInterval: time.Minute})
	h.consumer.commitErrs = []error{errors.New("coordinator not available")}
	ctx := context.Background()

	rec := record(0, 3, cardCreated(42, 7))
	h.svc.handleRecord(ctx, rec)
	redelivered := record(0, 3, cardCreated(42, 7))
	h.svc.handleRecord(ctx, redelivered)

	if len(h.inserter.calls) != 2 {
		t.Fatalf("expected the replayed row to be written again, got %d inserts", len(h.inserter.calls))
	}
	for _, call := range h.inserter.calls {
		if call.rows[0][2] != uint64(42) {
			t.Fatalf("expected duplicate event_id 42, got %v", call.rows[0][2])
		}
	}
	if len(h.sink.entries) != 0 {
		t.Fatalf("replay must not produce validation failures")
	}
	if len(h.consumer.commits) != 2 {
		t.Fatalf("expected failed then successful commit, got %d", len(h.consumer.commits))
	}
	if got := h.consumer.commits[1][testTopic][0].Offset; got != 4 {
		t.Fatalf("expected commit at 4, got %d", got)
	}
}

func TestPollTimeoutFlushesDueBuffers(t *testing.T) {
	h := newHarness(t, buffer.Config{Size: 100, FlushInterval: 3 * time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.consumer.polls = []kgo.Fetches{
		fetches(record(2, 20, cardCreated(1, 1))),
		kgo.NewErrFetch(errors.New("broker connection reset")),
		kgo.NewErrFetch(context.DeadlineExceeded),
	}
	h.consumer.beforePoll = func(n int) {
		if n == 2 {
			h.clock.Advance(3 * time.Second)
		}
	}
	h.consumer.onExhausted = cancel

	if err := h.svc.Run(ctx); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if len(h.inserter.calls) != 1 {
		t.Fatalf("expected the interval flush on an idle poll, got %d inserts", len(h.inserter.calls))
	}
	if len(h.consumer.commits) != 1 || h.consumer.commits[0][testTopic][2].Offset != 21 {
		t.Fatalf("expected a single commit at 21, got %v", h.consumer.commits)
	}
}

func TestRunStopsWhenClientClosed(t *testing.T) {
	h := newHarness(t, buffer.Config{Size: 100, FlushInterval: time.Minute})
	h.consumer.polls = []kgo.Fetches{kgo.NewErrFetch(kgo.ErrClientClosed)}

	if err := h.svc.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.consumer.closed {
		t.Fatal("expected drain to close the consumer")
	}
}

func TestNewServiceValidation(t *testing.T) {
	reg, err := registry.Default()
	require.NoError(t, err)
	logg := testLogger()

	cases := map[string]Options{
		"consumer":  {Registry: reg, Validator: validation.New(), Inserter: &fakeInserter{}, Logger: logg},
		"registry":  {Consumer: &fakeConsumer{}, Validator: validation.New(), Inserter: &fakeInserter{}, Logger: logg},
		"validator": {Consumer: &fakeConsumer{}, Registry: reg, Inserter: &fakeInserter{}, Logger: logg},
		"inserter":  {Consumer: &fakeConsumer{}, Registry: reg, Validator: validation.New(), Logger: logg},
		"logger":    {Consumer: &fakeConsumer{}, Registry: reg, Validator: validation.New(), Inserter: &fakeInserter{}},
	}
	for name, opts := range cases {
		if _, err := NewService(opts); err == nil {
			t.Fatalf("expected error when %s is missing", name)
		}
	}

	svc, err := NewService(Options{Consumer: &fakeConsumer{}, Registry: reg, Validator: validation.New(), Inserter: &fakeInserter{}, Logger: logg})
	require.NoError(t, err)
	if len(svc.buffers) != len(registry.KnownTables) {
		t.Fatalf("expected a buffer per table, got %d", len(svc.buffers))
	}
	if svc.pollTimeout != defaultPollTimeout || svc.commitTimeout != defaultCommitTimeout {
		t.Fatalf("expected default timeouts, got poll=%s commit=%s", svc.pollTimeout, svc.commitTimeout)
	}
}

type harness struct {
	svc      *Service
	consumer *fakeConsumer
	inserter *fakeInserter
	sink     *recordingSink
	clock    *fakeClock
}

func newHarness(t *testing.T, batch buffer.Config) *harness {
	t.Helper()
	reg, err := registry.Default()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	h := &harness{
		consumer: &fakeConsumer{},
		inserter: &fakeInserter{},
		sink:     &recordingSink{},
		clock:    &fakeClock{now: epoch2024},
	}
	svc, err := NewService(Options{
		Consumer:    h.consumer,
		Registry:    reg,
		Validator:   validation.New(),
		Inserter:    h.inserter,
		DeadLetter:  h.sink,
		Logger:      testLogger(),
		Clock:       h.clock,
		Batch:       batch,
		PollTimeout: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	h.svc = svc
	return h
}

func (h *harness) requireCommits(t *testing.T, want map[int32]int64) {
	t.Helper()
	got := map[int32]int64{}
	for _, commit := range h.consumer.commits {
		for partition, eo := range commit[testTopic] {
			got[partition] = eo.Offset
		}
	}
	require.Equal(t, want, got)
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "events-collector-test", Output: io.Discard})
}

func record(partition int32, offset int64, value string) *kgo.Record {
	return &kgo.Record{
		Topic:       testTopic,
		Partition:   partition,
		Offset:      offset,
		LeaderEpoch: 1,
		Value:       []byte(value),
	}
}

func fetches(records ...*kgo.Record) kgo.Fetches {
	byPartition := map[int32][]*kgo.Record{}
	var order []int32
	for _, r := range records {
		if _, ok := byPartition[r.Partition]; !ok {
			order = append(order, r.Partition)
		}
		byPartition[r.Partition] = append(byPartition[r.Partition], r)
	}
	topic := kgo.FetchTopic{Topic: testTopic}
	for _, p := range order {
		topic.Partitions = append(topic.Partitions, kgo.FetchPartition{Partition: p, Records: byPartition[p]})
	}
	return kgo.Fetches{{Topics: []kgo.FetchTopic{topic}}}
}

func cardCreated(eventID, cardID uint64) string {
	return fmt.Sprintf(`{"event_type":"card_created","event_version":1,"event_id":%d,"occured_at":"2024-01-01T00:00:00Z","producer":"content","payload":{"card_id":%d,"deck_id":3,"created_at":"2024-01-01T00:00:00Z"}}`, eventID, cardID)
}

func userRegistered(eventID uint64) string {
	return fmt.Sprintf(`{"event_type":"user_registered","event_version":1,"event_id":%d,"occured_at":"2024-01-01T00:00:00Z","producer":"users","payload":{"user_id":%d,"email":"u%d@example.com","registered_at":"2024-01-01T00:00:00Z"}}`, eventID, eventID, eventID)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

type fakeConsumer struct {
	polls       []kgo.Fetches
	pollCount   int
	beforePoll  func(n int)
	onExhausted func()

	commits    []map[string]map[int32]kgo.EpochOffset
	commitErrs []error
	closed     bool
}

func (f *fakeConsumer) PollFetches(ctx context.Context) kgo.Fetches {
	f.pollCount++
	if f.beforePoll != nil {
		f.beforePoll(f.pollCount)
	}
	if len(f.polls) == 0 {
		if f.onExhausted != nil {
			f.onExhausted()
		}
		return kgo.NewErrFetch(ctx.Err())
	}
	next := f.polls[0]
	f.polls = f.polls[1:]
	return next
}

func (f *fakeConsumer) CommitOffsetsSync(_ context.Context, offsets map[string]map[int32]kgo.EpochOffset, onDone func(*kgo.Client, *kmsg.OffsetCommitRequest, *kmsg.OffsetCommitResponse, error)) {
	copied := map[string]map[int32]kgo.EpochOffset{}
	for topic, partitions := range offsets {
		copied[topic] = map[int32]kgo.EpochOffset{}
		for p, eo := range partitions {
			copied[topic][p] = eo
		}
	}
	f.commits = append(f.commits, copied)

	var err error
	if len(f.commitErrs) > 0 {
		err = f.commitErrs[0]
		f.commitErrs = f.commitErrs[1:]
	}
	if onDone != nil {
		onDone(nil, &kmsg.OffsetCommitRequest{}, &kmsg.OffsetCommitResponse{}, err)
	}
}

func (f *fakeConsumer) Close() {
	f.closed = true
}

type insertCall struct {
	table   string
	columns []string
	rows    []types.Row
}

type fakeInserter struct {
	calls []insertCall
	errs  []error
}

func (f *fakeInserter) InsertRows(_ context.Context, table string, columns []string, rows []types.Row) error {
	copied := append([]types.Row(nil), rows...)
	f.calls = append(f.calls, insertCall{table: table, columns: columns, rows: copied})
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

type recordingSink struct {
	entries []deadletter.Entry
	err     error
}

func (r *recordingSink) Publish(_ context.Context, entry deadletter.Entry) error {
	r.entries = append(r.entries, entry)
	return r.err
}

func (r *recordingSink) Close() error { return nil }

type blockingSink struct {
	hadDeadline bool
}

func (b *blockingSink) Publish(ctx context.Context, _ deadletter.Entry) error {
	_, b.hadDeadline = ctx.Deadline()
	<-ctx.Done()
	return ctx.Err()
}

func (b *blockingSink) Close() error { return nil }

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
