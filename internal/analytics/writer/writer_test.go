package writer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/angelmondragon/events-collector/internal/analytics/types"
	pkgerrors "github.com/angelmondragon/events-collector/pkg/errors"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestNewWriterValidation(t *testing.T) {
	if _, err := New(nil, RetryPolicy{}, nil); err == nil {
		t.Fatal("expected error when client missing")
	}
	w, err := New(&fakeInserter{}, RetryPolicy{InitialBackoff: time.Second, MaximumBackoff: time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.retry.MaxAttempts != defaultMaxAttempts {
		t.Fatalf("expected default attempts, got %d", w.retry.MaxAttempts)
	}
	if w.retry.MaximumBackoff != time.Second {
		t.Fatalf("expected max backoff clamped to initial, got %s", w.retry.MaximumBackoff)
	}
}

func TestWriterRetriesOnTransientError(t *testing.T) {
	writer, fake := newWriterWithFakeInserter(t)
	fake.responses = []error{
		&googleapi.Error{Code: http.StatusServiceUnavailable},
		nil,
	}

	if err := writer.InsertRows(context.Background(), "analytics.deck_created", []string{"a"}, []types.Row{{1}}); err != nil {
		t.Fatalf("unexpected error writing rows: %v", err)
	}
	if len(fake.calls) != 2 {
		t.Fatalf("expected two insert attempts, got %d", len(fake.calls))
	}
	if fake.calls[1].table != "analytics.deck_created" {
		t.Fatalf("expected same table on retry, got %s", fake.calls[1].table)
	}
}

func TestWriterStopsOnPermanentError(t *testing.T) {
	writer, fake := newWriterWithFakeInserter(t)
	permanent := &clickhouse.Exception{Code: 60, Name: "DB::Exception", Message: "unknown table"}
	fake.responses = []error{permanent}

	err := writer.InsertRows(context.Background(), "analytics.deck_created", nil, []types.Row{{1}})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(fake.calls) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(fake.calls))
	}
	if !errors.Is(err, permanent) {
		t.Fatalf("expected wrapped clickhouse exception, got %v", err)
	}
	if pkgerrors.CodeOf(err) != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency code, got %s", pkgerrors.CodeOf(err))
	}
}

func TestWriterGivesUpAfterMaxAttempts(t *testing.T) {
	writer, fake := newWriterWithFakeInserter(t)
	transient := &clickhouse.Exception{Code: chTooManyParts}
	fake.responses = []error{transient, transient, transient, nil}

	if err := writer.InsertRows(context.Background(), "analytics.deck_created", nil, []types.Row{{1}}); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if len(fake.calls) != 3 {
		t.Fatalf("expected three attempts, got %d", len(fake.calls))
	}
}

func TestWriterEmptyBatchSkipsStore(t *testing.T) {
	writer, fake := newWriterWithFakeInserter(t)
	if err := writer.InsertRows(context.Background(), "analytics.deck_created", nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.calls) != 0 {
		t.Fatalf("expected no store calls, got %d", len(fake.calls))
	}
}

func TestWriterHonorsCancelledContext(t *testing.T) {
	writer, fake := newWriterWithFakeInserter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := writer.InsertRows(ctx, "analytics.deck_created", nil, []types.Row{{1}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if len(fake.calls) != 0 {
		t.Fatalf("expected no store calls, got %d", len(fake.calls))
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"http 503", &googleapi.Error{Code: http.StatusServiceUnavailable}, true},
		{"http 400", &googleapi.Error{Code: http.StatusBadRequest}, false},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), true},
		{"grpc invalid", status.Error(codes.InvalidArgument, "bad"), false},
		{"clickhouse network", &clickhouse.Exception{Code: chNetworkError}, true},
		{"clickhouse syntax", &clickhouse.Exception{Code: 62}, false},
		{"conn reset", fmt.Errorf("write: %w", syscall.ECONNRESET), true},
		{"cancelled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: expected %v got %v", tc.name, tc.want, got)
		}
	}
}

type insertCall struct {
	table    string
	rowCount int
}

type fakeInserter struct {
	responses []error
	calls     []insertCall
	index     int
}

func (f *fakeInserter) InsertRows(_ context.Context, table string, _ []string, rows []types.Row) error {
	f.calls = append(f.calls, insertCall{table: table, rowCount: len(rows)})
	var err error
	if f.index < len(f.responses) {
		err = f.responses[f.index]
	}
	f.index++
	return err
}

func newWriterWithFakeInserter(t *testing.T) (*Writer, *fakeInserter) {
	t.Helper()
	fake := &fakeInserter{}
	writer, err := New(fake, RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaximumBackoff: 2 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("construct writer: %v", err)
	}
	return writer, fake
}
