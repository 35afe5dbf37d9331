package writer

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	cbigquery "cloud.google.com/go/bigquery"
	"github.com/angelmondragon/events-collector/internal/analytics/types"
	pkgerrors "github.com/angelmondragon/events-collector/pkg/errors"
	"github.com/angelmondragon/events-collector/pkg/logger"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
)

// RetryPolicy controls how many times a bulk insert is retried within one flush.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

// TableInserter is the store-specific bulk insert. Both the ClickHouse and BigQuery clients satisfy it.
type TableInserter interface {
	InsertRows(ctx context.Context, table string, columns []string, rows []types.Row) error
}

// Writer wraps a store client with bounded retries for transient failures.
type Writer struct {
	client TableInserter
	retry  RetryPolicy
	logg   *logger.Logger
}

func New(client TableInserter, retry RetryPolicy, logg *logger.Logger) (*Writer, error) {
	if client == nil {
		return nil, errors.New("store client required")
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = defaultMaxAttempts
	}
	if retry.InitialBackoff <= 0 {
		retry.InitialBackoff = defaultInitialBackoff
	}
	if retry.MaximumBackoff <= 0 {
		retry.MaximumBackoff = defaultMaximumBackoff
	}
	if retry.MaximumBackoff < retry.InitialBackoff {
		retry.MaximumBackoff = retry.InitialBackoff
	}

	return &Writer{
		client: client,
		retry:  retry,
		logg:   logg,
	}, nil
}

// InsertRows writes the batch, retrying retryable store errors with exponential backoff.
func (w *Writer) InsertRows(ctx context.Context, table string, columns []string, rows []types.Row) error {
	if len(rows) == 0 {
		return nil
	}
	if strings.TrimSpace(table) == "" {
		return pkgerrors.New(pkgerrors.CodeInternal, "table is required")
	}
	return w.insertWithRetry(ctx, table, columns, rows)
}

func (w *Writer) insertWithRetry(ctx context.Context, table string, columns []string, rows []types.Row) error {
	attempts := 0
	backoff := w.retry.InitialBackoff

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := w.client.InsertRows(ctx, table, columns, rows)
		if err == nil {
			return nil
		}

		attempts++
		if attempts >= w.retry.MaxAttempts || !IsRetryable(err) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("insert %d rows into %s", len(rows), table)).
				WithDetails(map[string]any{"attempts": attempts})
		}

		if w.logg != nil {
			logCtx := w.logg.WithFields(ctx, map[string]any{
				"table":   table,
				"rows":    len(rows),
				"attempt": attempts,
				"backoff": backoff.String(),
				"error":   err.Error(),
			})
			w.logg.Warn(logCtx, "bulk insert failed, retrying")
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		timer.Stop()

		backoff = min(backoff*2, w.retry.MaximumBackoff)
	}
}

// IsRetryable reports whether a store error is worth retrying within the same flush.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var multi *cbigquery.MultiError
	if errors.As(err, &multi) {
		if multi == nil || len(*multi) == 0 {
			return false
		}
		for _, inner := range *multi {
			if !IsRetryable(inner) {
				return false
			}
		}
		return true
	}

	var pme *cbigquery.PutMultiError
	if errors.As(err, &pme) {
		if pme == nil || len(*pme) == 0 {
			return false
		}
		for _, rowErr := range *pme {
			if !IsRetryable(rowErr.Errors) {
				return false
			}
		}
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return isRetryableHTTPCode(apiErr.Code)
	}

	var statusErr interface{ GRPCStatus() *status.Status }
	if errors.As(err, &statusErr) {
		if st := statusErr.GRPCStatus(); st != nil {
			return isRetryableGRPCCode(st.Code())
		}
	}

	var chErr *clickhouse.Exception
	if errors.As(err, &chErr) {
		return isRetryableClickHouseCode(chErr.Code)
	}

	if errors.Is(err, clickhouse.ErrAcquireConnTimeout) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func isRetryableHTTPCode(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func isRetryableGRPCCode(code codes.Code) bool {
	switch code {
	case codes.Aborted,
		codes.DeadlineExceeded,
		codes.Internal,
		codes.ResourceExhausted,
		codes.Unavailable:
		return true
	default:
		return false
	}
}

// ClickHouse server error codes that describe load or transport trouble rather than a bad batch.
const (
	chTimeoutExceeded            int32 = 159
	chTooManySimultaneousQueries int32 = 202
	chSocketTimeout              int32 = 209
	chNetworkError               int32 = 210
	chMemoryLimitExceeded        int32 = 241
	chTableIsReadOnly            int32 = 242
	chTooManyParts               int32 = 252
	chUnknownStatusOfInsert      int32 = 319
	chKeeperException            int32 = 999
)

func isRetryableClickHouseCode(code int32) bool {
	switch code {
	case chTimeoutExceeded,
		chTooManySimultaneousQueries,
		chSocketTimeout,
		chNetworkError,
		chMemoryLimitExceeded,
		chTableIsReadOnly,
		chTooManyParts,
		chUnknownStatusOfInsert,
		chKeeperException:
		return true
	default:
		return false
	}
}
