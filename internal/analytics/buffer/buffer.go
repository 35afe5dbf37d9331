package buffer

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/events-collector/internal/analytics/types"
)

const (
	DefaultSize          = 500
	DefaultFlushInterval = 3 * time.Second
)

// Inserter issues one multi-row insert into a destination table.
type Inserter interface {
	InsertRows(ctx context.Context, table string, columns []string, rows []types.Row) error
}

// Config sets the dual flush threshold.
type Config struct {
	Size          int
	FlushInterval time.Duration
}

// BatchBuffer accumulates rows for one destination table between flushes.
// It is owned by a single goroutine and does no locking.
type BatchBuffer struct {
	table    string
	columns  []string
	inserter Inserter
	clock    Clock
	size     int
	interval time.Duration

	rows      []types.Row
	lastFlush time.Time
}

// New creates a buffer whose flush timer starts now.
func New(table string, columns []string, inserter Inserter, clock Clock, cfg Config) (*BatchBuffer, error) {
	if table == "" {
		return nil, errors.New("table is required")
	}
	if inserter == nil {
		return nil, errors.New("inserter is required")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	size := cfg.Size
	if size <= 0 {
		size = DefaultSize
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = DefaultFlushInterval
	}

	return &BatchBuffer{
		table:     table,
		columns:   append([]string(nil), columns...),
		inserter:  inserter,
		clock:     clock,
		size:      size,
		interval:  interval,
		rows:      make([]types.Row, 0, size),
		lastFlush: clock.Now(),
	}, nil
}

func (b *BatchBuffer) Table() string {
	return b.table
}

// Len is the number of rows waiting for the next flush.
func (b *BatchBuffer) Len() int {
	return len(b.rows)
}

// Add appends a row. It never blocks and never fails.
func (b *BatchBuffer) Add(row types.Row) {
	b.rows = append(b.rows, row)
}

// ShouldFlush is true once the buffer reaches its size threshold or the interval has elapsed
// since the last flush.
func (b *BatchBuffer) ShouldFlush() bool {
	if len(b.rows) >= b.size {
		return true
	}
	return b.clock.Now().Sub(b.lastFlush) >= b.interval
}

// Flush writes every buffered row in one insert and returns how many were written.
// An empty buffer only restarts the timer. On failure the rows stay buffered for the next attempt.
func (b *BatchBuffer) Flush(ctx context.Context) (int, error) {
	if len(b.rows) == 0 {
		b.lastFlush = b.clock.Now()
		return 0, nil
	}

	if err := b.inserter.InsertRows(ctx, b.table, b.columns, b.rows); err != nil {
		return 0, err
	}

	n := len(b.rows)
	b.rows = make([]types.Row, 0, b.size)
	b.lastFlush = b.clock.Now()
	return n, nil
}
