package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/angelmondragon/events-collector/internal/analytics/types"
	"github.com/angelmondragon/events-collector/pkg/config"
	"github.com/angelmondragon/events-collector/pkg/logger"
	"go.uber.org/multierr"
)

const (
	dialTimeout          = 5 * time.Second
	metadataCheckTimeout = 10 * time.Second
	clientProduct        = "events-collector"
)

var (
	errHostRequired         = errors.New("clickhouse host is required")
	errWriterUserRequired   = errors.New("clickhouse writer user is required")
	errClientNotInitialized = errors.New("clickhouse client not initialized")

	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

type batchConn interface {
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	Ping(context.Context) error
	Close() error
}

type queryConn interface {
	QueryRow(ctx context.Context, query string, args ...any) driver.Row
	Ping(context.Context) error
	Close() error
}

// Client holds one connection per credential pair: the writer inserts batches, the reader
// answers metadata queries.
type Client struct {
	writer   batchConn
	reader   queryConn
	database string
}

// NewClient opens the writer and reader connections and verifies both respond.
func NewClient(ctx context.Context, cfg config.ClickHouseConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errHostRequired
	}
	if strings.TrimSpace(cfg.WriterUser) == "" {
		return nil, errWriterUserRequired
	}

	writer, err := clickhouse.Open(options(cfg, cfg.WriterUser, cfg.WriterPassword))
	if err != nil {
		return nil, fmt.Errorf("opening clickhouse writer connection: %w", err)
	}
	if err := writer.Ping(ctx); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("ping clickhouse writer: %w", err)
	}

	var reader driver.Conn = writer
	if strings.TrimSpace(cfg.ReaderUser) != "" {
		reader, err = clickhouse.Open(options(cfg, cfg.ReaderUser, cfg.ReaderPassword))
		if err != nil {
			_ = writer.Close()
			return nil, fmt.Errorf("opening clickhouse reader connection: %w", err)
		}
		if err := reader.Ping(ctx); err != nil {
			_ = reader.Close()
			_ = writer.Close()
			return nil, fmt.Errorf("ping clickhouse reader: %w", err)
		}
	}

	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{
			"addr":     cfg.Addr(),
			"database": cfg.Database,
		})
		logg.Info(ctx, "clickhouse client initialized")
	}

	return &Client{writer: writer, reader: reader, database: cfg.Database}, nil
}

// OpenDB returns a database/sql handle using the writer credentials, for schema migrations.
func OpenDB(cfg config.ClickHouseConfig) *sql.DB {
	return clickhouse.OpenDB(options(cfg, cfg.WriterUser, cfg.WriterPassword))
}

func options(cfg config.ClickHouseConfig, user, password string) *clickhouse.Options {
	return &clickhouse.Options{
		Addr: []string{cfg.Addr()},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: user,
			Password: password,
		},
		DialTimeout: dialTimeout,
		ReadTimeout: cfg.SendReceiveTimeout,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: clientProduct, Version: "1"}},
		},
	}
}

// InsertRows sends rows as a single native-protocol batch.
func (c *Client) InsertRows(ctx context.Context, table string, columns []string, rows []types.Row) error {
	if c == nil || c.writer == nil {
		return errClientNotInitialized
	}
	if len(rows) == 0 {
		return nil
	}
	query, err := InsertQuery(table, columns)
	if err != nil {
		return err
	}

	batch, err := c.writer.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare batch for %s: %w", table, err)
	}
	for i, row := range rows {
		if err := batch.Append(row...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append row %d to %s: %w", i, table, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch to %s: %w", table, err)
	}
	return nil
}

// InsertQuery builds "INSERT INTO db.table (c1, ..., cn)" after checking every identifier.
func InsertQuery(table string, columns []string) (string, error) {
	database, name, err := SplitTable(table)
	if err != nil {
		return "", err
	}
	qualified := name
	if database != "" {
		qualified = database + "." + name
	}
	if len(columns) == 0 {
		return "INSERT INTO " + qualified, nil
	}
	for _, col := range columns {
		if !identifierPattern.MatchString(col) {
			return "", fmt.Errorf("invalid column name %q", col)
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s)", qualified, strings.Join(columns, ", ")), nil
}

// SplitTable splits "db.table" into its parts; the database is empty for bare names.
func SplitTable(table string) (string, string, error) {
	parts := strings.Split(strings.TrimSpace(table), ".")
	switch len(parts) {
	case 1:
		if !identifierPattern.MatchString(parts[0]) {
			return "", "", fmt.Errorf("invalid table name %q", table)
		}
		return "", parts[0], nil
	case 2:
		if !identifierPattern.MatchString(parts[0]) || !identifierPattern.MatchString(parts[1]) {
			return "", "", fmt.Errorf("invalid table name %q", table)
		}
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("invalid table name %q", table)
	}
}

// TableExists asks system.tables through the reader connection.
func (c *Client) TableExists(ctx context.Context, table string) (bool, error) {
	if c == nil || c.reader == nil {
		return false, errClientNotInitialized
	}
	database, name, err := SplitTable(table)
	if err != nil {
		return false, err
	}
	if database == "" {
		database = c.database
	}

	var count uint64
	row := c.reader.QueryRow(ctx, "SELECT count() FROM system.tables WHERE database = ? AND name = ?", database, name)
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("checking table %q: %w", table, err)
	}
	return count > 0, nil
}

// VerifyTables fails on the first table that does not exist.
func (c *Client) VerifyTables(ctx context.Context, tables []string) error {
	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()

	for _, table := range tables {
		ok, err := c.TableExists(ctx, table)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("table %q does not exist", table)
		}
	}
	return nil
}

// Ping checks both connections.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.writer == nil || c.reader == nil {
		return errClientNotInitialized
	}
	if err := c.writer.Ping(ctx); err != nil {
		return fmt.Errorf("ping clickhouse writer: %w", err)
	}
	if err := c.reader.Ping(ctx); err != nil {
		return fmt.Errorf("ping clickhouse reader: %w", err)
	}
	return nil
}

// Close releases both connections.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	var err error
	if c.writer != nil {
		err = multierr.Append(err, c.writer.Close())
	}
	if c.reader != nil && any(c.reader) != any(c.writer) {
		err = multierr.Append(err, c.reader.Close())
	}
	return err
}
