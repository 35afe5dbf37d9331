package bigquery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/angelmondragon/events-collector/internal/analytics/types"
	"github.com/angelmondragon/events-collector/pkg/config"
	"github.com/angelmondragon/events-collector/pkg/logger"
	"github.com/shopspring/decimal"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	metadataCheckTimeout = 10 * time.Second
)

type Client struct {
	client    *bigquery.Client
	projectID string
	dataset   string
}

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// NewClient creates a BigQuery client and verifies the default dataset exists.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}

	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}

	opts := clientOptions(gcp)
	bqClient, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}

	client := &Client{
		client:    bqClient,
		projectID: projectID,
		dataset:   datasetID,
	}

	if err := client.Ping(ctx); err != nil {
		_ = bqClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "dataset", datasetID), "bigquery client initialized")
	}

	return client, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	var opts []option.ClientOption
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(gcp.CredentialsJSON)))
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		opts = append(opts, option.WithCredentialsFile(gcp.ApplicationCredentials))
	}
	return opts
}

// splitTable maps "dataset.table" onto BigQuery ids, defaulting the dataset.
func splitTable(table, defaultDataset string) (string, string, error) {
	trimmed := strings.TrimSpace(table)
	if trimmed == "" {
		return "", "", errTableNameRequired
	}
	dataset, name, found := strings.Cut(trimmed, ".")
	if !found {
		return defaultDataset, trimmed, nil
	}
	if dataset == "" || name == "" || strings.Contains(name, ".") {
		return "", "", fmt.Errorf("invalid table name %q", table)
	}
	return dataset, name, nil
}

// Ping verifies the default dataset is accessible.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errClientNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()

	if _, err := c.client.Dataset(c.dataset).Metadata(ctx); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("dataset %q does not exist", c.dataset)
		}
		return fmt.Errorf("checking dataset %q: %w", c.dataset, err)
	}
	return nil
}

// VerifyTables fails on the first destination table that does not exist.
func (c *Client) VerifyTables(ctx context.Context, tables []string) error {
	if c == nil || c.client == nil {
		return errClientNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()

	for _, table := range tables {
		dataset, name, err := splitTable(table, c.dataset)
		if err != nil {
			return err
		}
		if _, err := c.client.Dataset(dataset).Table(name).Metadata(ctx); err != nil {
			if isNotFound(err) {
				return fmt.Errorf("table %q does not exist", table)
			}
			return fmt.Errorf("checking table %q: %w", table, err)
		}
	}
	return nil
}

// InsertRows streams rows into the table, binding positional values to the given columns.
func (c *Client) InsertRows(ctx context.Context, table string, columns []string, rows []types.Row) error {
	if c == nil || c.client == nil {
		return errClientNotInitialized
	}
	if len(rows) == 0 {
		return nil
	}
	dataset, name, err := splitTable(table, c.dataset)
	if err != nil {
		return err
	}

	savers := make([]*rowSaver, len(rows))
	for i, row := range rows {
		if len(row) != len(columns) {
			return fmt.Errorf("row %d for %s has %d values for %d columns", i, table, len(row), len(columns))
		}
		savers[i] = &rowSaver{columns: columns, row: row}
	}

	return c.client.Dataset(dataset).Table(name).Inserter().Put(ctx, savers)
}

// Close releases the BigQuery client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

type rowSaver struct {
	columns []string
	row     types.Row
}

// Save implements bigquery.ValueSaver. The event id doubles as the best-effort insert id.
func (s *rowSaver) Save() (map[string]bigquery.Value, string, error) {
	out := make(map[string]bigquery.Value, len(s.columns))
	insertID := bigquery.NoDedupeID
	for i, col := range s.columns {
		v, err := toValue(s.row[i])
		if err != nil {
			return nil, "", fmt.Errorf("column %s: %w", col, err)
		}
		out[col] = v
		if col == "event_id" {
			insertID = fmt.Sprint(s.row[i])
		}
	}
	return out, insertID, nil
}

func toValue(v any) (bigquery.Value, error) {
	switch value := v.(type) {
	case decimal.Decimal:
		return value.Rat(), nil
	case uint64:
		if value > math.MaxInt64 {
			return nil, fmt.Errorf("value %d overflows INT64", value)
		}
		return int64(value), nil
	case uint32:
		return int64(value), nil
	case time.Time:
		return value.UTC(), nil
	default:
		return value, nil
	}
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return apiErr.Code == http.StatusNotFound
	}
	return false
}
