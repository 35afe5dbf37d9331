package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/angelmondragon/events-collector/pkg/clickhouse"
)

const versionLayout = "20060102150405"

var nameSanitizeRe = regexp.MustCompile(`[^a-z0-9_]+`)

var statementTemplate = template.Must(template.New("statement").Parse(`-- +goose Up
-- +goose StatementBegin
-- {{.Name}}
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- rollback {{.Name}}
-- +goose StatementEnd
`))

// Every destination table starts with the envelope columns the mappers emit first.
var tableTemplate = template.Must(template.New("table").Parse(`-- +goose Up
-- +goose StatementBegin
CREATE TABLE IF NOT EXISTS {{.Table}}
(
    event_occurred_at DateTime64(3, 'UTC'),
    produced_at       DateTime64(3, 'UTC'),
    event_id          UInt64
)
ENGINE = MergeTree
PARTITION BY toYYYYMM(event_occurred_at)
ORDER BY (event_occurred_at, event_id);
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
DROP TABLE IF EXISTS {{.Table}};
-- +goose StatementEnd
`))

// CreateSQLMigration creates an empty goose SQL migration:
//
//	<dir>/<YYYYMMDDHHMMSS>_<name>.sql
func CreateSQLMigration(dir string, name string) (string, error) {
	safe, err := sanitizeName(name)
	if err != nil {
		return "", err
	}
	return writeMigration(dir, safe, statementTemplate, map[string]string{"Name": safe})
}

// CreateTableMigration scaffolds a MergeTree table for a new event type. table must be
// database-qualified, e.g. analytics.quiz_answered.
func CreateTableMigration(dir string, table string) (string, error) {
	table = strings.TrimSpace(table)
	database, _, err := clickhouse.SplitTable(table)
	if err != nil {
		return "", err
	}
	if database == "" {
		return "", fmt.Errorf("table %q must be database-qualified", table)
	}
	safe, err := sanitizeName("create_" + strings.ReplaceAll(table, ".", "_"))
	if err != nil {
		return "", err
	}
	return writeMigration(dir, safe, tableTemplate, map[string]string{"Table": table})
}

func sanitizeName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("name is required")
	}
	safe := strings.ToLower(strings.TrimSpace(name))
	safe = strings.ReplaceAll(safe, " ", "_")
	safe = nameSanitizeRe.ReplaceAllString(safe, "_")
	safe = strings.Trim(safe, "_")
	if safe == "" {
		return "", fmt.Errorf("name %q results in empty sanitized filename", name)
	}
	return safe, nil
}

func writeMigration(dir, safe string, tmpl *template.Template, data any) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	version := time.Now().UTC().Format(versionLayout)
	fullpath := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", version, safe))

	f, err := os.OpenFile(fullpath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return "", fmt.Errorf("migration already exists: %s", fullpath)
		}
		return "", fmt.Errorf("create migration %q: %w", fullpath, err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return "", fmt.Errorf("write migration %q: %w", fullpath, err)
	}
	return fullpath, nil
}
