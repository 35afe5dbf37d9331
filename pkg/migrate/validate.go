package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pressly/goose/v3"
)

var (
	sqlFileRe     = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
	createTableRe = regexp.MustCompile(`(?i)CREATE TABLE (?:IF NOT EXISTS )?([a-zA-Z0-9_.]+)`)
	engineRe      = regexp.MustCompile(`(?i)\bENGINE\s*=`)
)

// ValidateDir checks filenames, goose markers and the ClickHouse table conventions:
// tables are database-qualified, declare an engine and are dropped by the Down block.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		name := e.Name()
		if !sqlFileRe.MatchString(name) {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}

		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read file %q: %w", name, err)
		}
		if err := validateSQL(name, string(b)); err != nil {
			return err
		}
	}

	// goose rejects duplicate versions
	if _, err := goose.CollectMigrations(dir, 0, goose.MaxVersion); err != nil {
		return fmt.Errorf("collect migrations: %w", err)
	}
	return nil
}

func validateSQL(name, txt string) error {
	upIdx := strings.Index(txt, "-- +goose Up")
	if upIdx < 0 {
		return fmt.Errorf("migration %q missing \"-- +goose Up\"", name)
	}
	downIdx := strings.Index(txt, "-- +goose Down")
	if downIdx < 0 {
		return fmt.Errorf("migration %q missing \"-- +goose Down\"", name)
	}
	if downIdx < upIdx {
		return fmt.Errorf("migration %q has Down before Up", name)
	}
	if strings.Count(txt, "-- +goose StatementBegin") != strings.Count(txt, "-- +goose StatementEnd") {
		return fmt.Errorf("migration %q has unbalanced StatementBegin/StatementEnd", name)
	}

	up, down := txt[upIdx:downIdx], txt[downIdx:]
	for _, m := range createTableRe.FindAllStringSubmatchIndex(up, -1) {
		table := up[m[2]:m[3]]
		if !strings.Contains(table, ".") {
			return fmt.Errorf("migration %q creates %s without a database", name, table)
		}
		rest := up[m[1]:]
		if next := createTableRe.FindStringIndex(rest); next != nil {
			rest = rest[:next[0]]
		}
		if !engineRe.MatchString(rest) {
			return fmt.Errorf("migration %q creates %s without an ENGINE", name, table)
		}
		if !strings.Contains(down, "DROP TABLE IF EXISTS "+table) {
			return fmt.Errorf("migration %q never drops %s on Down", name, table)
		}
	}
	return nil
}
