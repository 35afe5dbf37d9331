package bigquery

import (
	"math/big"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/angelmondragon/events-collector/internal/analytics/types"
	"github.com/angelmondragon/events-collector/pkg/config"
	"github.com/shopspring/decimal"
)

func TestSplitTable(t *testing.T) {
	dataset, name, err := splitTable("analytics.card_created", "fallback")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dataset != "analytics" || name != "card_created" {
		t.Fatalf("unexpected split %s/%s", dataset, name)
	}

	dataset, name, err = splitTable(" deck_created ", "fallback")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dataset != "fallback" || name != "deck_created" {
		t.Fatalf("expected default dataset, got %s/%s", dataset, name)
	}

	for _, bad := range []string{"", "a.b.c", ".x", "x."} {
		if _, _, err := splitTable(bad, "fallback"); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestRowSaverMapsColumns(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	saver := &rowSaver{
		columns: []string{"event_occurred_at", "produced_at", "event_id", "course_id", "progress_percent"},
		row:     types.Row{at, at, uint64(42), uint64(7), decimal.RequireFromString("33.5")},
	}

	values, insertID, err := saver.Save()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if insertID != "42" {
		t.Fatalf("expected event id as insert id, got %q", insertID)
	}
	if values["course_id"] != int64(7) {
		t.Fatalf("expected int64 course id, got %T", values["course_id"])
	}
	rat, ok := values["progress_percent"].(*big.Rat)
	if !ok || rat.Cmp(big.NewRat(67, 2)) != 0 {
		t.Fatalf("unexpected progress value %v", values["progress_percent"])
	}
}

func TestRowSaverWithoutEventID(t *testing.T) {
	saver := &rowSaver{columns: []string{"a"}, row: types.Row{"x"}}
	_, insertID, err := saver.Save()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if insertID != bigquery.NoDedupeID {
		t.Fatalf("expected no dedupe id, got %q", insertID)
	}
}

func TestToValueOverflow(t *testing.T) {
	if _, err := toValue(uint64(1 << 63)); err == nil {
		t.Fatal("expected overflow error")
	}
}

func TestClientOptionsPrioritizesJSON(t *testing.T) {
	gcp := config.GCPConfig{
		CredentialsJSON:        `{"dummy": "value"}`,
		ApplicationCredentials: "/tmp/creds",
	}

	opts := clientOptions(gcp)
	if len(opts) != 1 {
		t.Fatalf("expected 1 option, got %d", len(opts))
	}
}

func TestClientOptionsWithFile(t *testing.T) {
	gcp := config.GCPConfig{
		ApplicationCredentials: "/tmp/creds",
	}

	opts := clientOptions(gcp)
	if len(opts) != 1 {
		t.Fatalf("expected 1 option when using credentials file, got %d", len(opts))
	}
}

func TestClientOptionsEmpty(t *testing.T) {
	opts := clientOptions(config.GCPConfig{})
	if len(opts) != 0 {
		t.Fatalf("expected 0 options when no credentials provided, got %d", len(opts))
	}
}
