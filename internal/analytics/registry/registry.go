package registry

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/angelmondragon/events-collector/internal/analytics/mappers"
	"github.com/angelmondragon/events-collector/pkg/enums"
	"go.uber.org/multierr"
)

// Key selects a descriptor by envelope type and version.
type Key struct {
	EventType enums.AnalyticsEventType
	Version   int
}

func (k Key) String() string {
	return fmt.Sprintf("%s@v%d", k.EventType, k.Version)
}

// Descriptor binds one event type/version to its schema, destination table and row mapper.
type Descriptor struct {
	Key Key
	// Schema returns a fresh pointer to the payload struct the validator decodes into.
	Schema  func() any
	Table   string
	Columns []string
	Mapper  mappers.Mapper
}

// Registry is an immutable (event_type, version) → Descriptor map. Build it once at startup.
type Registry struct {
	entries map[Key]Descriptor
	tables  []string
}

// New builds a registry, rejecting duplicate keys.
func New(descriptors ...Descriptor) (*Registry, error) {
	entries := make(map[Key]Descriptor, len(descriptors))
	seen := map[string]struct{}{}
	var tables []string
	for _, d := range descriptors {
		if _, dup := entries[d.Key]; dup {
			return nil, fmt.Errorf("duplicate descriptor for %s", d.Key)
		}
		d.Columns = append([]string(nil), d.Columns...)
		entries[d.Key] = d
		if _, ok := seen[d.Table]; !ok {
			seen[d.Table] = struct{}{}
			tables = append(tables, d.Table)
		}
	}
	sort.Strings(tables)
	return &Registry{entries: entries, tables: tables}, nil
}

// Get returns the descriptor for the pair. A missing key is the forward-compatibility path, not an error.
func (r *Registry) Get(eventType enums.AnalyticsEventType, version int) (Descriptor, bool) {
	if r == nil {
		return Descriptor{}, false
	}
	d, ok := r.entries[Key{EventType: eventType, Version: version}]
	return d, ok
}

// Tables lists every distinct destination table, sorted.
func (r *Registry) Tables() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.tables...)
}

// Descriptors lists all descriptors ordered by key.
func (r *Registry) Descriptors() []Descriptor {
	if r == nil {
		return nil
	}
	out := make([]Descriptor, 0, len(r.entries))
	for _, d := range r.entries {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.EventType != out[j].Key.EventType {
			return out[i].Key.EventType < out[j].Key.EventType
		}
		return out[i].Key.Version < out[j].Key.Version
	})
	return out
}

// ColumnsFor returns the column list declared for table.
func (r *Registry) ColumnsFor(table string) []string {
	for _, d := range r.Descriptors() {
		if d.Table == table {
			return append([]string(nil), d.Columns...)
		}
	}
	return nil
}

// Validate checks every descriptor against the known table catalog and its own column list.
// A zero-value payload is pushed through each mapper to prove the row arity matches.
func (r *Registry) Validate(knownTables []string) error {
	if r == nil || len(r.entries) == 0 {
		return errors.New("registry is empty")
	}
	known := make(map[string]struct{}, len(knownTables))
	for _, t := range knownTables {
		known[t] = struct{}{}
	}

	columnsByTable := map[string][]string{}
	var err error
	for _, d := range r.Descriptors() {
		err = multierr.Append(err, validateDescriptor(d, known))
		if prev, ok := columnsByTable[d.Table]; ok && strings.Join(prev, ",") != strings.Join(d.Columns, ",") {
			err = multierr.Append(err, fmt.Errorf("%s: table %s declared with conflicting columns", d.Key, d.Table))
		}
		columnsByTable[d.Table] = d.Columns
	}
	return err
}

func validateDescriptor(d Descriptor, known map[string]struct{}) error {
	if !d.Key.EventType.IsValid() {
		return fmt.Errorf("%s: unknown event type", d.Key)
	}
	if d.Key.Version < 1 {
		return fmt.Errorf("%s: version must be positive", d.Key)
	}
	if d.Schema == nil {
		return fmt.Errorf("%s: schema factory is required", d.Key)
	}
	if d.Mapper == nil {
		return fmt.Errorf("%s: mapper is required", d.Key)
	}
	if _, ok := known[d.Table]; !ok {
		return fmt.Errorf("%s: unknown table %q", d.Key, d.Table)
	}
	if len(d.Columns) == 0 {
		return fmt.Errorf("%s: no columns declared", d.Key)
	}

	sample := d.Schema()
	if sample == nil || reflect.TypeOf(sample).Kind() != reflect.Pointer {
		return fmt.Errorf("%s: schema factory must return a pointer", d.Key)
	}
	row, err := d.Mapper(time.Time{}, 0, sample)
	if err != nil {
		return fmt.Errorf("%s: mapper rejected its own schema: %w", d.Key, err)
	}
	if len(row) != len(d.Columns) {
		return fmt.Errorf("%s: mapper returns %d values for %d columns", d.Key, len(row), len(d.Columns))
	}
	return nil
}
