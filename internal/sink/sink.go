// Package sink defines RelationalSink, the per-dialect bundle of
// capabilities, type-conversion rules, quoting and plan visitors, and the
// transformer that lowers a logical plan into SQL with those visitors.
//
// Each dialect package builds one immutable *RelationalSink and registers it
// from init(). Import internal/sink/all to register every dialect.
package sink

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"ingest/internal/catalog"
	"ingest/internal/executor"
	"ingest/internal/logical"
	"ingest/internal/physical"
)

// Capability is one optional sink feature.
type Capability uint32

const (
	Merge Capability = 1 << iota
	AddColumn
	ImplicitDataTypeConversion
	ExplicitDataTypeConversion
	DataTypeLengthChange
	DataTypeScaleChange
	TransformWhileCopy
	DryRun
)

var capabilityNames = []struct {
	c    Capability
	name string
}{
	{Merge, "MERGE"},
	{AddColumn, "ADD_COLUMN"},
	{ImplicitDataTypeConversion, "IMPLICIT_DATA_TYPE_CONVERSION"},
	{ExplicitDataTypeConversion, "EXPLICIT_DATA_TYPE_CONVERSION"},
	{DataTypeLengthChange, "DATA_TYPE_LENGTH_CHANGE"},
	{DataTypeScaleChange, "DATA_TYPE_SCALE_CHANGE"},
	{TransformWhileCopy, "TRANSFORM_WHILE_COPY"},
	{DryRun, "DRY_RUN"},
}

// Capabilities is a set of Capability bits.
type Capabilities Capability

// Caps builds a set.
func Caps(cs ...Capability) Capabilities {
	var out Capabilities
	for _, c := range cs {
		out |= Capabilities(c)
	}
	return out
}

// Has reports whether c is in the set.
func (s Capabilities) Has(c Capability) bool { return Capability(s)&c == c }

func (c Capability) String() string {
	for _, n := range capabilityNames {
		if n.c == c {
			return n.name
		}
	}
	return fmt.Sprintf("Capability(%d)", uint32(c))
}

func (s Capabilities) String() string {
	var parts []string
	for _, n := range capabilityNames {
		if s.Has(n.c) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ",")
}

// ErrUnsupportedCapability is returned when an operation needs a capability
// the sink lacks.
var ErrUnsupportedCapability = errors.New("sink: unsupported capability")

// TypeMap maps a data type to a list of data types. The meaning of key and
// values depends on the map (see RelationalSink).
type TypeMap map[logical.DataType][]logical.DataType

func (m TypeMap) contains(key, v logical.DataType) bool {
	return slices.Contains(m[key], v)
}

// CaseConversion folds identifiers before quoting.
type CaseConversion int

const (
	CaseNone CaseConversion = iota
	CaseUpper
	CaseLower
)

// ParseCaseConversion accepts NONE, TO_UPPER and TO_LOWER.
func ParseCaseConversion(s string) (CaseConversion, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return CaseNone, nil
	case "TO_UPPER", "UPPER":
		return CaseUpper, nil
	case "TO_LOWER", "LOWER":
		return CaseLower, nil
	}
	return CaseNone, fmt.Errorf("unknown case conversion %q", s)
}

// BulkLoadStats are the counters reported by a bulk load.
type BulkLoadStats struct {
	RowsInserted   int64
	RowsWithErrors int64
	FilesLoaded    int64
}

// BulkLoader loads staged files without going through SQL text. Sinks that
// have one use it for Copy operations.
type BulkLoader interface {
	Load(ctx context.Context, ex executor.Executor, c *logical.Copy, opts TransformOptions) (BulkLoadStats, error)
}

// RelationalSink is the immutable description of one SQL dialect.
//
// When to use:
//   - Obtain one with Get (after importing internal/sink/all) or directly
//     from a dialect package, then pass it to the ingestor.
//
// Edge cases:
//   - Implicit maps a target type to the source types that convert to it
//     without DDL (DECIMAL <- INTEGER means an INTEGER column can land in a
//     DECIMAL one as is).
//   - Explicit maps a source type to the target types an ALTER may widen it
//     to.
//   - The catalog functions default to information_schema introspection
//     when nil.
type RelationalSink struct {
	Name         string
	Capabilities Capabilities
	Implicit     TypeMap
	Explicit     TypeMap
	Quote        physical.QuoteFunc
	DefaultCase  CaseConversion
	Visitors     Visitors

	// TypeName renders a FieldType in this dialect's DDL.
	TypeName func(logical.FieldType) string

	// ParseType maps a catalog type name back to a logical type.
	ParseType catalog.TypeParser

	TableExists func(ctx context.Context, ex executor.Executor, ref logical.DatasetRef) (bool, error)
	Reconstruct func(ctx context.Context, ex executor.Executor, ref logical.DatasetRef) (*logical.DatasetDefinition, error)
	Validate    func(declared, actual *logical.DatasetDefinition) error

	// EvolveFieldLength overrides the default length/scale widening rule.
	EvolveFieldLength func(oldField, newField logical.Field, classifyEmptyValueAsZero bool) logical.Field

	BulkLoader BulkLoader
}

// Supports reports whether the sink has capability c.
func (s *RelationalSink) Supports(c Capability) bool { return s.Capabilities.Has(c) }

// CanImplicitlyConvert reports whether values of from fit a to column
// without DDL.
func (s *RelationalSink) CanImplicitlyConvert(from, to logical.DataType) bool {
	return s.Supports(ImplicitDataTypeConversion) && s.Implicit.contains(to, from)
}

// CanExplicitlyConvert reports whether a from column may be altered to to.
func (s *RelationalSink) CanExplicitlyConvert(from, to logical.DataType) bool {
	return s.Supports(ExplicitDataTypeConversion) && s.Explicit.contains(from, to)
}

// DoesTableExist checks the catalog for ref.
func (s *RelationalSink) DoesTableExist(ctx context.Context, ex executor.Executor, ref logical.DatasetRef) (bool, error) {
	if s.TableExists != nil {
		return s.TableExists(ctx, ex, ref)
	}
	return s.introspector(ex).DoesTableExist(ctx, ref)
}

// ReconstructDataset reads ref's schema back from the catalog.
func (s *RelationalSink) ReconstructDataset(ctx context.Context, ex executor.Executor, ref logical.DatasetRef) (*logical.DatasetDefinition, error) {
	if s.Reconstruct != nil {
		return s.Reconstruct(ctx, ex, ref)
	}
	return catalog.Reconstruct(ctx, s.introspector(ex), s.ParseType, ref)
}

// ValidateDataset compares a declared dataset with the one found in the
// catalog.
func (s *RelationalSink) ValidateDataset(declared, actual *logical.DatasetDefinition) error {
	if s.Validate != nil {
		return s.Validate(declared, actual)
	}
	return catalog.ValidateDataset(declared, actual)
}

func (s *RelationalSink) introspector(ex executor.Executor) catalog.Introspector {
	return &catalog.InformationSchema{Exec: ex, Fold: s.fold(s.DefaultCase)}
}

func (s *RelationalSink) fold(c CaseConversion) func(string) string {
	if c == CaseNone {
		c = s.DefaultCase
	}
	return caseFolder(c)
}

// ---- registry ----

var (
	mu    sync.RWMutex
	sinks = map[string]*RelationalSink{}
)

// Register makes a sink available by name.
//
// When to use:
//   - Call Register from an init() function in a dialect package.
//
// Panics:
//   - If s is nil or s.Name is empty.
//   - If s.Visitors is nil.
//   - If the name is already registered. This is intentional to fail fast and
//     avoid ambiguous dialect selection.
func Register(s *RelationalSink) {
	mu.Lock()
	defer mu.Unlock()

	if s == nil {
		panic("sink: Register called with nil sink")
	}
	if s.Name == "" {
		panic("sink: Register called with empty name")
	}
	if s.Visitors == nil {
		panic(fmt.Sprintf("sink: %s registered without visitors", s.Name))
	}
	key := strings.ToLower(s.Name)
	if _, exists := sinks[key]; exists {
		panic(fmt.Sprintf("sink: already registered for name=%q", s.Name))
	}
	sinks[key] = s
}

// Get returns the sink registered under name (case-insensitive).
func Get(name string) (*RelationalSink, error) {
	if name == "" {
		return nil, fmt.Errorf("sink: missing name")
	}
	mu.RLock()
	s := sinks[strings.ToLower(name)]
	mu.RUnlock()

	if s == nil {
		return nil, fmt.Errorf("sink: unsupported sink %q (registered: %s)", name, strings.Join(Names(), ", "))
	}
	return s, nil
}

// Names lists registered sink names in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(sinks))
	for k := range sinks {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
