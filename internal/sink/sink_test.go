package sink_test

import (
	"errors"
	"strings"
	"testing"

	"ingest/internal/logical"
	"ingest/internal/physical"
	"ingest/internal/sink"
	"ingest/internal/sink/ansi"
)

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("%s: expected panic", name)
		}
	}()
	fn()
}

func TestRegister_Panics(t *testing.T) {
	mustPanic(t, "nil", func() { sink.Register(nil) })
	mustPanic(t, "empty name", func() { sink.Register(&sink.RelationalSink{Visitors: ansi.New(ansi.DefaultDialect())}) })
	mustPanic(t, "no visitors", func() { sink.Register(&sink.RelationalSink{Name: "novisitors"}) })

	s := &sink.RelationalSink{Name: "Registry_Test", Visitors: ansi.New(ansi.DefaultDialect())}
	sink.Register(s)
	// names are case-insensitive
	mustPanic(t, "duplicate", func() {
		sink.Register(&sink.RelationalSink{Name: "registry_test", Visitors: ansi.New(ansi.DefaultDialect())})
	})

	got, err := sink.Get("REGISTRY_TEST")
	if err != nil || got != s {
		t.Fatalf("Get: %v %v", got, err)
	}
}

func TestGet_Unknown(t *testing.T) {
	_, err := sink.Get("nope")
	if err == nil || !strings.Contains(err.Error(), "ansi") {
		t.Fatalf("expected error listing registered sinks, got %v", err)
	}
	if _, err := sink.Get(""); err == nil {
		t.Fatalf("expected error for empty name")
	}
}

func TestCapabilities(t *testing.T) {
	c := sink.Caps(sink.Merge, sink.DataTypeLengthChange)
	if !c.Has(sink.Merge) || c.Has(sink.AddColumn) {
		t.Fatalf("Has mismatch for %s", c)
	}
	if got := c.String(); got != "MERGE,DATA_TYPE_LENGTH_CHANGE" {
		t.Fatalf("String=%q", got)
	}
	if got := sink.TransformWhileCopy.String(); got != "TRANSFORM_WHILE_COPY" {
		t.Fatalf("capability name=%q", got)
	}
}

func TestConversionsNeedCapability(t *testing.T) {
	s := &sink.RelationalSink{
		Name:     "conv",
		Implicit: sink.TypeMap{logical.BigInt: {logical.Int}},
		Explicit: sink.TypeMap{logical.Int: {logical.BigInt}},
	}
	if s.CanImplicitlyConvert(logical.Int, logical.BigInt) || s.CanExplicitlyConvert(logical.Int, logical.BigInt) {
		t.Fatalf("conversions must be gated by capabilities")
	}
	s.Capabilities = sink.Caps(sink.ImplicitDataTypeConversion, sink.ExplicitDataTypeConversion)
	if !s.CanImplicitlyConvert(logical.Int, logical.BigInt) {
		t.Fatalf("INT should land in BIGINT")
	}
	if !s.CanExplicitlyConvert(logical.Int, logical.BigInt) || s.CanExplicitlyConvert(logical.BigInt, logical.Int) {
		t.Fatalf("explicit map is directional")
	}
}

func TestParseCaseConversion(t *testing.T) {
	tests := []struct {
		in   string
		want sink.CaseConversion
		err  bool
	}{
		{"", sink.CaseNone, false},
		{"none", sink.CaseNone, false},
		{"TO_UPPER", sink.CaseUpper, false},
		{" to_lower ", sink.CaseLower, false},
		{"title", sink.CaseNone, true},
	}
	for _, tt := range tests {
		got, err := sink.ParseCaseConversion(tt.in)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("ParseCaseConversion(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestDispatch_Nil(t *testing.T) {
	_, err := sink.Dispatch(ansi.New(ansi.DefaultDialect()), &physical.Root{}, nil, &sink.Context{})
	if !errors.Is(err, sink.ErrUnsupportedNode) {
		t.Fatalf("expected ErrUnsupportedNode, got %v", err)
	}
}

func TestTransform_CaseConversion(t *testing.T) {
	s, err := sink.Get(ansi.Name)
	if err != nil {
		t.Fatal(err)
	}
	ds := &logical.DatasetDefinition{Name: "Main", Schema: logical.SchemaDefinition{Fields: []logical.Field{
		{Name: "Id", Type: logical.TypeOf(logical.Int), PrimaryKey: true},
	}}}
	out, err := s.Transform(logical.NewPlan(&logical.Drop{Dataset: ds, IfExists: true}), sink.TransformOptions{CaseConversion: sink.CaseUpper})
	if err != nil {
		t.Fatal(err)
	}
	if out.SQL[0] != `DROP TABLE IF EXISTS "MAIN"` {
		t.Fatalf("got %s", out.SQL[0])
	}
	if out.IsEmpty() {
		t.Fatalf("plan should not be empty")
	}
}
