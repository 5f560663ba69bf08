package json

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

type result struct {
	rows     [][]any
	lines    []int
	badLines []int
	reader   *Reader
}

func runStream(t *testing.T, ctx context.Context, input string, columns []string, opt Options) (result, error) {
	t.Helper()
	var res result
	err := Stream(ctx, strings.NewReader(input), columns, opt, func(r *Reader, rec []any) error {
		res.reader = r
		res.rows = append(res.rows, rec)
		res.lines = append(res.lines, r.Line())
		return nil
	}, func(line int, _ error) {
		res.badLines = append(res.badLines, line)
	})
	return res, err
}

func TestStream_RootArrayThenJSONLines(t *testing.T) {
	input := `[
		{"a": 1, "b": ["x", "y"]},
		null,
		{"a": 2.50, "b": []}
	]
	{"a": 3, "b": ["z"]}`

	res, err := runStream(t, context.Background(), input, []string{"a", "b"}, Options{ArraySeparator: "|"})
	if err != nil {
		t.Fatalf("Stream() err=%v", err)
	}
	want := [][]any{{"1", "x|y"}, {"2.50", ""}, {"3", "z"}}
	if !reflect.DeepEqual(res.rows, want) {
		t.Fatalf("rows=%#v, want %#v", res.rows, want)
	}
	if !reflect.DeepEqual(res.lines, []int{1, 2, 3}) {
		t.Fatalf("lines=%v", res.lines)
	}
	if res.reader.Index("b") != 1 || res.reader.Index("missing") != -1 {
		t.Fatalf("column index lookup failed")
	}
}

func TestStream_EnvelopeStreamsFirstArrayField(t *testing.T) {
	input := `{
		"meta": {"ignore": [1,2,3]},
		"records": [{"x": 1}, {"x": 2}],
		"other": {"deep": [{"k": "v"}], "n": null}
	}
	{"x": 3}`

	res, err := runStream(t, context.Background(), input, []string{"x"}, Options{})
	if err != nil {
		t.Fatalf("Stream() err=%v", err)
	}
	want := [][]any{{"1"}, {"2"}, {"3"}}
	if !reflect.DeepEqual(res.rows, want) {
		t.Fatalf("rows=%#v, want %#v", res.rows, want)
	}
}

func TestStream_SingleObjectKeepsNestedValuesAsJSON(t *testing.T) {
	input := `{"id": 7, "ok": true, "none": null, "tags": {"k": [1, "two"]}}`

	res, err := runStream(t, context.Background(), input, []string{"id", "ok", "none", "tags", "absent"}, Options{})
	if err != nil {
		t.Fatalf("Stream() err=%v", err)
	}
	want := [][]any{{"7", true, nil, `{"k":[1,"two"]}`, nil}}
	if !reflect.DeepEqual(res.rows, want) {
		t.Fatalf("rows=%#v, want %#v", res.rows, want)
	}
}

func TestStream_EmptyInput(t *testing.T) {
	res, err := runStream(t, context.Background(), "  ", []string{"a"}, Options{})
	if err != nil || len(res.rows) != 0 {
		t.Fatalf("rows=%v err=%v", res.rows, err)
	}
}

func TestStream_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := runStream(t, ctx, `[{"a":1}]`, []string{"a"}, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	if len(res.rows) != 0 {
		t.Fatalf("rows=%v, want none", res.rows)
	}
}

func TestStream_ErrorPaths(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantBad bool
	}{
		{"scalar root", `42`, false},
		{"array of scalars", `[{"a":1}, 5]`, true},
		{"truncated", `[{"a":1}, {"a":`, true},
		{"broken trailing object", `{"a":1} {"a"`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := runStream(t, context.Background(), tt.input, []string{"a"}, Options{})
			if err == nil {
				t.Fatalf("Stream() err=nil, want error")
			}
			if tt.wantBad && len(res.badLines) == 0 {
				t.Fatalf("onErr not called")
			}
		})
	}
}

func TestStream_CallbackErrorStops(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := Stream(context.Background(), strings.NewReader(`{"a":1}
{"a":2}`), []string{"a"}, Options{}, func(*Reader, []any) error {
		calls++
		return stop
	}, nil)
	if !errors.Is(err, stop) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}
