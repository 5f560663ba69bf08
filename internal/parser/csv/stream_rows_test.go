package csv

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func collect(t *testing.T, in string, opt Options) ([][]any, []int, *Reader) {
	t.Helper()
	var (
		rows    [][]any
		badLine []int
		last    *Reader
	)
	err := Stream(context.Background(), strings.NewReader(in), opt, func(r *Reader, rec []any) error {
		last = r
		rows = append(rows, rec)
		return nil
	}, func(line int, _ error) {
		badLine = append(badLine, line)
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	return rows, badLine, last
}

func TestStream_HeaderAndNulls(t *testing.T) {
	in := "\uFEFFId,Full Name,amount\n1, Ann ,\n2,,10.5\n"
	rows, bad, r := collect(t, in, Options{SkipHeaderRows: 1, TrimSpace: true})
	if len(bad) != 0 {
		t.Fatalf("unexpected bad lines %v", bad)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows", len(rows))
	}
	if rows[0][1] != "Ann" || rows[0][2] != nil {
		t.Fatalf("row 1 = %#v", rows[0])
	}
	if rows[1][1] != nil || rows[1][2] != "10.5" {
		t.Fatalf("row 2 = %#v", rows[1])
	}
	if r.Index("id") != 0 || r.Index("FULL_NAME") != 1 || r.Index("missing") != -1 {
		t.Fatalf("header lookup failed")
	}
}

func TestStream_DelimiterNoHeader(t *testing.T) {
	rows, _, r := collect(t, "1|a\n2|b|extra\n", Options{Delimiter: '|'})
	if len(rows) != 2 || len(rows[1]) != 3 {
		t.Fatalf("rows = %#v", rows)
	}
	if r.Index("a") != -1 {
		t.Fatalf("no header expected")
	}
}

func TestStream_BadRecordIsSkipped(t *testing.T) {
	in := "1,\"ok\"\n2,\"bro\"ken\"\n3,fine\n"
	rows, bad, _ := collect(t, in, Options{})
	if len(rows) != 2 {
		t.Fatalf("expected 2 good rows, got %#v", rows)
	}
	if len(bad) != 1 || bad[0] != 2 {
		t.Fatalf("bad lines = %v", bad)
	}
}

func TestStream_CallbackErrorStops(t *testing.T) {
	stop := errors.New("stop")
	n := 0
	err := Stream(context.Background(), strings.NewReader("1\n2\n3\n"), Options{}, func(*Reader, []any) error {
		n++
		return stop
	}, nil)
	if !errors.Is(err, stop) || n != 1 {
		t.Fatalf("err=%v n=%d", err, n)
	}
}

func TestStream_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Stream(ctx, strings.NewReader("1\n"), Options{}, func(*Reader, []any) error { return nil }, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
