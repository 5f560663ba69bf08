// Package digest computes the deterministic row digest stored in a dataset's
// digest column.
//
// The digest of a row is a SHA-256 over a canonical form of its fields:
//
//	name=value<US>name=value<US>...
//
// where <US> is the ASCII unit separator (0x1f).
//
// Canonicalization rules:
//   - Fields keep the order they are given in.
//   - Missing or nil values are encoded as a single NUL byte (0x00) so a
//     NULL differs from the empty string.
//   - Common types are converted without fmt.Sprint.
//   - time.Time values are encoded as RFC3339Nano in UTC.
//   - Output is a lowercase hex string (length 64).
//
// Engines without a native digest function (SQLite) register Pairs as a
// SQL function; Go-side loaders call Compute directly so both paths agree.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const separator = "\x1f"

// Compute returns the digest of values labelled by names. The slices must
// have the same length.
func Compute(names []string, values []any) (string, error) {
	if len(names) != len(values) {
		return "", fmt.Errorf("digest: %d names for %d values", len(names), len(values))
	}
	var b strings.Builder

	// Heuristic: reduce reallocs for common short-ish fields.
	b.Grow(len(names) * 20)

	for i, name := range names {
		if i > 0 {
			b.WriteString(separator)
		}
		b.WriteString(name)
		b.WriteByte('=')
		appendCanonicalValue(&b, values[i])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

// Pairs computes the digest of interleaved name, value arguments, the
// calling convention of the SQL digest function:
//
//	LAKEHOUSE_MD5('id', id, 'name', name)
//
// Names must be strings ([]byte is accepted for drivers that return text
// as bytes).
func Pairs(args []any) (string, error) {
	if len(args)%2 != 0 {
		return "", fmt.Errorf("digest: odd number of arguments (%d)", len(args))
	}
	names := make([]string, 0, len(args)/2)
	values := make([]any, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		switch n := args[i].(type) {
		case string:
			names = append(names, n)
		case []byte:
			names = append(names, string(n))
		default:
			return "", fmt.Errorf("digest: argument %d: field name must be text, got %T", i+1, args[i])
		}
		values = append(values, args[i+1])
	}
	return Compute(names, values)
}

// appendCanonicalValue appends a stable, canonical representation of v.
func appendCanonicalValue(b *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		b.WriteByte('\x00')

	case string:
		b.WriteString(t)
	case []byte:
		b.Write(t)

	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}

	case int:
		b.WriteString(strconv.Itoa(t))
	case int8:
		b.WriteString(strconv.FormatInt(int64(t), 10))
	case int16:
		b.WriteString(strconv.FormatInt(int64(t), 10))
	case int32:
		b.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		b.WriteString(strconv.FormatInt(t, 10))

	case uint:
		b.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint8:
		b.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint16:
		b.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint32:
		b.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint64:
		b.WriteString(strconv.FormatUint(t, 10))

	case float32:
		b.WriteString(strconv.FormatFloat(float64(t), 'g', -1, 32))
	case float64:
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))

	case time.Time:
		tt := t
		if !tt.IsZero() {
			tt = tt.UTC()
		}
		b.WriteString(tt.Format(time.RFC3339Nano))

	default:
		b.WriteString(fmt.Sprint(t))
	}
}
