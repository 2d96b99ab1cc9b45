// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package canon implements deterministic JSON encoding and hashing over a
// restricted JSON subset (object/array/string/integer/bool/null), so two
// platforms serializing the same semantic payload produce byte-identical
// output.
package canon

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"math"
	"sort"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

const (
	minInt64 = -9223372036854775808
	maxInt64 = 9223372036854775807
)

// Error reports a canonicalization failure together with the JSON path and
// offending Go type, so callers can locate the bad field without re-walking
// the payload.
type Error struct {
	Path string
	Type string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("canon: %s at %s (type %s)", e.Msg, e.Path, e.Type)
}

func newError(path, msg string, v any) *Error {
	return &Error{Path: path, Type: fmt.Sprintf("%T", v), Msg: msg}
}

// Bytes encodes v as canonical JSON bytes: NFC-normalized keys and string
// values, keys sorted by code point, null object fields elided, integer-only
// numerics, compact separators.
func Bytes(v map[string]any) ([]byte, error) {
	canonical, err := canonicalizeValue("$", v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encodeValue(&buf, canonical); err != nil {
		return nil, err
	}
	return norm.NFC.Bytes(buf.Bytes()), nil
}

// Hash returns the SHA-256 digest of Bytes(v).
func Hash(v map[string]any) ([32]byte, error) {
	b, err := Bytes(v)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(b), nil
}

// canonicalizeValue recursively validates and normalizes a restricted-JSON
// value, mirroring the elision/sort/normalization rules of the Python
// reference this component is ported from.
func canonicalizeValue(path string, v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return val, nil
	case string:
		return norm.NFC.String(val), nil
	case int:
		return validateInt(path, int64(val))
	case int32:
		return validateInt(path, int64(val))
	case int64:
		return validateInt(path, val)
	case float32:
		return validateFloat(path, float64(val))
	case float64:
		return validateFloat(path, val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			c, err := canonicalizeValue(fmt.Sprintf("%s[%d]", path, i), item)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if item == nil {
				continue
			}
			c, err := canonicalizeValue(fmt.Sprintf("%s.%s", path, k), item)
			if err != nil {
				return nil, err
			}
			if c == nil {
				continue
			}
			out[norm.NFC.String(k)] = c
		}
		return out, nil
	default:
		return nil, newError(path, "unsupported type in canonical JSON", v)
	}
}

func validateInt(path string, v int64) (int64, error) {
	if v < minInt64 || v > maxInt64 {
		return 0, newError(path, "integer outside signed 64-bit range", v)
	}
	return v, nil
}

func validateFloat(path string, v float64) (int64, error) {
	if math.IsNaN(v) {
		return 0, newError(path, "NaN not permitted in canonical JSON", v)
	}
	if math.IsInf(v, 0) {
		return 0, newError(path, "infinity not permitted in canonical JSON", v)
	}
	if v != math.Trunc(v) {
		return 0, newError(path, "float values not permitted in canonical JSON", v)
	}
	if v >= 9223372036854775808.0 || v < -9223372036854775808.0 {
		return 0, newError(path, "integer outside signed 64-bit range", v)
	}
	return validateInt(path, int64(v))
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		encodeString(buf, val)
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodeString(buf, k)
			buf.WriteByte(':')
			if err := encodeValue(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return newError("$", "unsupported canonicalized type", v)
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}
