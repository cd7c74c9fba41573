// Package canonicaljson produces the exact byte sequence that is hashed on
// chain and content-addressed in IPFS (spec.md §6 "Canonical JSON"). Every
// caller that needs a CID — the content store client, the upload
// orchestrator, and the verifier — goes through Marshal so the same asset
// always produces the same bytes (spec.md invariant 6).
package canonicaljson

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Marshal renders v (expected to be a JSON-compatible value: map[string]any,
// []any, string, float64/int, bool, nil) as canonical JSON: object keys
// sorted lexicographically, no whitespace between tokens, UTF-8, numbers in
// minimal decimal form, no trailing newline.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// AssetPayload is the canonical triple hashed on chain and stored in IPFS
// (spec.md §4.1: "Callers MUST pass the canonical triple {asset_id,
// owner_address, critical_metadata} — nothing else goes to IPFS").
func AssetPayload(assetID, ownerAddress string, criticalMetadata map[string]any) map[string]any {
	return map[string]any{
		"asset_id":          assetID,
		"owner_address":     ownerAddress,
		"critical_metadata": criticalMetadata,
	}
}

func encode(buf *bytes.Buffer, v any) error {
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
	case float64:
		buf.WriteString(formatNumber(val))
	case int:
		buf.WriteString(strconv.Itoa(val))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case map[string]any:
		return encodeObject(buf, val)
	case []any:
		return encodeArray(buf, val)
	default:
		return fmt.Errorf("canonicaljson: unsupported type %T", v)
	}
	return nil
}

func encodeObject(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
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
		if err := encode(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeArray(buf *bytes.Buffer, a []any) error {
	buf.WriteByte('[')
	for i, elem := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encode(buf, elem); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
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

// formatNumber renders a float64 in minimal decimal form: integral values
// drop the fractional part, everything else uses the shortest
// round-trippable representation.
func formatNumber(f float64) string {
	if math.Trunc(f) == f && !math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
