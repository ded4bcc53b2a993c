// Package fingerprint derives the content-addressed identifiers used as
// storage keys throughout the pipeline.
package fingerprint

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // identity hash, not a security boundary
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

// Text returns the hex SHA-1 of s. Callers normalize s first when the id
// must survive cosmetic differences.
func Text(s string) string {
	sum := sha1.Sum([]byte(s)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// Join hashes the parts joined with "|". Block, atom, QA unit and dedup
// group ids are all built this way.
func Join(parts ...string) string {
	return Text(strings.Join(parts, "|"))
}

// Canonical hashes v after serializing it with sorted object keys, compact
// separators, NFC-normalized strings and no HTML escaping. Structs go through
// their JSON form first, so json tags define the key names.
func Canonical(v any) (string, error) {
	b, err := MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	return Text(string(b)), nil
}

// MustCanonical is Canonical for values known to be JSON-serializable.
func MustCanonical(v any) string {
	h, err := Canonical(v)
	if err != nil {
		panic(err)
	}
	return h
}

// MarshalCanonical produces the canonical serialization hashed by Canonical.
func MarshalCanonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "fingerprint: marshal")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, eris.Wrap(err, "fingerprint: decode")
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case string:
		return writeString(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
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
			if err := writeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return eris.Wrapf(err, "fingerprint: key %q", k)
			}
		}
		buf.WriteByte('}')
	default:
		return eris.Errorf("fingerprint: unsupported type %T", v)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return eris.Wrap(err, "fingerprint: encode string")
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}
