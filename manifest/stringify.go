package manifest

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// StableStringify emits canonical JSON for v: object keys sorted
// alphabetically at every depth, array order preserved. Two semantically
// identical documents with different key orders stringify identically, which
// is what the registry's revision-conflict check relies on.
func StableStringify(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "could not marshal value")
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return "", errors.Wrap(err, "could not decode value")
	}
	var sb strings.Builder
	if err := writeCanonical(&sb, generic); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func writeCanonical(sb *strings.Builder, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			sb.Write(kb)
			sb.WriteByte(':')
			if err := writeCanonical(sb, val[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	case []interface{}:
		sb.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeCanonical(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case json.Number:
		sb.WriteString(val.String())
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("could not marshal leaf value: %v", err)
		}
		sb.Write(b)
	}
	return nil
}
