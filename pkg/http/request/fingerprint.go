package request

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// KeyFunc maps a descriptor to its deduplication key.
type KeyFunc func(Descriptor) string

// Fingerprint is the default KeyFunc:
//
//	METHOD:url:query:body
//
// where query and body are serialized with sorted object keys, so two
// structurally equal payloads produce the same key whatever their field order.
func Fingerprint(d Descriptor) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(d.Method))
	b.WriteByte(':')
	b.WriteString(d.URL)
	b.WriteByte(':')
	if len(d.Query) > 0 {
		b.WriteString(StableSerialize(map[string][]string(d.Query)))
	}
	b.WriteByte(':')
	if d.Body != nil {
		b.WriteString(StableSerialize(d.Body))
	}
	return b.String()
}

// StableSerialize renders v as JSON with map keys in sorted order at every
// depth. Structs and maps with equal content render identically. It never
// fails: values JSON cannot encode fall back to their Go representation.
func StableSerialize(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}

	// Decoding into generic values and encoding again sorts keys of objects
	// that came from structs as well. UseNumber keeps large integers intact.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return string(raw)
	}
	return string(out)
}
