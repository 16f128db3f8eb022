package codec

import (
	"encoding/base64"
	"fmt"
	"unicode/utf8"
)

// DecodeFields returns a copy of obj with every string field base64
// decoded. A field that does not decode to valid UTF-8 keeps its original
// value and is reported through onSkip. Non-string fields are copied.
func DecodeFields(obj map[string]any, onSkip func(key string, err error)) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		decoded, err := decodeString(s)
		if err != nil {
			if onSkip != nil {
				onSkip(k, err)
			}
			out[k] = v
			continue
		}
		out[k] = decoded
	}
	return out
}

// EncodeFields is the inverse of DecodeFields: every string field is
// replaced by the base64 of its UTF-8 bytes.
func EncodeFields(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if s, ok := v.(string); ok {
			out[k] = base64.StdEncoding.EncodeToString([]byte(s))
			continue
		}
		out[k] = v
	}
	return out
}

func decodeString(s string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("|%s| is not Base64 Decodable", s)
	}
	return string(b), nil
}
