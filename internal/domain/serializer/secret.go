package serializer

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"reflect"
)

// Secret holds sensitive bytes such as passphrases. Its converter writes the
// bytes straight into the output frame and decodes them straight into a new
// Secret, with no intermediate copies. Callers own the scrubbing: call Wipe
// once the value is no longer needed, on both the sending and the receiving
// side.
type Secret []byte

// Wipe overwrites the secret with zeros.
func (s Secret) Wipe() {
	clear(s)
}

// String redacts the value.
func (s Secret) String() string {
	return "[REDACTED]"
}

// LogValue redacts the value in structured logs.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue("[REDACTED]")
}

var errSecretEncoding = errors.New("secret must be a base64 JSON string")

var secretConverter = Converter{
	Build: func(v reflect.Value) (json.RawMessage, error) {
		src := v.Bytes()
		out := make([]byte, base64.StdEncoding.EncodedLen(len(src))+2)
		out[0] = '"'
		base64.StdEncoding.Encode(out[1:len(out)-1], src)
		out[len(out)-1] = '"'
		return out, nil
	},
	Read: func(data json.RawMessage, dst reflect.Value) error {
		if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
			return errSecretEncoding
		}
		encoded := data[1 : len(data)-1]
		out := make(Secret, base64.StdEncoding.DecodedLen(len(encoded)))
		n, err := base64.StdEncoding.Decode(out, encoded)
		if err != nil {
			clear(out)
			return errSecretEncoding
		}
		dst.Set(reflect.ValueOf(out[:n]))
		return nil
	},
}
