package schema

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Decode copies a validated value into out, matching keys to struct fields
// by `mapstructure` tag or field name. Tool and transition handlers use it
// to obtain a typed view of input that [Validate] has already accepted.
//
// Decoding is weakly typed so JSON-shaped input fits Go field types: a
// whole float64 fills an int field, matching what [IntType] accepts.
func Decode(value map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("schema: decoder: %w", err)
	}
	if err := dec.Decode(value); err != nil {
		return fmt.Errorf("schema: decode: %w", err)
	}
	return nil
}
