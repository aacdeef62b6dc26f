package task

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Decode copies payload values into the mapstructure-tagged struct out.
// Input is weakly typed: JSON numbers, numeric strings and bools are coerced
// to the target field types.
func (p Payload) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("create payload decoder: %w", err)
	}
	if err := dec.Decode(map[string]any(p)); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
