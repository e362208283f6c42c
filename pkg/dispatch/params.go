package dispatch

import (
	"encoding/json"

	"github.com/randalmurphal/toolflow/pkg/flowgraph/config"
)

// Params is the validated parameter set handed to a handler. Declared
// defaults are already filled in; the typed accessors of config.Config
// return their fallback only for optional parameters without a default.
type Params struct {
	config.Config
}

// NewParams wraps a parameter map. Handlers normally receive Params from
// Registry.Invoke; NewParams exists for calling handlers directly in tests.
func NewParams(m map[string]any) Params {
	return Params{Config: config.New(m)}
}

// Decode copies the parameters into v, which is usually a pointer to a
// struct with json tags.
func (p Params) Decode(v any) error {
	data, err := json.Marshal(p.Raw())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
