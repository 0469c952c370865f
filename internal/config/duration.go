package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration makes time.Duration usable in the settings file. It accepts the
// Go duration syntax ("5s", "500ms") as well as a bare number of seconds.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	// Scalars decode into a string either way, so try the duration syntax
	// first and fall back to reading the value as seconds.
	var text string
	if err := value.Decode(&text); err == nil {
		if parsed, err := time.ParseDuration(text); err == nil {
			*d = Duration(parsed)
			return nil
		}
	}

	var seconds float64
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds * float64(time.Second)))
		return nil
	}

	return fmt.Errorf("invalid duration %q on line %d", value.Value, value.Line)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}
