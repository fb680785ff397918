package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	duration, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// applyYAMLFile overlays the YAML file at path onto c.
func (c *Config) applyYAMLFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := c.ApplyYAML(data); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyYAML overlays data onto c. Keys missing from data keep their current
// values, unknown keys are rejected, and ${VAR} references are expanded from
// the environment.
func (c *Config) ApplyYAML(data []byte) error {
	expanded := os.ExpandEnv(string(data))
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Dump renders the effective configuration with secrets redacted.
func (c *Config) Dump() ([]byte, error) {
	out := *c
	out.Destination.Auth.BearerToken = redact(out.Destination.Auth.BearerToken)
	out.Destination.Auth.BasicPassword = redact(out.Destination.Auth.BasicPassword)
	if len(out.Destination.Auth.Headers) > 0 {
		h := make(Headers, len(out.Destination.Auth.Headers))
		for k := range out.Destination.Auth.Headers {
			h[k] = redact("x")
		}
		out.Destination.Auth.Headers = h
	}
	return yaml.Marshal(&out)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "<redacted>"
}
