package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	Inject struct {
		TimeoutMS int `yaml:"timeout_ms"`
	} `yaml:"inject"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Output struct {
		JSON bool `yaml:"json"`
	} `yaml:"output"`
}

func defaultSettings() *Settings {
	s := &Settings{}
	s.Inject.TimeoutMS = 2000
	s.Log.Level = "info"
	s.Log.Format = "text"
	return s
}

// loadSettings reads path over the defaults. An empty path yields the
// defaults.
func loadSettings(path string) (*Settings, error) {
	s := defaultSettings()
	if path == "" {
		return s, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read settings")
	}
	if err := yaml.Unmarshal(b, s); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if s.Inject.TimeoutMS <= 0 {
		return nil, errors.Errorf("inject.timeout_ms must be positive, got %d", s.Inject.TimeoutMS)
	}
	switch s.Log.Format {
	case "text", "json":
	default:
		return nil, errors.Errorf("log.format must be text or json, got %q", s.Log.Format)
	}
	return s, nil
}

func (s *Settings) timeout() time.Duration {
	return time.Duration(s.Inject.TimeoutMS) * time.Millisecond
}
