package config

import (
	"time"

	"github.com/knadh/koanf/v2"
)

// Settings exposes the `settings` section to services. It satisfies
// modkit.Settings.
type Settings struct {
	k *koanf.Koanf
}

// NewSettings wraps an arbitrary map, mainly for tests.
func NewSettings(values map[string]any) *Settings {
	k := koanf.New(".")
	for key, v := range values {
		_ = k.Set(key, v)
	}
	return &Settings{k: k}
}

func (s *Settings) Exists(key string) bool            { return s.k.Exists(key) }
func (s *Settings) Int(key string) int                { return s.k.Int(key) }
func (s *Settings) String(key string) string          { return s.k.String(key) }
func (s *Settings) Bool(key string) bool              { return s.k.Bool(key) }
func (s *Settings) Duration(key string) time.Duration { return s.k.Duration(key) }

// Keys returns all setting keys, flattened with ".".
func (s *Settings) Keys() []string { return s.k.Keys() }
