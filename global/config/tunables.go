package config

import (
	"sync/atomic"
	"time"

	"PPresence/tools/errs"

	"gopkg.in/yaml.v3"
)

// Tunables 可以热更新的参数，sweeper/dispatcher 每次运行时读取
type Tunables struct {
	InactivityThreshold time.Duration
	HeartbeatInterval   time.Duration
	DedupWindow         time.Duration
	ForceLogoutGrace    time.Duration
}

func (c *AppConfig) Tunables() Tunables {
	return Tunables{
		InactivityThreshold: c.Presence.InactivityThreshold,
		HeartbeatInterval:   c.Presence.HeartbeatInterval,
		DedupWindow:         c.Dispatch.DedupWindow,
		ForceLogoutGrace:    c.Dispatch.ForceLogoutGrace,
	}
}

// tunableDoc is the part of a remote document Apply reads.
type tunableDoc struct {
	Presence PresenceConfig `yaml:"presence"`
	Dispatch DispatchConfig `yaml:"dispatch"`
}

type TunableSource struct {
	base AppConfig
	p    atomic.Pointer[Tunables]
}

func NewTunableSource(cfg *AppConfig) *TunableSource {
	s := &TunableSource{base: *cfg}
	t := cfg.Tunables()
	s.p.Store(&t)
	return s
}

func (s *TunableSource) Get() Tunables { return *s.p.Load() }

// Apply parses a remote YAML document over the startup config and swaps
// the tunables in. Non-tunable fields in data are ignored.
func (s *TunableSource) Apply(data string) (Tunables, error) {
	doc := tunableDoc{Presence: s.base.Presence, Dispatch: s.base.Dispatch}
	if err := yaml.Unmarshal([]byte(data), &doc); err != nil {
		return s.Get(), errs.WrapMsg(err, "parse remote config")
	}
	// base holds maps and slices; only the two value sections are replaced
	next := s.base
	next.Presence, next.Dispatch = doc.Presence, doc.Dispatch
	if err := next.Validate(); err != nil {
		return s.Get(), err
	}
	t := next.Tunables()
	s.p.Store(&t)
	return t, nil
}
