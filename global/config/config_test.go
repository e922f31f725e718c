package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"PPresence/tools/errs"
)

func TestLoadLayers(t *testing.T) {
	dir := t.TempDir()
	yml := filepath.Join(dir, "c.yaml")
	if err := os.WriteFile(yml, []byte(`
node_name: edge-a
presence:
  inactivity_threshold: 40s
  heartbeat_interval: 10s
dispatch:
  dedup_window: 90s
`), 0o644); err != nil {
		t.Fatal(err)
	}
	env := filepath.Join(dir, ".env")
	if err := os.WriteFile(env, []byte("PP_GRPC_PORT=6000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PP_HTTP_ADDR", ":9999")
	t.Setenv("PP_NACOS_METADATA", "zone=a, tier=edge")

	cfg, err := Load(yml, env)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("PP_GRPC_PORT") })

	if cfg.NodeName != "edge-a" {
		t.Errorf("node name = %q", cfg.NodeName)
	}
	if cfg.Presence.InactivityThreshold != 40*time.Second || cfg.Presence.HeartbeatInterval != 10*time.Second {
		t.Errorf("presence = %+v", cfg.Presence)
	}
	if cfg.Dispatch.DedupWindow != 90*time.Second {
		t.Errorf("dedup window = %v", cfg.Dispatch.DedupWindow)
	}
	// 未写的字段保持默认
	if cfg.Presence.LockSweepEvery != time.Minute {
		t.Errorf("lock sweep = %v", cfg.Presence.LockSweepEvery)
	}
	if cfg.Server.HTTPAddr != ":9999" || cfg.Server.GRPCPort != 6000 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Nacos.Metadata["zone"] != "a" || cfg.Nacos.Metadata["tier"] != "edge" {
		t.Errorf("nacos metadata = %v", cfg.Nacos.Metadata)
	}
}

func TestLoadMissingDefaultPath(t *testing.T) {
	wd, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(wd) })
	_ = os.Chdir(t.TempDir())

	cfg, err := Load(DefaultConfigPath, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Presence.InactivityThreshold != 30*time.Second {
		t.Fatalf("threshold = %v", cfg.Presence.InactivityThreshold)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), ""); err == nil {
		t.Fatal("explicit missing path must fail")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		mut  func(c *AppConfig)
	}{
		{"heartbeat above threshold", func(c *AppConfig) { c.Presence.HeartbeatInterval = time.Minute }},
		{"zero window", func(c *AppConfig) { c.Dispatch.DedupWindow = 0 }},
		{"redis dedup without redis", func(c *AppConfig) { c.Dispatch.DedupBackend = "redis" }},
		{"bad relay", func(c *AppConfig) { c.Relay.Driver = "carrier-pigeon" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mut(&c)
			if err := c.Validate(); !errs.ErrArgs.Is(err) {
				t.Fatalf("want args error, got %v", err)
			}
		})
	}
}

func TestTunableSourceApply(t *testing.T) {
	c := Default()
	s := NewTunableSource(&c)
	if s.Get().InactivityThreshold != 30*time.Second {
		t.Fatal("initial tunables wrong")
	}

	got, err := s.Apply("presence:\n  inactivity_threshold: 1m\ndispatch:\n  force_logout_grace: 2s\n")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got.InactivityThreshold != time.Minute || s.Get().ForceLogoutGrace != 2*time.Second {
		t.Fatalf("tunables = %+v", s.Get())
	}

	// 非法配置不生效
	if _, err := s.Apply("presence:\n  heartbeat_interval: 5m\n"); err == nil {
		t.Fatal("invalid remote config should fail")
	}
	if s.Get().InactivityThreshold != time.Minute {
		t.Fatal("invalid apply must keep previous tunables")
	}
}

func TestTunableSourceApplyLeavesStartupConfig(t *testing.T) {
	c := Default()
	c.Nacos.Metadata = map[string]string{"zone": "a"}
	s := NewTunableSource(&c)

	doc := "nacos:\n  metadata:\n    zone: b\n    extra: x\npresence:\n  inactivity_threshold: 45s\n"
	if _, err := s.Apply(doc); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if s.Get().InactivityThreshold != 45*time.Second {
		t.Fatalf("tunables = %+v", s.Get())
	}
	if len(c.Nacos.Metadata) != 1 || c.Nacos.Metadata["zone"] != "a" {
		t.Fatalf("startup metadata changed: %v", c.Nacos.Metadata)
	}
}
