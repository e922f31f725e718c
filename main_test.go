package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	jwtlib "PPresence/tools/security"
)

func TestHTTPPort(t *testing.T) {
	cases := []struct {
		addr    string
		want    uint64
		wantErr bool
	}{
		{":8080", 8080, false},
		{"0.0.0.0:9000", 9000, false},
		{"8080", 0, true},
		{":http", 0, true},
	}
	for _, tc := range cases {
		got, err := httpPort(tc.addr)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("httpPort(%q) = %d, %v", tc.addr, got, err)
		}
	}
}

func TestTokenCmd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ppresence.yaml")
	if err := os.WriteFile(path, []byte("jwt:\n  secret: test-secret\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	root := buildRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"token", "--config", path, "--env-file", "", "--user", "42", "--scope", "admin"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}

	claims, err := jwtlib.Verify(jwtlib.DefaultOptions([]byte("test-secret")), strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatal(err)
	}
	if uid, _ := claims.UserID(); uid != 42 || !claims.HasScope("admin") {
		t.Fatalf("claims = %v", claims.MapClaims)
	}
}

func TestTokenCmdNeedsUser(t *testing.T) {
	root := buildRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"token"})
	if err := root.Execute(); err == nil {
		t.Fatal("token without --user should fail")
	}
}

func TestMigrateList(t *testing.T) {
	var out bytes.Buffer
	root := buildRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"migrate", "--list"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "schema/") {
		t.Fatalf("out = %q", out.String())
	}
}
