package tools

import (
	"testing"
	"time"
)

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("PP_T_DUR", "45s")
	if got := GetEnvDuration("PP_T_DUR", time.Second); got != 45*time.Second {
		t.Fatalf("got %v", got)
	}
	t.Setenv("PP_T_DUR", "12")
	if got := GetEnvDuration("PP_T_DUR", time.Second); got != 12*time.Second {
		t.Fatalf("got %v", got)
	}
	t.Setenv("PP_T_DUR", "nope")
	if got := GetEnvDuration("PP_T_DUR", time.Second); got != time.Second {
		t.Fatalf("got %v", got)
	}
}

func TestParseHdr(t *testing.T) {
	m := ParseHdr("a=1, b=2,broken")
	if len(m) != 2 || m["a"] != "1" || m["b"] != "2" {
		t.Fatalf("got %v", m)
	}
}
