package util

import (
	"testing"
	"time"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("GR_TEST_STRING", "  value ")
	t.Setenv("GR_TEST_EMPTY", "")
	t.Setenv("GR_TEST_NUM", "0.8")
	t.Setenv("GR_TEST_BAD_NUM", "abc")
	t.Setenv("GR_TEST_BOOL", "yes")
	t.Setenv("GR_TEST_BAD_BOOL", "maybe")
	t.Setenv("GR_TEST_SECS", "30")

	if got := GetEnv("GR_TEST_STRING"); got != "value" {
		t.Fatalf("GetEnv = %q, want %q", got, "value")
	}
	if got := GetEnv("GR_TEST_MISSING"); got != "" {
		t.Fatalf("GetEnv missing = %q, want empty", got)
	}
	if got := GetEnvString("GR_TEST_EMPTY", "fallback"); got != "fallback" {
		t.Fatalf("GetEnvString empty = %q, want fallback", got)
	}
	if got := GetEnvNumeric("GR_TEST_NUM", 0.75); got != 0.8 {
		t.Fatalf("GetEnvNumeric = %v, want 0.8", got)
	}
	if got := GetEnvNumeric("GR_TEST_BAD_NUM", 3); got != 3 {
		t.Fatalf("GetEnvNumeric bad = %v, want 3", got)
	}
	if got := GetEnvBool("GR_TEST_BOOL", false); !got {
		t.Fatal("GetEnvBool yes = false, want true")
	}
	if got := GetEnvBool("GR_TEST_BAD_BOOL", true); !got {
		t.Fatal("GetEnvBool invalid should fall back to default")
	}
	if got := GetEnvSeconds("GR_TEST_SECS", time.Minute); got != 30*time.Second {
		t.Fatalf("GetEnvSeconds = %v, want 30s", got)
	}
	if got := GetEnvSeconds("GR_TEST_MISSING", time.Minute); got != time.Minute {
		t.Fatalf("GetEnvSeconds missing = %v, want 1m", got)
	}
}
