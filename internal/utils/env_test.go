package utils

import (
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	if got := GetEnv("ENV_TEST_UNSET", "fallback", nil); got != "fallback" {
		t.Fatalf("unset variable should yield default, got %q", got)
	}
	t.Setenv("ENV_TEST_STR", "value")
	if got := GetEnv("ENV_TEST_STR", "fallback", nil); got != "value" {
		t.Fatalf("set variable should win, got %q", got)
	}
}

func TestGetEnvAsInt(t *testing.T) {
	if got := GetEnvAsInt("ENV_TEST_UNSET", 7, nil); got != 7 {
		t.Fatalf("unset variable should yield default, got %d", got)
	}
	t.Setenv("ENV_TEST_INT", " 42 ")
	if got := GetEnvAsInt("ENV_TEST_INT", 7, nil); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	t.Setenv("ENV_TEST_INT", "not-a-number")
	if got := GetEnvAsInt("ENV_TEST_INT", 7, nil); got != 7 {
		t.Fatalf("unparseable value should yield default, got %d", got)
	}
}

func TestGetEnvAsBool(t *testing.T) {
	if got := GetEnvAsBool("ENV_TEST_UNSET", true, nil); !got {
		t.Fatalf("unset variable should yield default")
	}
	for _, v := range []string{"1", "true", "YES", "On"} {
		t.Setenv("ENV_TEST_BOOL", v)
		if !GetEnvAsBool("ENV_TEST_BOOL", false, nil) {
			t.Fatalf("%q should parse as true", v)
		}
	}
	for _, v := range []string{"0", "false", "No", "OFF"} {
		t.Setenv("ENV_TEST_BOOL", v)
		if GetEnvAsBool("ENV_TEST_BOOL", true, nil) {
			t.Fatalf("%q should parse as false", v)
		}
	}
	t.Setenv("ENV_TEST_BOOL", "maybe")
	if !GetEnvAsBool("ENV_TEST_BOOL", true, nil) {
		t.Fatalf("unparseable value should yield default")
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	if got := GetEnvAsDuration("ENV_TEST_UNSET", time.Minute, nil); got != time.Minute {
		t.Fatalf("unset variable should yield default, got %v", got)
	}
	t.Setenv("ENV_TEST_DUR", "90s")
	if got := GetEnvAsDuration("ENV_TEST_DUR", time.Minute, nil); got != 90*time.Second {
		t.Fatalf("expected 90s, got %v", got)
	}
	t.Setenv("ENV_TEST_DUR", "soon")
	if got := GetEnvAsDuration("ENV_TEST_DUR", time.Minute, nil); got != time.Minute {
		t.Fatalf("unparseable value should yield default, got %v", got)
	}
}
