package main

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("CONSOLE_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	t.Setenv("CONSOLE_CONFIG", "/tmp/custom.yaml")
	if got := getConfigPath(); got != "/tmp/custom.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}
}

func TestRun_MissingConfigFails(t *testing.T) {
	t.Setenv("CONSOLE_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("CONSOLE_USER", "")
	t.Setenv("CONSOLE_PASSWORD", "")

	err := run(context.Background(), nil)
	if err == nil {
		t.Fatal("run() succeeded with missing config")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want config load failure", err)
	}
}

func TestRun_MissingCredentialsFails(t *testing.T) {
	t.Setenv("CONSOLE_CONFIG", "../../configs/config.yaml")
	t.Setenv("CONSOLE_USER", "")
	t.Setenv("CONSOLE_PASSWORD", "")

	err := run(context.Background(), nil)
	if err == nil {
		t.Fatal("run() succeeded without credentials")
	}
	if !strings.Contains(err.Error(), "credentials required") {
		t.Errorf("run() error = %v, want credentials failure", err)
	}
}

func TestWaitForListener_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	// Nothing listens on this port; the context cancels the wait early.
	if err := waitForListener(ctx, "127.0.0.1:1"); err == nil {
		t.Error("waitForListener() succeeded against a closed port")
	}
}
