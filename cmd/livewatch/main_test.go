package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"livewatch/internal/config"
)

func fixtureEnv(t *testing.T) {
	t.Helper()
	path, err := filepath.Abs(filepath.Join("..", "..", "internal", "cloud", "testdata", "inventory.yaml"))
	if err != nil {
		t.Fatalf("fixture path: %v", err)
	}
	t.Setenv("LIVEWATCH_PROVIDER_DRIVER", "fixture")
	t.Setenv("LIVEWATCH_PROVIDER_FIXTURE_PATH", path)
	t.Setenv("LIVEWATCH_ENGINE_JITTER", "0s")
	t.Setenv("LIVEWATCH_ENGINE_PREWARM", "false")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestResolveCommand(t *testing.T) {
	fixtureEnv(t)

	out, err := execute(t, "resolve", "ch-news")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(out), &body); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if body["channel_id"] != "ch-news" || body["active_input"] != "main" {
		t.Fatalf("unexpected result %v", body)
	}
}

func TestResolveCommandUnknownChannel(t *testing.T) {
	fixtureEnv(t)

	if _, err := execute(t, "resolve", "ch-missing"); err == nil || !strings.Contains(err.Error(), "channel not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestResourcesCommand(t *testing.T) {
	fixtureEnv(t)

	out, err := execute(t, "resources", "--service", "flow")
	if err != nil {
		t.Fatalf("resources: %v", err)
	}
	if !strings.Contains(out, "flow-news-main") || !strings.Contains(out, "flow-orphan") {
		t.Fatalf("expected flows in output, got %s", out)
	}

	if _, err := execute(t, "resources", "--service", "bucket"); err == nil {
		t.Fatalf("expected unknown service error")
	}
}

func TestLinkageCommand(t *testing.T) {
	fixtureEnv(t)

	out, err := execute(t, "linkage", "ch-news")
	if err != nil {
		t.Fatalf("linkage: %v", err)
	}
	if !strings.Contains(out, "pkg-news") {
		t.Fatalf("expected packaging channel in linkage, got %s", out)
	}
}

func TestResolveRequiresChannelArgument(t *testing.T) {
	if _, err := execute(t, "resolve"); err == nil {
		t.Fatalf("expected argument error")
	}
}

func TestServeAnswersHealthAndShutsDown(t *testing.T) {
	fixtureEnv(t)
	t.Setenv("LIVEWATCH_HTTP_ADDR", "127.0.0.1:0")
	t.Setenv("LIVEWATCH_LOG_LEVEL", "error")

	v, err := config.New("")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.Log.Writer = io.Discard

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, ready) }()

	var addr net.Addr
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not start")
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/v1/channels/ch-news/active-input", addr))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}
