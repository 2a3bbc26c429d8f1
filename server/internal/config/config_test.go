package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

const minimal = `upstream:
  endpoint: "http://provider.local"
`

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", cfg.Server.HTTPPort, DefaultHTTPPort)
	}
	if cfg.Cache.TTL != 60*time.Second {
		t.Errorf("cache.ttl: got %v, want 60s", cfg.Cache.TTL)
	}
	if cfg.Poller.Interval != 20*time.Second {
		t.Errorf("poller.interval: got %v, want 20s", cfg.Poller.Interval)
	}
	if cfg.Upstream.Backend != "http" {
		t.Errorf("upstream.backend: got %q, want http", cfg.Upstream.Backend)
	}
	if cfg.Dispatcher.Workers != DefaultWorkers {
		t.Errorf("dispatcher.workers: got %d, want %d", cfg.Dispatcher.Workers, DefaultWorkers)
	}
	if cfg.Notify.Kafka.Enabled() {
		t.Error("kafka: should be disabled without brokers")
	}
}

func TestLoad_Full(t *testing.T) {
	p := writeConfig(t, `server:
  http_port: 9091
  auth:
    mode: apikey
    key_env: MY_KEY
    header: X-Drift-Key
cache:
  ttl: 2m
poller:
  interval: 5s
dispatcher:
  workers: 3
upstream:
  backend: elasticsearch
  rate_per_minute: 120
  elasticsearch:
    addresses: ["http://es:9200"]
notify:
  webhooks:
    - type: slack
      url_env: SLACK_URL
  kafka:
    brokers: ["kafka:9092"]
log:
  level: debug
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 9091 {
		t.Errorf("http_port: got %d, want 9091", cfg.Server.HTTPPort)
	}
	if h := cfg.Server.Auth.EffectiveHeader(); h != "x-drift-key" {
		t.Errorf("header: got %q, want x-drift-key", h)
	}
	if cfg.Cache.TTL != 2*time.Minute {
		t.Errorf("cache.ttl: got %v, want 2m", cfg.Cache.TTL)
	}
	if cfg.Poller.Interval != 5*time.Second {
		t.Errorf("poller.interval: got %v, want 5s", cfg.Poller.Interval)
	}
	if cfg.Upstream.Elasticsearch.VideoIndex != DefaultVideoIndex {
		t.Errorf("video_index: got %q, want %q", cfg.Upstream.Elasticsearch.VideoIndex, DefaultVideoIndex)
	}
	if !cfg.Notify.Kafka.Enabled() || cfg.Notify.Kafka.Topic != DefaultKafkaTopic {
		t.Errorf("kafka: got %+v", cfg.Notify.Kafka)
	}
	if cfg.Log.SlogLevel() != slog.LevelDebug {
		t.Errorf("log level: got %v, want debug", cfg.Log.SlogLevel())
	}
}

func TestLoad_KeyEnvResolution(t *testing.T) {
	t.Setenv("TEST_SERVER_KEY", "supersecret")
	t.Setenv("TEST_UPSTREAM_TOKEN", "tok")
	p := writeConfig(t, `server:
  auth:
    mode: apikey
    key_env: TEST_SERVER_KEY
upstream:
  endpoint: "http://provider.local"
  auth:
    mode: bearer
    token_env: TEST_UPSTREAM_TOKEN
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if k := cfg.Server.Auth.Key(); k != "supersecret" {
		t.Errorf("Key(): got %q, want supersecret", k)
	}
	if tok := cfg.Upstream.Auth.Token(); tok != "tok" {
		t.Errorf("Token(): got %q, want tok", tok)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown auth mode": "server:\n  auth:\n    mode: oauth2\n" + minimal,
		"http without endpoint": "upstream:\n  backend: http\n",
		"unknown backend":       "upstream:\n  backend: grpc\n",
		"es without addresses":  "upstream:\n  backend: elasticsearch\n",
		"zero poll interval":    minimal + "poller:\n  interval: 0s\n",
		"negative ttl":          minimal + "cache:\n  ttl: -1s\n",
		"bad webhook type":      minimal + "notify:\n  webhooks:\n    - type: pager\n      url_env: X\n",
		"bad log level":         minimal + "log:\n  level: loud\n",
		"port out of range":     minimal + "server:\n  http_port: 70000\n",
		"feed url without verb": "upstream:\n  endpoint: http://x\n  channel_feed_url: http://feeds/videos.xml\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	p := writeConfig(t, minimal)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 1)
	go Watch(ctx, p, func(c *Config) { //nolint:errcheck
		select {
		case reloaded <- c:
		default:
		}
	})
	time.Sleep(50 * time.Millisecond) // let the watcher register

	if err := os.WriteFile(p, []byte(minimal+"poller:\n  interval: 7s\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case c := <-reloaded:
		if c.Poller.Interval != 7*time.Second {
			t.Errorf("reloaded interval: got %v, want 7s", c.Poller.Interval)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatch_SkipsInvalidThenAppliesValid(t *testing.T) {
	p := writeConfig(t, minimal)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	go Watch(ctx, p, func(c *Config) { reloaded <- c }) //nolint:errcheck
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(p, []byte("log:\n  level: loud\n"), 0o600); err != nil {
		t.Fatalf("write invalid config: %v", err)
	}
	select {
	case c := <-reloaded:
		t.Fatalf("invalid config applied: %+v", c.Log)
	case <-time.After(300 * time.Millisecond):
	}

	if err := os.WriteFile(p, []byte(minimal+"log:\n  level: debug\n"), 0o600); err != nil {
		t.Fatalf("write valid config: %v", err)
	}
	select {
	case c := <-reloaded:
		if c.Log.Level != "debug" {
			t.Errorf("log level: got %q, want debug", c.Log.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatch_IgnoresSiblingFiles(t *testing.T) {
	p := writeConfig(t, minimal)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 1)
	go Watch(ctx, p, func(c *Config) { reloaded <- c }) //nolint:errcheck
	time.Sleep(50 * time.Millisecond)

	sibling := filepath.Join(filepath.Dir(p), "other.yaml")
	if err := os.WriteFile(sibling, []byte("x: 1\n"), 0o600); err != nil {
		t.Fatalf("write sibling: %v", err)
	}
	select {
	case <-reloaded:
		t.Fatal("reload triggered by an unrelated file")
	case <-time.After(300 * time.Millisecond):
	}
}
