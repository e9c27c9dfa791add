package config

import (
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Writer:   WriterConfig{LowWatermark: 10, HighWatermark: 100},
		Backend:  BackendConfig{Kind: BackendSQLite},
		SQLite:   SQLiteConfig{Path: ":memory:"},
		Database: DatabaseConfig{ConnectRetries: 5},
		Lock:     LockConfig{Kind: LockFile, TTL: time.Second},
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected defaults to be valid: %v", err)
	}

	if cfg.Writer.LowWatermark != 1000 || cfg.Writer.HighWatermark != 100000 {
		t.Errorf("unexpected watermarks %d/%d", cfg.Writer.LowWatermark, cfg.Writer.HighWatermark)
	}
	if cfg.Backend.Kind != BackendSQLite || cfg.SQLite.Path != ":memory:" {
		t.Errorf("expected in-memory sqlite by default, got %s %s", cfg.Backend.Kind, cfg.SQLite.Path)
	}
	if cfg.Database.ConnectRetries != 5 || cfg.Database.ConnectBackoff != 2*time.Second {
		t.Errorf("unexpected retry policy %d/%v", cfg.Database.ConnectRetries, cfg.Database.ConnectBackoff)
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("WRITER_LOW_WATERMARK", "5")
	t.Setenv("WRITER_HIGH_WATERMARK", "50")
	t.Setenv("BACKEND_KIND", "timescale")
	t.Setenv("DB_HOST", "tsdb")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Writer.LowWatermark != 5 || cfg.Writer.HighWatermark != 50 {
		t.Errorf("watermarks not read from env: %+v", cfg.Writer)
	}
	if cfg.Backend.Kind != BackendTimescale || cfg.Database.Host != "tsdb" {
		t.Errorf("backend not read from env: %s %s", cfg.Backend.Kind, cfg.Database.Host)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"low above high", func(c *Config) { c.Writer.LowWatermark = 200 }, true},
		{"low equals high", func(c *Config) { c.Writer.LowWatermark = 100 }, true},
		{"zero watermark", func(c *Config) { c.Writer.LowWatermark = 0 }, true},
		{"unknown backend", func(c *Config) { c.Backend.Kind = "mongo" }, true},
		{"clickhouse", func(c *Config) { c.Backend.Kind = BackendClickHouse }, false},
		{"unknown lock", func(c *Config) { c.Lock.Kind = "etcd" }, true},
		{"redis without ttl", func(c *Config) { c.Lock.Kind = LockRedis; c.Lock.TTL = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	db := DatabaseConfig{Host: "h", Port: 5432, Name: "runs", User: "u", Password: "p", SSLMode: "disable"}
	if got := db.GetDSN(); got != "host=h port=5432 user=u password=p dbname=runs sslmode=disable" {
		t.Errorf("unexpected dsn %q", got)
	}

	ch := ClickHouseConfig{Host: "h", Port: 9000, Database: "runs", User: "u", Password: "p"}
	if got := ch.GetDSN(); got != "clickhouse://u:p@h:9000/runs" {
		t.Errorf("unexpected clickhouse dsn %q", got)
	}
}
