package app

import (
	"context"
	"testing"

	"github.com/sebas/opdesk/internal/panel/config"
)

func TestLoadDirectoryStaticList(t *testing.T) {
	cfg := &config.Config{Directory: config.DirectoryConfig{
		Extensions: []config.ExtensionEntry{
			{Number: "1001", Name: "Alice"},
			{Number: "1002", Name: "Bob"},
		},
	}}

	monitored, pool, err := loadDirectory(context.Background(), cfg)
	if err != nil {
		t.Fatalf("loadDirectory() error = %v", err)
	}
	if pool != nil {
		t.Error("pool should be nil without a DSN")
	}
	if len(monitored) != 2 || monitored["1001"] != "Alice" {
		t.Errorf("monitored = %v, want the two configured extensions", monitored)
	}
}

func TestLoadDirectoryFallsBackToStaticList(t *testing.T) {
	cfg := &config.Config{Directory: config.DirectoryConfig{
		DSN: "://not-a-dsn",
		Extensions: []config.ExtensionEntry{
			{Number: "1001", Name: "Alice"},
		},
	}}

	monitored, pool, err := loadDirectory(context.Background(), cfg)
	if err != nil {
		t.Fatalf("loadDirectory() error = %v, want fallback to the static list", err)
	}
	if pool != nil {
		t.Error("pool should be nil after the fallback")
	}
	if len(monitored) != 1 || monitored["1001"] != "Alice" {
		t.Errorf("monitored = %v, want the configured extension", monitored)
	}
}

func TestLoadDirectoryFailsWithoutFallback(t *testing.T) {
	cfg := &config.Config{Directory: config.DirectoryConfig{DSN: "://not-a-dsn"}}

	if _, _, err := loadDirectory(context.Background(), cfg); err == nil {
		t.Fatal("loadDirectory() error = nil, want failure when no static list exists")
	}
}
