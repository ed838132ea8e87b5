// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Netplay License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nishisan-dev/n-netplay/internal/protocol"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netplay.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "session:\n  nick: Tester\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Session.Port != DefaultPort {
		t.Errorf("expected port %d, got %d", DefaultPort, cfg.Session.Port)
	}
	if cfg.Session.DelayFrames != DefaultDelayFrames {
		t.Errorf("expected delay_frames %d, got %d", DefaultDelayFrames, cfg.Session.DelayFrames)
	}
	if cfg.Session.CheckFrames != DefaultCheckFrames {
		t.Errorf("expected check_frames %d, got %d", DefaultCheckFrames, cfg.Session.CheckFrames)
	}
	if !cfg.Session.IsHost() {
		t.Error("empty server must mean host role")
	}
	if cfg.Replay.Compression != "gzip" {
		t.Errorf("expected gzip default, got %q", cfg.Replay.Compression)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoad_Client(t *testing.T) {
	path := writeConfig(t, `
session:
  nick: Challenger
  server: host.example.com
  port: 55435
  delay_frames: 6
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.IsHost() {
		t.Error("server set must mean client role")
	}
	if got := cfg.Session.DialAddr(); got != "host.example.com:55435" {
		t.Errorf("unexpected dial addr %q", got)
	}
}

func TestDialAddr_DirectHostWins(t *testing.T) {
	s := SessionInfo{Server: "host.example.com", DirectHost: "192.0.2.10", Port: 7000}
	if got := s.DialAddr(); got != "192.0.2.10:7000" {
		t.Errorf("expected direct host, got %q", got)
	}
}

func TestQuirkBits(t *testing.T) {
	s := SessionInfo{Quirks: []string{"no_savestates", "initialization"}}
	bits, err := s.QuirkBits()
	if err != nil {
		t.Fatalf("QuirkBits: %v", err)
	}
	want := protocol.QuirkNoSavestates | protocol.QuirkInitialization
	if bits != want {
		t.Errorf("expected %#x, got %#x", want, bits)
	}

	s = SessionInfo{Quirks: []string{"bogus"}}
	if _, err := s.QuirkBits(); err == nil {
		t.Fatal("expected error on unknown quirk")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "nick too long",
			yaml: "session:\n  nick: " + strings.Repeat("x", 40) + "\n",
			want: "nick exceeds",
		},
		{
			name: "nat traversal on client",
			yaml: "session:\n  server: example.com\n  nat_traversal: true\n",
			want: "host-only",
		},
		{
			name: "bad replay compression",
			yaml: "replay:\n  compression: lz4\n",
			want: "unknown replay compression",
		},
		{
			name: "tls without cert",
			yaml: "tls:\n  enabled: true\n",
			want: "without cert/key",
		},
		{
			name: "archive without bucket",
			yaml: "replay:\n  archive:\n    enabled: true\n",
			want: "without s3_bucket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.yaml)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/netplay.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
