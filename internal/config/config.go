// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Netplay License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config carrega e valida a configuração yaml do n-netplay.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nishisan-dev/n-netplay/internal/protocol"
)

// Defaults da sessão.
const (
	DefaultPort        = 55435
	DefaultDelayFrames = 4
	DefaultCheckFrames = 60
	MaxNickLen         = protocol.NickSize
)

// Config é a configuração completa do n-netplay.
type Config struct {
	Session SessionInfo `yaml:"session"`
	TLS     TLSInfo     `yaml:"tls"`
	Replay  ReplayInfo  `yaml:"replay"`
	Logging LoggingInfo `yaml:"logging"`
}

// SessionInfo parametriza a sessão de netplay.
type SessionInfo struct {
	Nick         string   `yaml:"nick"`
	Server       string   `yaml:"server"`       // host remoto a discar; vazio ⇒ atuar como host
	DirectHost   string   `yaml:"direct_host"`  // endereço pré-resolvido (pula DNS)
	Port         uint16   `yaml:"port"`         // porta TCP (listen ou dial)
	Password     string   `yaml:"password"`     // segredo compartilhado opcional
	DelayFrames  uint32   `yaml:"delay_frames"` // DF; dimensiona o ring em 2·DF+1
	CheckFrames  uint32   `yaml:"check_frames"` // período de broadcast de CRC
	Spectate     bool     `yaml:"spectate"`     // conectar sem pedir slot de jogador
	NATTraversal bool     `yaml:"nat_traversal"`
	Quirks       []string `yaml:"quirks"` // no_savestates, no_transmission, initialization
}

// TLSInfo habilita TLS opcional no transporte entre peers.
type TLSInfo struct {
	Enabled    bool   `yaml:"enabled"`
	CACert     string `yaml:"ca_cert"`
	Cert       string `yaml:"cert"`
	Key        string `yaml:"key"`
	MutualAuth bool   `yaml:"mutual_auth"` // exigir certificado dos peers
}

// ReplayInfo configura a gravação de sessões e o arquivamento.
type ReplayInfo struct {
	Enabled     bool        `yaml:"enabled"`
	Dir         string      `yaml:"dir"`
	Compression string      `yaml:"compression"` // gzip (default) ou zstd
	Archive     ArchiveInfo `yaml:"archive"`
}

// ArchiveInfo configura o upload agendado de gravações para S3.
type ArchiveInfo struct {
	Enabled   bool   `yaml:"enabled"`
	Schedule  string `yaml:"schedule"` // cron expression
	S3Bucket  string `yaml:"s3_bucket"`
	S3Region  string `yaml:"s3_region"`
	S3Prefix  string `yaml:"s3_prefix"`
	Endpoint  string `yaml:"endpoint"`   // S3 compatível (MinIO etc.), opcional
	AccessKey string `yaml:"access_key"` // vazio ⇒ credential chain default
	SecretKey string `yaml:"secret_key"`
	KeepLocal int    `yaml:"keep_local"`
}

// LoggingInfo configura o logger estruturado. SessionDir habilita um
// arquivo de log dedicado por sessão de netplay (vazio = desligado);
// sessões que terminam limpas têm o arquivo descartado.
type LoggingInfo struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	SessionDir string `yaml:"session_dir"`
}

// IsHost reporta se esta configuração atua como host autoritativo.
func (s *SessionInfo) IsHost() bool {
	return s.Server == "" && s.DirectHost == ""
}

// DialAddr retorna o endereço a discar (client). DirectHost tem
// precedência sobre Server.
func (s *SessionInfo) DialAddr() string {
	host := s.Server
	if s.DirectHost != "" {
		host = s.DirectHost
	}
	return fmt.Sprintf("%s:%d", host, s.Port)
}

// QuirkBits converte a lista de quirks da config no bitset do wire.
func (s *SessionInfo) QuirkBits() (uint32, error) {
	var bits uint32
	for _, q := range s.Quirks {
		switch q {
		case "no_savestates":
			bits |= protocol.QuirkNoSavestates
		case "no_transmission":
			bits |= protocol.QuirkNoTransmission
		case "initialization":
			bits |= protocol.QuirkInitialization
		default:
			return 0, fmt.Errorf("config: unknown quirk %q", q)
		}
	}
	return bits, nil
}

// Load lê e valida a configuração de um arquivo yaml.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults preenche os campos omitidos.
func (c *Config) ApplyDefaults() {
	if c.Session.Port == 0 {
		c.Session.Port = DefaultPort
	}
	if c.Session.DelayFrames == 0 {
		c.Session.DelayFrames = DefaultDelayFrames
	}
	if c.Session.CheckFrames == 0 {
		c.Session.CheckFrames = DefaultCheckFrames
	}
	if c.Session.Nick == "" {
		c.Session.Nick = "Anonymous"
	}
	if c.Replay.Dir == "" {
		c.Replay.Dir = "replays"
	}
	if c.Replay.Compression == "" {
		c.Replay.Compression = "gzip"
	}
	if c.Replay.Archive.Schedule == "" {
		c.Replay.Archive.Schedule = "0 3 * * *"
	}
	if c.Replay.Archive.KeepLocal == 0 {
		c.Replay.Archive.KeepLocal = 5
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate verifica consistência da configuração.
func (c *Config) Validate() error {
	if len(c.Session.Nick) > MaxNickLen {
		return fmt.Errorf("config: nick exceeds %d bytes", MaxNickLen)
	}
	if _, err := c.Session.QuirkBits(); err != nil {
		return err
	}
	if c.Session.NATTraversal && !c.Session.IsHost() {
		return fmt.Errorf("config: nat_traversal is host-only")
	}
	switch c.Replay.Compression {
	case "gzip", "zstd":
	default:
		return fmt.Errorf("config: unknown replay compression %q", c.Replay.Compression)
	}
	if c.TLS.Enabled {
		if c.TLS.Cert == "" || c.TLS.Key == "" {
			return fmt.Errorf("config: tls enabled without cert/key")
		}
		if c.TLS.MutualAuth && c.TLS.CACert == "" {
			return fmt.Errorf("config: mutual_auth requires ca_cert")
		}
	}
	if c.Replay.Archive.Enabled {
		if c.Replay.Archive.S3Bucket == "" {
			return fmt.Errorf("config: replay archive enabled without s3_bucket")
		}
		if c.Replay.Archive.S3Region == "" && c.Replay.Archive.Endpoint == "" {
			return fmt.Errorf("config: replay archive needs s3_region or endpoint")
		}
	}
	return nil
}
