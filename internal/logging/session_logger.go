// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Netplay License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// teeHandler é um slog.Handler que despacha cada registro para o
// handler global e para o arquivo dedicado da sessão de netplay.
type teeHandler struct {
	global  slog.Handler
	session slog.Handler
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.global.Enabled(ctx, level) || h.session.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	// Cada handler filtra pelo próprio nível: o arquivo da sessão
	// captura DEBUG mesmo com o logger global em INFO.
	if h.global.Enabled(ctx, r.Level) {
		if err := h.global.Handle(ctx, r); err != nil {
			return err
		}
	}
	// Falha de escrita no arquivo da sessão não cala o log global.
	if h.session.Enabled(ctx, r.Level) {
		_ = h.session.Handle(ctx, r)
	}
	return nil
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{
		global:  h.global.WithAttrs(attrs),
		session: h.session.WithAttrs(attrs),
	}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{
		global:  h.global.WithGroup(name),
		session: h.session.WithGroup(name),
	}
}

// NewSessionLogger cria um logger que grava no logger base e num
// arquivo dedicado à sessão de netplay, criado em:
//
//	{dir}/{nick}/{sessionTag}.log
//
// O arquivo fica ao lado das gravações de replay e captura DEBUG
// sempre, independente do nível global — é o material de diagnóstico
// de um desync. Retorna o logger combinado, um io.Closer a chamar no
// fim da sessão e o path criado.
//
// Com dir vazio, retorna o logger base sem modificação (no-op).
func NewSessionLogger(base *slog.Logger, dir, nick, sessionTag string) (*slog.Logger, io.Closer, string, error) {
	if dir == "" {
		return base, io.NopCloser(nil), "", nil
	}

	logDir := filepath.Join(dir, nick)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, "", fmt.Errorf("creating session log directory %s: %w", logDir, err)
	}

	logPath := filepath.Join(logDir, sessionTag+".log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, "", fmt.Errorf("opening session log file %s: %w", logPath, err)
	}

	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	combined := &teeHandler{
		global:  base.Handler(),
		session: fileHandler,
	}

	return slog.New(combined), f, logPath, nil
}

// RemoveSessionLog descarta o log dedicado de uma sessão que terminou
// limpa (sem desync nem stall) — só o diagnóstico de sessões
// problemáticas merece disco. No-op com dir vazio ou arquivo ausente.
func RemoveSessionLog(dir, nick, sessionTag string) {
	if dir == "" {
		return
	}
	os.Remove(filepath.Join(dir, nick, sessionTag+".log"))
}
