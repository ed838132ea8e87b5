// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Netplay License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package logging constrói os loggers slog do n-netplay: o logger
// global da configuração e o log dedicado por sessão de netplay.
// A convenção de marcação por componente ("session", "stats",
// "replay_archiver") vive aqui, em Component.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nishisan-dev/n-netplay/internal/config"
)

// levels mapeia os nomes aceitos na config para níveis slog.
var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// New constrói o slog.Logger global a partir do bloco logging: da
// configuração. Formatos: "json" (default) e "text". Com File
// preenchido, os registros saem em stdout e no arquivo; um arquivo
// inacessível degrada para stdout com um aviso, nunca derruba a
// sessão. O io.Closer retornado fecha o arquivo no shutdown (no-op
// sem arquivo).
func New(info config.LoggingInfo) (*slog.Logger, io.Closer) {
	w, closer := logDestination(info.File)
	return slog.New(newHandler(w, info)), closer
}

// Component deriva o logger de um subsistema do n-netplay. Toda
// construção de logger por componente passa por aqui para o atributo
// ficar uniforme nos registros.
func Component(base *slog.Logger, name string) *slog.Logger {
	return base.With("component", name)
}

// logDestination resolve o destino de escrita do logger global.
func logDestination(filePath string) (io.Writer, io.Closer) {
	if filePath == "" {
		return os.Stdout, io.NopCloser(nil)
	}

	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		// Sem o arquivo, segue só com stdout.
		fmt.Fprintf(os.Stderr, "WARNING: could not open log file %q: %v (logging to stdout only)\n", filePath, err)
		return os.Stdout, io.NopCloser(nil)
	}
	return io.MultiWriter(os.Stdout, f), f
}

// newHandler monta o handler no formato e nível configurados.
func newHandler(w io.Writer, info config.LoggingInfo) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(info.Level)}
	if strings.EqualFold(info.Format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func parseLevel(level string) slog.Level {
	if lvl, ok := levels[strings.ToLower(level)]; ok {
		return lvl
	}
	return slog.LevelInfo
}
