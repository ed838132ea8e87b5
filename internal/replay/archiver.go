// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Netplay License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package replay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/nishisan-dev/n-netplay/internal/config"
	"github.com/nishisan-dev/n-netplay/internal/logging"
)

// archiveUploader é a fatia do Uploader que o Archiver consome;
// interface para os testes injetarem um fake.
type archiveUploader interface {
	Upload(ctx context.Context, filePath string) error
}

// Archiver varre o diretório de gravações num cron schedule, sobe as
// finalizadas para o S3 e aplica a retenção local.
type Archiver struct {
	dir      string
	info     config.ArchiveInfo
	uploader archiveUploader
	logger   *slog.Logger
	cron     *cron.Cron

	mu       sync.Mutex
	uploaded map[string]bool
}

// NewArchiver cria um Archiver com o uploader dado.
func NewArchiver(dir string, info config.ArchiveInfo, uploader archiveUploader, logger *slog.Logger) *Archiver {
	return &Archiver{
		dir:      dir,
		info:     info,
		uploader: uploader,
		logger:   logging.Component(logger, "replay_archiver"),
		uploaded: make(map[string]bool),
	}
}

// Start agenda a varredura no cron configurado.
func (a *Archiver) Start() error {
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(
		slog.NewLogLogger(a.logger.Handler(), slog.LevelDebug))))

	if _, err := c.AddFunc(a.info.Schedule, func() {
		if err := a.RunOnce(context.Background()); err != nil {
			a.logger.Error("archive run failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduling archive run: %w", err)
	}

	a.cron = c
	c.Start()
	a.logger.Info("replay archiver scheduled", "schedule", a.info.Schedule, "dir", a.dir)
	return nil
}

// Stop encerra o cron, esperando um run em andamento.
func (a *Archiver) Stop() {
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
}

// RunOnce varre o diretório, sobe gravações novas e aplica retenção.
func (a *Archiver) RunOnce(ctx context.Context) error {
	recordings, err := a.listRecordings()
	if err != nil {
		return err
	}

	for _, path := range recordings {
		a.mu.Lock()
		done := a.uploaded[path]
		a.mu.Unlock()
		if done {
			continue
		}

		if err := a.uploader.Upload(ctx, path); err != nil {
			a.logger.Error("upload failed", "file", filepath.Base(path), "error", err)
			continue
		}
		a.mu.Lock()
		a.uploaded[path] = true
		a.mu.Unlock()
		a.logger.Info("replay archived", "file", filepath.Base(path))
	}

	return a.rotate(recordings)
}

// listRecordings retorna as gravações finalizadas, mais antigas
// primeiro (ordem lexicográfica = ordem de timestamp no nome).
func (a *Archiver) listRecordings() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading replay directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !IsRecording(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(a.dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// rotate remove gravações locais excedentes já arquivadas, mantendo as
// keep_local mais recentes.
func (a *Archiver) rotate(recordings []string) error {
	keep := a.info.KeepLocal
	if keep <= 0 || len(recordings) <= keep {
		return nil
	}

	for _, path := range recordings[:len(recordings)-keep] {
		a.mu.Lock()
		done := a.uploaded[path]
		a.mu.Unlock()
		if !done {
			// Nunca descarta o que não subiu.
			continue
		}
		if err := os.Remove(path); err != nil {
			a.logger.Warn("rotation failed", "file", filepath.Base(path), "error", err)
			continue
		}
		a.mu.Lock()
		delete(a.uploaded, path)
		a.mu.Unlock()
		a.logger.Info("replay rotated out", "file", filepath.Base(path))
	}
	return nil
}
