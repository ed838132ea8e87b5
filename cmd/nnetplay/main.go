// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Netplay License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// nnetplay é o binário de demonstração do engine: roda o GridCore
// determinístico sob uma sessão de netplay, como host ou client, e
// opcionalmente grava e arquiva replays.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nishisan-dev/n-netplay/internal/compress"
	"github.com/nishisan-dev/n-netplay/internal/config"
	"github.com/nishisan-dev/n-netplay/internal/emu"
	"github.com/nishisan-dev/n-netplay/internal/input"
	"github.com/nishisan-dev/n-netplay/internal/logging"
	"github.com/nishisan-dev/n-netplay/internal/replay"
	"github.com/nishisan-dev/n-netplay/internal/session"
)

const frameDuration = time.Second / 60

func main() {
	// Subcomando "replay" detectado via os.Args.
	if len(os.Args) >= 3 && os.Args[1] == "replay" {
		runReplay(os.Args[2])
		return
	}

	configPath := flag.String("config", "", "path to netplay config file (optional)")
	server := flag.String("connect", "", "host to connect to (empty = act as host)")
	port := flag.Uint("port", 0, "TCP port (overrides config)")
	nick := flag.String("nick", "", "nickname (overrides config)")
	frames := flag.Uint("frames", 0, "stop after N frames (0 = run until interrupted)")
	flag.Parse()

	cfg := &config.Config{}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg.ApplyDefaults()
	}
	if *server != "" {
		cfg.Session.Server = *server
	}
	if *port != 0 {
		cfg.Session.Port = uint16(*port)
	}
	if *nick != "" {
		cfg.Session.Nick = *nick
	}

	logger, logCloser := logging.New(cfg.Logging)
	defer logCloser.Close()

	// Log dedicado da sessão, ao lado das gravações de replay; se a
	// sessão terminar limpa, o arquivo é descartado no fim.
	sessionTag := time.Now().UTC().Format("2006-01-02T15-04-05")
	logger, sessCloser, sessLogPath, err := logging.NewSessionLogger(logger, cfg.Logging.SessionDir, cfg.Session.Nick, sessionTag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating session log: %v\n", err)
		os.Exit(1)
	}
	defer sessCloser.Close()

	core := emu.NewGridCore()
	sess, err := session.New(cfg, core, logger)
	if err != nil {
		logger.Error("session start failed", "error", err)
		os.Exit(1)
	}
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess.StartStatsReporter(ctx)

	if cfg.Replay.Enabled {
		mode, err := compress.ParseMode(cfg.Replay.Compression)
		if err != nil {
			logger.Error("invalid replay compression", "error", err)
			os.Exit(1)
		}
		rec, err := replay.NewRecorder(cfg.Replay.Dir, mode, replay.Meta{
			DelayFrames: cfg.Session.DelayFrames,
			CheckFrames: cfg.Session.CheckFrames,
			StateSize:   uint32(core.SerializeSize()),
		})
		if err != nil {
			logger.Error("replay recorder failed", "error", err)
			os.Exit(1)
		}
		sess.SetRecorder(rec)

		if cfg.Replay.Archive.Enabled {
			uploader, err := replay.NewUploader(ctx, cfg.Replay.Archive)
			if err != nil {
				logger.Error("replay uploader failed", "error", err)
				os.Exit(1)
			}
			archiver := replay.NewArchiver(cfg.Replay.Dir, cfg.Replay.Archive, uploader, logger)
			if err := archiver.Start(); err != nil {
				logger.Error("replay archiver failed", "error", err)
				os.Exit(1)
			}
			defer archiver.Stop()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	logger.Info("demo loop running", "host", cfg.Session.IsHost(), "port", cfg.Session.Port)

	var ran uint
	var runErr error
loop:
	for {
		select {
		case <-sigCh:
			logger.Info("interrupted, shutting down")
			break loop
		case <-ticker.C:
		}

		if err := sess.AdvanceFrame(demoInput(sess.Frame())); err != nil {
			logger.Error("session ended", "error", err)
			runErr = err
			break loop
		}

		for _, ev := range sess.Events().Drain() {
			logger.Info("netplay", "message", ev.Message)
		}

		ran++
		if *frames > 0 && ran >= *frames {
			st := sess.Stats()
			logger.Info("demo finished",
				"frames", st.Frames,
				"rollbacks", st.Rollbacks,
				"player", sess.Player(),
			)
			break loop
		}
	}

	// Sessão limpa não deixa log dedicado para trás; o diagnóstico só
	// interessa quando houve desync, stall ou erro.
	if st := sess.Stats(); runErr == nil && st.Desyncs == 0 && st.Stalls == 0 {
		sessCloser.Close()
		logging.RemoveSessionLog(cfg.Logging.SessionDir, cfg.Session.Nick, sessionTag)
	} else if sessLogPath != "" {
		logger.Info("session log kept", "path", sessLogPath)
	}
}

// demoInput sintetiza um padrão de input determinístico por frame:
// direções alternadas e um aperto de botão periódico.
func demoInput(frame uint32) input.Sample {
	var s input.Sample
	switch (frame / 30) % 4 {
	case 0:
		s[0] |= 1 << 7 // right
	case 1:
		s[0] |= 1 << 5 // down
	case 2:
		s[0] |= 1 << 6 // left
	case 3:
		s[0] |= 1 << 4 // up
	}
	if frame%45 == 0 {
		s[0] |= 1 << 8 // button
	}
	return s
}

// runReplay re-roda uma gravação num GridCore novo e imprime o
// progresso, validando que o arquivo está íntegro.
func runReplay(path string) {
	r, err := replay.OpenReader(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening replay: %v\n", err)
		os.Exit(1)
	}
	defer r.Close()

	core := emu.NewGridCore()
	var frames, states int
	for {
		rec, err := r.Next()
		if err != nil {
			break
		}
		switch rec := rec.(type) {
		case *replay.Frame:
			for p := 0; p < input.MaxPlayers; p++ {
				if rec.Connected&(1<<p) == 0 {
					continue
				}
				core.SetInput(p, rec.Samples[p][:])
			}
			core.Run()
			frames++
		case *replay.State:
			if len(rec.Data) == core.SerializeSize() {
				core.Unserialize(rec.Data)
			}
			states++
		}
	}

	fmt.Printf("replayed %d frames, %d snapshots, final core frame %d\n",
		frames, states, core.Frame())
}
