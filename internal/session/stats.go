// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Netplay License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/nishisan-dev/n-netplay/internal/logging"
)

const statsInterval = 30 * time.Second

// statCounters são os contadores internos da sessão. Atômicos porque o
// stats reporter lê de outra goroutine.
type statCounters struct {
	frames           atomic.Uint64
	rollbacks        atomic.Uint64
	framesReplayed   atomic.Uint64
	crcChecks        atomic.Uint64
	desyncs          atomic.Uint64
	stalls           atomic.Uint64
	savestatesSent   atomic.Uint64
	savestatesLoaded atomic.Uint64
}

// Stats é um snapshot dos contadores da sessão.
type Stats struct {
	Frames           uint64 `json:"frames"`
	Rollbacks        uint64 `json:"rollbacks"`
	FramesReplayed   uint64 `json:"frames_replayed"`
	CRCChecks        uint64 `json:"crc_checks"`
	Desyncs          uint64 `json:"desyncs"`
	Stalls           uint64 `json:"stalls"`
	SavestatesSent   uint64 `json:"savestates_sent"`
	SavestatesLoaded uint64 `json:"savestates_loaded"`
}

// Stats retorna um snapshot dos contadores.
func (s *Session) Stats() Stats {
	return Stats{
		Frames:           s.stats.frames.Load(),
		Rollbacks:        s.stats.rollbacks.Load(),
		FramesReplayed:   s.stats.framesReplayed.Load(),
		CRCChecks:        s.stats.crcChecks.Load(),
		Desyncs:          s.stats.desyncs.Load(),
		Stalls:           s.stats.stalls.Load(),
		SavestatesSent:   s.stats.savestatesSent.Load(),
		SavestatesLoaded: s.stats.savestatesLoaded.Load(),
	}
}

// StartStatsReporter emite métricas periódicas da sessão no log,
// incluindo CPU e memória do sistema, até o context ser cancelado.
func (s *Session) StartStatsReporter(ctx context.Context) {
	logger := logging.Component(s.logger, "stats")
	start := time.Now()
	var lastFrames uint64

	go func() {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			st := s.Stats()
			fps := float64(st.Frames-lastFrames) / statsInterval.Seconds()
			lastFrames = st.Frames

			cpuPct := 0.0
			if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
				cpuPct = pcts[0]
			}
			memPct := 0.0
			if vm, err := mem.VirtualMemory(); err == nil {
				memPct = vm.UsedPercent
			}

			logger.Info("session stats",
				"uptime_s", int(time.Since(start).Seconds()),
				"frames", st.Frames,
				"fps", fps,
				"rollbacks", st.Rollbacks,
				"frames_replayed", st.FramesReplayed,
				"desyncs", st.Desyncs,
				"stalls", st.Stalls,
				"cpu_pct", cpuPct,
				"mem_pct", memPct,
			)
		}
	}()
}
