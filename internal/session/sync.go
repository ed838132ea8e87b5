// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Netplay License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package session

import (
	"hash/crc32"

	"github.com/nishisan-dev/n-netplay/internal/compress"
	"github.com/nishisan-dev/n-netplay/internal/input"
	"github.com/nishisan-dev/n-netplay/internal/protocol"
	"github.com/nishisan-dev/n-netplay/internal/ring"
)

// runSync é o controlador de sincronização do frame boundary:
// recomputa unread, resolve rollback quando a realidade divergiu da
// predição e avança a fronteira other validando CRCs adiados.
func (s *Session) runSync() {
	if s.ring == nil || s.closed {
		return
	}

	s.updateUnread()

	target, need := s.findDivergence()
	if s.forceRewind {
		need = true
		target = s.ring.Other().Frame
	}
	if need {
		if s.savestatesOK() {
			s.replayFrom(target)
		}
		s.forceRewind = false
	}

	s.advanceOther()
}

// updateUnread recomputa o cursor unread: o menor read entre os
// jogadores conectados (host) ou o menor entre read e server (client),
// limitado a self+1.
func (s *Session) updateUnread() {
	var best ring.Cursor
	have := false

	for p := 0; p < input.MaxPlayers; p++ {
		if s.connectedPlayers&(1<<p) == 0 || p == s.selfPlayer {
			continue
		}
		rd := s.ring.Read(p)
		if !have || rd.Frame < best.Frame {
			best = rd
			have = true
		}
	}
	if !s.isHost && s.hostConn() != nil {
		sv := s.ring.Server()
		if !have || sv.Frame < best.Frame {
			best = sv
			have = true
		}
	}

	self := s.ring.Self()
	if !have {
		// Sem peers segurando frames: tudo até self é conhecido.
		s.ring.SetUnread(self)
		return
	}
	if best.Frame > self.Frame+1 {
		best = ring.Cursor{Ptr: s.ring.Next(self.Ptr), Frame: self.Frame + 1}
	}
	s.ring.SetUnread(best)
}

// findDivergence procura o frame mais antigo, entre other e a fronteira
// conhecida, onde o input real chegou diferente do simulado.
func (s *Session) findDivergence() (uint32, bool) {
	limit := s.ring.Unread().Frame
	if self := s.ring.Self().Frame; self < limit {
		limit = self
	}
	for f := s.ring.Other().Frame; f < limit; f++ {
		slot, _, ok := s.ring.SlotForFrame(f)
		if !ok {
			continue
		}
		for p := 0; p < input.MaxPlayers; p++ {
			if s.connectedPlayers&(1<<p) == 0 || p == s.selfPlayer {
				continue
			}
			if slot.HaveReal[p] && slot.Real[p] != slot.Sim[p] {
				return f, true
			}
		}
	}
	return 0, false
}

// replayFrom recarrega o snapshot do frame alvo e re-roda a simulação
// até o frame corrente, aplicando input real onde houver e a regra de
// resimulação onde não houver. Os snapshots dos frames re-rodados são
// regravados no caminho.
func (s *Session) replayFrom(target uint32) {
	other := s.ring.Other().Frame
	if target < other {
		target = other
	}
	selfFrame := s.ring.Self().Frame
	if target >= selfFrame {
		return
	}

	slot, _, ok := s.ring.SlotForFrame(target)
	if !ok || len(slot.State) == 0 {
		s.logger.Warn("rewind target has no snapshot", "frame", target)
		return
	}

	if s.runLock != nil {
		s.runLock.Lock()
	}
	err := s.core.Unserialize(slot.State)
	if s.runLock != nil {
		s.runLock.Unlock()
	}
	if err != nil {
		s.logger.Warn("unserialize failed, rollback disabled", "error", err)
		s.quirks |= protocol.QuirkNoSavestates
		return
	}

	s.ring.SetReplay(ring.Cursor{Ptr: s.ring.PtrFor(target), Frame: target})
	for f := target; f < selfFrame; f++ {
		ptr := s.ring.PtrFor(f)
		rslot := s.ring.Slot(ptr)

		for p := 0; p < input.MaxPlayers; p++ {
			if s.connectedPlayers&(1<<p) == 0 || p == s.selfPlayer {
				continue
			}
			if rslot.HaveReal[p] {
				// Real resolve; marca a simulação como concordante.
				rslot.Sim[p] = rslot.Real[p]
			} else {
				rslot.Sim[p] = input.Resim(rslot.Sim[p], s.lastRealInput(p), s.dirMask)
			}
		}

		s.runFrameAt(f, rslot)
		s.ring.SetReplay(ring.Cursor{Ptr: s.ring.Next(ptr), Frame: f + 1})

		// Estado do frame seguinte reflete a nova linha do tempo.
		nextPtr := s.ring.PtrFor(f + 1)
		if s.ring.Ready(nextPtr, f+1) {
			s.serializeInto(s.ring.Slot(nextPtr))
		}
		s.stats.framesReplayed.Add(1)
	}
	s.stats.rollbacks.Add(1)
}

// advanceOther move a fronteira other até a região totalmente
// conhecida, validando CRCs adiados, emitindo o CRC periódico e
// gravando os frames confirmados no replay.
func (s *Session) advanceOther() {
	newOther := s.ring.Unread().Frame
	if self := s.ring.Self().Frame; self < newOther {
		newOther = self
	}
	oldOther := s.ring.Other().Frame
	if newOther <= oldOther {
		return
	}

	for f := oldOther; f < newOther; f++ {
		slot, _, ok := s.ring.SlotForFrame(f)
		if !ok {
			continue
		}

		if slot.HaveRemoteCRC {
			slot.HaveRemoteCRC = false
			if s.savestatesOK() && len(slot.State) > 0 {
				if crc32.ChecksumIEEE(slot.State) != slot.RemoteCRC {
					s.onDesync(f, s.connByPlayer(slot.RemoteCRCPlayer))
				} else {
					s.stats.crcChecks.Add(1)
				}
			}
		}

		if s.checkFrames > 0 && f%s.checkFrames == 0 && s.savestatesOK() && len(slot.State) > 0 {
			crc := crc32.ChecksumIEEE(slot.State)
			s.broadcast(protocol.CmdCRC, protocol.CRCPayload(f, crc), nil)
		}

		if s.recorder != nil {
			s.recordConfirmed(f, slot)
		}
	}

	s.ring.SetOther(ring.Cursor{Ptr: s.ring.PtrFor(newOther), Frame: newOther})
}

// recordConfirmed grava um frame fechado no replay: inputs resolvidos
// de todos os jogadores conectados.
func (s *Session) recordConfirmed(frame uint32, slot *ring.Slot) {
	var samples [input.MaxPlayers]input.Sample
	for p := 0; p < input.MaxPlayers; p++ {
		if s.connectedPlayers&(1<<p) == 0 {
			continue
		}
		if slot.HaveReal[p] {
			samples[p] = slot.Real[p]
		} else {
			samples[p] = slot.Sim[p]
		}
	}
	if err := s.recorder.RecordFrame(frame, s.connectedPlayers, samples); err != nil {
		s.logger.Warn("replay recording failed, disabling", "error", err)
		s.recorder = nil
	}
}

// connByPlayer localiza a conexão que ocupa um slot de jogador.
func (s *Session) connByPlayer(p int) *conn {
	if p < 0 {
		return nil
	}
	for _, c := range s.conns {
		if c.active && c.player == p {
			return c
		}
	}
	return nil
}

// flushSavestates emite os pushes de savestate agendados, antes do
// INPUT do frame corrente, respeitando o rate limit por peer.
func (s *Session) flushSavestates(frame uint32) {
	if !s.savestatesOK() || s.quirks&protocol.QuirkNoTransmission != 0 {
		return
	}

	var payload []byte
	for _, c := range s.conns {
		if !c.active || c.phase != phaseConnected || !c.sendSave {
			continue
		}
		if !c.saveLimiter.Allow() {
			continue
		}
		c.sendSave = false

		if payload == nil {
			slot, _, ok := s.ring.SlotForFrame(frame)
			if !ok || len(slot.State) == 0 {
				return
			}
			zbytes, err := compress.DeflateState(slot.State)
			if err != nil {
				s.logger.Warn("savestate deflate failed", "error", err)
				return
			}
			payload = protocol.SavestatePayload(frame, uint32(s.stateSize), zbytes)
		}
		if err := c.send(protocol.Encode(protocol.CmdLoadSavestate, payload)); err != nil {
			s.hangup(c, "transport")
			continue
		}
		s.stats.savestatesSent.Add(1)
		s.logger.Info("savestate sent", "frame", frame, "to", c.nick)
	}
}
