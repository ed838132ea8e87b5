// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Netplay License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package session

import (
	"crypto/subtle"
	"fmt"

	"github.com/nishisan-dev/n-netplay/internal/protocol"
	"github.com/nishisan-dev/n-netplay/internal/ring"
)

// tickHandshake avança a máquina de fases pré-CONNECTED de uma conexão
// com o que houver em c.pending. Retorna os bytes consumidos;
// protocol.ErrShortRead quando o bloco da fase atual ainda não chegou
// inteiro. Qualquer outra falha derruba a conexão.
func (s *Session) tickHandshake(c *conn) (int, error) {
	switch c.phase {
	case phaseInit:
		hdr, n, err := protocol.DecodeHeader(c.pending)
		if err != nil {
			return 0, err
		}
		c.peerQuirks = hdr.Quirks
		if !s.isHost {
			// Quirks do host valem para a sessão: sem transmissão de
			// estado de um lado, não há transmissão nenhuma.
			s.quirks |= hdr.Quirks & (protocol.QuirkNoSavestates | protocol.QuirkNoTransmission)
			if hdr.Salt != 0 {
				digest := protocol.PasswordDigest(hdr.Salt, s.cfg.Session.Password)
				if err := c.send(digest[:]); err != nil {
					return 0, fmt.Errorf("sending password: %w", err)
				}
			}
		}
		c.phase = phasePreNick
		return n, nil

	case phasePreNick:
		nick, n, err := protocol.DecodeNick(c.pending)
		if err != nil {
			return 0, err
		}
		c.nick = nick
		if s.isHost {
			if c.salt != 0 {
				c.phase = phasePrePassword
			} else {
				return n, s.promote(c)
			}
		} else {
			c.phase = phasePreSync
		}
		return n, nil

	case phasePrePassword:
		digest, n, err := protocol.DecodePassword(c.pending)
		if err != nil {
			return 0, err
		}
		want := protocol.PasswordDigest(c.salt, s.cfg.Session.Password)
		if subtle.ConstantTimeCompare(digest[:], want[:]) != 1 {
			return 0, fmt.Errorf("session: password rejected for %q", c.nick)
		}
		return n, s.promote(c)

	case phasePreSync:
		sync, n, err := protocol.DecodeSync(c.pending)
		if err != nil {
			return 0, err
		}
		return n, s.applySync(c, sync)

	default:
		return 0, fmt.Errorf("session: connection in unexpected phase %d", c.phase)
	}
}

// promote (host) envia o bloco de sync, marca a conexão CONNECTED como
// espectadora e emite o batch de inputs corrente para o peer novo.
func (s *Session) promote(c *conn) error {
	sync := protocol.Sync{
		SelfFrame:        s.ring.Self().Frame,
		ConnectedPlayers: s.connectedPlayers,
		FlipFrame:        s.flipFrame,
		DelayFrames:      s.delayFrames,
		CheckFrames:      s.checkFrames,
		StateSize:        uint32(s.stateSize),
	}
	if !s.savestatesOK() {
		sync.StateSize = 0
	}
	if err := c.send(protocol.EncodeSync(sync)); err != nil {
		return fmt.Errorf("sending sync: %w", err)
	}

	c.phase = phaseConnected
	c.mode = ModeSpectating
	s.sendInputBatch(c)
	s.events.Push(fmt.Sprintf("%s has connected", c.nick))
	s.logger.Info("peer connected", "nick", c.nick, "frame", sync.SelfFrame)
	return nil
}

// sendInputBatch transmite o input do host para todos os frames vivos
// do ring, para o peer novo acompanhar dali em diante.
func (s *Session) sendInputBatch(c *conn) {
	if s.selfMode != ModePlaying || s.selfPlayer < 0 {
		return
	}
	tag := uint32(s.selfPlayer) | protocol.TagServer
	for f := s.ring.Other().Frame; f <= s.ring.Self().Frame; f++ {
		slot, _, ok := s.ring.SlotForFrame(f)
		if !ok || !slot.HaveLocal {
			continue
		}
		payload := protocol.InputPayload(f, tag, slot.Self)
		if err := c.send(protocol.Encode(protocol.CmdInput, payload)); err != nil {
			s.hangup(c, "transport")
			return
		}
	}
}

// applySync (client) absorve os parâmetros do host, aloca o ring no
// frame corrente e entra como espectador. O pedido de PLAY e o de
// savestate saem em seguida.
func (s *Session) applySync(c *conn, sy protocol.Sync) error {
	if sy.DelayFrames == 0 {
		return fmt.Errorf("session: host announced zero delay frames")
	}
	s.delayFrames = sy.DelayFrames
	s.checkFrames = sy.CheckFrames

	r, err := ring.New(s.delayFrames, sy.SelfFrame)
	if err != nil {
		return err
	}
	s.ring = r
	s.connectedPlayers = sy.ConnectedPlayers
	if sy.FlipFrame != 0 {
		s.flip = true
		s.flipFrame = sy.FlipFrame
	}
	if s.stateSize == 0 {
		s.stateSize = int(sy.StateSize)
	}

	c.phase = phaseConnected
	c.mode = ModePlaying // o host joga; esta conexão É o host
	c.player = 0
	s.selfMode = ModeSpectating

	if s.savestatesOK() && sy.StateSize > 0 {
		if err := c.sendCmd(protocol.CmdRequestSavestate, nil); err != nil {
			return fmt.Errorf("requesting savestate: %w", err)
		}
		s.pendingSaveReq = true
	}
	if !s.cfg.Session.Spectate {
		if err := c.sendCmd(protocol.CmdPlay, nil); err != nil {
			return fmt.Errorf("requesting play: %w", err)
		}
	}

	s.events.Push(fmt.Sprintf("Connected to %s", c.nick))
	return nil
}
