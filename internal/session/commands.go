// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Netplay License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package session

import (
	"fmt"
	"hash/crc32"

	"github.com/nishisan-dev/n-netplay/internal/compress"
	"github.com/nishisan-dev/n-netplay/internal/input"
	"github.com/nishisan-dev/n-netplay/internal/protocol"
	"github.com/nishisan-dev/n-netplay/internal/ring"
)

// handlerResult é o desfecho de um handler de comando. Short read é
// tratado antes, no laço de decode; aqui o frame já chegou inteiro.
type handlerResult int

const (
	resultOK handlerResult = iota
	resultNak
	resultFatal
	// resultDefer deixa o comando no buffer: o stream é ordenado, então
	// um comando que ainda não cabe no ring segura os seguintes
	// (backpressure de janela de recepção).
	resultDefer
)

// dispatch roteia um comando completo para o handler. A contabilidade
// pós-handler (consumo do buffer, hangup em NAK) fica no drain.
func (s *Session) dispatch(c *conn, cmd protocol.Cmd, payload []byte) handlerResult {
	switch cmd {
	case protocol.CmdAck:
		return resultOK
	case protocol.CmdNak:
		// Peer recusou algo nosso: encerra a conexão sem retrucar.
		s.hangup(c, "peer nak")
		return resultOK
	case protocol.CmdInput:
		return s.handleInput(c, payload)
	case protocol.CmdNoInput:
		return s.handleNoInput(c, payload)
	case protocol.CmdFlipPlayers:
		return s.handleFlipPlayers(c, payload)
	case protocol.CmdSpectate:
		return s.handleSpectate(c)
	case protocol.CmdPlay:
		return s.handlePlay(c)
	case protocol.CmdMode:
		return s.handleMode(c, payload)
	case protocol.CmdDisconnect:
		s.hangup(c, "disconnect")
		return resultOK
	case protocol.CmdCRC:
		return s.handleCRC(c, payload)
	case protocol.CmdRequestSavestate:
		return s.handleRequestSavestate(c)
	case protocol.CmdLoadSavestate:
		return s.handleLoadSavestate(c, payload)
	case protocol.CmdPause:
		return s.handlePause(c, true)
	case protocol.CmdResume:
		return s.handlePause(c, false)
	default:
		return resultNak
	}
}

// handleInput aplica input autoritativo de (frame, player).
func (s *Session) handleInput(c *conn, payload []byte) handlerResult {
	frame, tag, state := protocol.ParseInput(payload)
	p := int(tag & protocol.TagPlayerMask)
	fromServer := tag&protocol.TagServer != 0

	// O sentinel de server só é legítimo vindo do host.
	if s.isHost && fromServer {
		return resultNak
	}
	if p >= input.MaxPlayers || s.connectedPlayers&(1<<p) == 0 {
		return resultNak
	}
	// No host, cada client só fala pelo próprio slot.
	if s.isHost && c.player != p {
		return resultNak
	}

	rd := s.ring.Read(p)
	if frame < rd.Frame {
		// Duplicata: descarte silencioso.
		return resultOK
	}
	if frame > rd.Frame {
		return resultNak
	}

	// Input do futuro do host fica no buffer até self alcançar: isso
	// garante o reencaminhamento e mantém read ≤ self+1 no host.
	if s.isHost && frame > s.ring.Self().Frame {
		return resultDefer
	}
	// Sem slot livre para o frame sem atropelar história viva.
	if frame >= s.ring.Other().Frame+uint32(s.ring.Size()) {
		return resultDefer
	}

	ptr := rd.Ptr
	if !s.ring.Ready(ptr, frame) {
		s.ring.Prepare(ptr, frame, s.connectedPlayers)
	}
	slot := s.ring.Slot(ptr)
	slot.Real[p] = state
	slot.HaveReal[p] = true
	s.ring.MarkUsed(ptr)
	s.ring.SetRead(p, ring.Cursor{Ptr: s.ring.Next(ptr), Frame: frame + 1})

	if s.isHost {
		// Amplificação de autoridade: o host reencaminha para os demais.
		s.broadcast(protocol.CmdInput, payload, c)
	} else if fromServer {
		s.ring.SetServer(ring.Cursor{Ptr: s.ring.Next(ptr), Frame: frame + 1})
	}
	return resultOK
}

// handleNoInput: o host não tem nada a contribuir para o frame. A
// predição corrente vira autoritativa, para a fronteira other poder
// passar o frame.
func (s *Session) handleNoInput(c *conn, payload []byte) handlerResult {
	if s.isHost {
		return resultNak
	}
	frame := protocol.ParseFrame(payload)
	p := c.player
	if p < 0 {
		return resultNak
	}

	rd := s.ring.Read(p)
	if frame < rd.Frame {
		return resultOK
	}
	if frame > rd.Frame {
		return resultNak
	}
	if frame >= s.ring.Other().Frame+uint32(s.ring.Size()) {
		return resultDefer
	}

	ptr := rd.Ptr
	if !s.ring.Ready(ptr, frame) {
		s.ring.Prepare(ptr, frame, s.connectedPlayers)
	}
	slot := s.ring.Slot(ptr)
	slot.Real[p] = slot.Sim[p]
	slot.HaveReal[p] = true
	s.ring.MarkUsed(ptr)
	next := ring.Cursor{Ptr: s.ring.Next(ptr), Frame: frame + 1}
	s.ring.SetRead(p, next)
	s.ring.SetServer(next)
	return resultOK
}

// handleFlipPlayers: host→client. O flip passado do cursor server é
// protocolo inválido; fora isso o rewind forçado garante que o flip
// materialize mesmo quando a predição por acaso acertou.
func (s *Session) handleFlipPlayers(c *conn, payload []byte) handlerResult {
	if s.isHost {
		return resultNak
	}
	flipFrame := protocol.ParseFrame(payload)
	if flipFrame < s.ring.Server().Frame {
		return resultNak
	}

	s.flip = !s.flip
	s.flipFrame = flipFrame
	s.forceRewind = true
	if flipFrame < s.ring.Self().Frame {
		s.events.Push("Host asked us to flip users in the past")
	} else {
		s.events.Push(fmt.Sprintf("Players flip at frame %d", flipFrame))
	}
	return resultOK
}

// handleSpectate (host): move o peer para espectador e anuncia.
func (s *Session) handleSpectate(c *conn) handlerResult {
	if !s.isHost {
		return resultNak
	}
	if c.mode != ModePlaying || c.player < 0 {
		// Espectador pedindo spectate: nada a fazer.
		return resultOK
	}

	p := c.player
	frame := s.ring.Read(p).Frame
	c.mode = ModeSpectating
	c.player = -1
	s.connectedPlayers &^= 1 << p

	s.broadcast(protocol.CmdMode, protocol.ModePayload(frame, uint32(p)), c)
	c.sendCmd(protocol.CmdMode, protocol.ModePayload(frame, protocol.ModeYou|uint32(p)))
	s.events.Push(fmt.Sprintf("Player %d is now spectating", p))
	return resultOK
}

// handlePlay (host): atribui o menor slot livre distinto do próprio e
// anuncia para todos.
func (s *Session) handlePlay(c *conn) handlerResult {
	if !s.isHost {
		return resultNak
	}
	if c.mode == ModePlaying {
		return resultOK
	}

	player := -1
	for p := 0; p < input.MaxPlayers; p++ {
		if p == s.selfPlayer || s.connectedPlayers&(1<<p) != 0 {
			continue
		}
		player = p
		break
	}
	if player < 0 {
		s.logger.Warn("play request with no free player slot", "nick", c.nick)
		return resultOK
	}

	c.mode = ModePlaying
	c.player = player
	s.connectedPlayers |= 1 << player

	// O peer novo produz input a partir de self+1.
	frame := s.ring.Self().Frame + 1
	s.ring.SetRead(player, ring.Cursor{Ptr: s.ring.Next(s.ring.Self().Ptr), Frame: frame})

	s.broadcast(protocol.CmdMode, protocol.ModePayload(frame, protocol.ModePlaying|uint32(player)), c)
	c.sendCmd(protocol.CmdMode, protocol.ModePayload(frame, protocol.ModeYou|protocol.ModePlaying|uint32(player)))
	s.events.Push(fmt.Sprintf("Player %d has joined", player))
	return resultOK
}

// handleMode (client): notificações de (des)atribuição de slot. Toda a
// validação acontece antes de qualquer mutação.
func (s *Session) handleMode(c *conn, payload []byte) handlerResult {
	if s.isHost {
		return resultNak
	}
	frame, tag := protocol.ParseMode(payload)
	p := int(tag & protocol.ModePlayerMask)
	you := tag&protocol.ModeYou != 0
	playing := tag&protocol.ModePlaying != 0

	if p >= input.MaxPlayers {
		return resultNak
	}

	// O frame de MODE ancora no cursor server. A igualdade estrita
	// corre contra o INPUT do boundary em trânsito, então aceita-se a
	// janela [server, server+DF+1]; ver DESIGN.md.
	frameOK := func() bool {
		sv := s.ring.Server().Frame
		return frame >= sv && frame <= sv+s.delayFrames+1
	}

	switch {
	case you && playing:
		if s.selfMode == ModePlaying || !frameOK() {
			return resultNak
		}
		if frame >= s.ring.Other().Frame+uint32(s.ring.Size()) {
			return resultDefer
		}
		s.becomePlayer(c, p, frame)
		return resultOK

	case you && !playing:
		if s.selfMode != ModeSpectating {
			return resultNak
		}
		s.events.Push("You are now spectating")
		return resultOK

	case !you && playing:
		if !frameOK() {
			return resultNak
		}
		if frame >= s.ring.Other().Frame+uint32(s.ring.Size()) {
			return resultDefer
		}
		s.connectedPlayers |= 1 << p
		s.ring.SetRead(p, ring.Cursor{Ptr: s.ring.PtrFor(frame), Frame: frame})
		s.events.Push(fmt.Sprintf("Player %d has joined", p))
		return resultOK

	default: // !you && !playing
		s.connectedPlayers &^= 1 << p
		s.events.Push(fmt.Sprintf("Player %d has left", p))
		return resultOK
	}
}

// becomePlayer aplica MODE YOU|PLAYING: assume o slot, retro-preenche
// o input local dos frames já vividos e zera até o frame de posse.
func (s *Session) becomePlayer(c *conn, p int, frame uint32) {
	s.selfPlayer = p
	s.selfMode = ModePlaying
	s.connectedPlayers |= 1 << p

	// Frames já no ring: o input local vira autoritativo e é
	// retransmitido para o host acompanhar (o que estiver atrás do
	// cursor de leitura do host cai como duplicata, sem dano).
	// O slot de self ainda não rodou; o input dele sai no boundary.
	selfFrame := s.ring.Self().Frame
	for f := s.ring.Other().Frame; f < selfFrame; f++ {
		slot, _, ok := s.ring.SlotForFrame(f)
		if !ok || !slot.HaveLocal {
			continue
		}
		slot.Real[p] = slot.Self
		slot.HaveReal[p] = true
		payload := protocol.InputPayload(f, uint32(p), slot.Self)
		if err := c.send(protocol.Encode(protocol.CmdInput, payload)); err != nil {
			s.hangup(c, "transport")
			return
		}
	}

	// Frames futuros até o frame de posse: zero explícito.
	for f := selfFrame + 1; f < frame; f++ {
		ptr := s.ring.PtrFor(f)
		slot := s.ring.Prepare(ptr, f, s.connectedPlayers)
		slot.Self = input.Sample{}
		slot.HaveLocal = true
		slot.Real[p] = input.Sample{}
		slot.HaveReal[p] = true
		s.ring.MarkUsed(ptr)
	}

	s.ring.SetRead(p, ring.Cursor{Ptr: s.ring.PtrFor(frame), Frame: frame})
	if frame < selfFrame {
		s.forceRewind = true
	}
	s.events.Push(fmt.Sprintf("You have joined as player %d", p))
	s.logger.Info("assigned player slot", "player", p, "frame", frame)
}

// handleCRC compara ou arquiva o claim de checksum do peer. Frames já
// atrás da fronteira other têm estado final: comparação imediata.
// Frames ainda abertos guardam o claim no slot para a comparação
// adiada quando other os cruzar.
func (s *Session) handleCRC(c *conn, payload []byte) handlerResult {
	frame, crc := protocol.ParseCRC(payload)

	slot, _, ok := s.ring.FindFrame(frame)
	if !ok {
		// Frame já saiu do ring (ou nunca existiu): descarta.
		return resultOK
	}

	if frame < s.ring.Other().Frame {
		if s.savestatesOK() && len(slot.State) > 0 {
			if crc32.ChecksumIEEE(slot.State) != crc {
				s.onDesync(frame, c)
			} else {
				s.stats.crcChecks.Add(1)
			}
		}
		return resultOK
	}

	slot.RemoteCRC = crc
	slot.HaveRemoteCRC = true
	slot.RemoteCRCPlayer = c.player
	return resultOK
}

// onDesync trata CRC divergente: o client pede estado ao host; o host,
// autoritativo, agenda um push para o peer dessincronizado.
func (s *Session) onDesync(frame uint32, c *conn) {
	s.stats.desyncs.Add(1)
	nick := "?"
	if c != nil {
		nick = c.nick
	}
	s.logger.Warn("desync detected", "frame", frame, "peer", nick)
	s.events.Push(fmt.Sprintf("Desync detected at frame %d", frame))

	if s.isHost {
		if c != nil {
			c.sendSave = true
		}
		return
	}
	s.requestSavestate()
}

// requestSavestate pede um estado completo ao host, uma vez por
// pendência.
func (s *Session) requestSavestate() {
	if s.pendingSaveReq || !s.savestatesOK() {
		return
	}
	hc := s.hostConn()
	if hc == nil {
		return
	}
	if err := hc.sendCmd(protocol.CmdRequestSavestate, nil); err != nil {
		s.hangup(hc, "transport")
		return
	}
	s.pendingSaveReq = true
}

// handleRequestSavestate agenda o push no próximo frame boundary, para
// o input do frame pendente não ser atropelado pelo estado.
func (s *Session) handleRequestSavestate(c *conn) handlerResult {
	if !s.savestatesOK() || s.quirks&protocol.QuirkNoTransmission != 0 {
		return resultOK
	}
	c.sendSave = true
	return resultOK
}

// handleLoadSavestate aplica um snapshot remoto: descomprime no slot
// alvo, ajusta cursores e força o rewind que materializa o estado.
func (s *Session) handleLoadSavestate(c *conn, payload []byte) handlerResult {
	if c.mode != ModePlaying || c.player < 0 {
		return resultNak
	}
	if !s.savestatesOK() || s.quirks&protocol.QuirkNoTransmission != 0 {
		return resultNak
	}

	frame, inflatedSize, zbytes := protocol.ParseSavestate(payload)
	p := c.player

	rd := s.ring.Read(p)
	if frame != rd.Frame {
		return resultNak
	}
	if int(inflatedSize) != s.stateSize {
		return resultNak
	}
	if len(zbytes) > zbufferBound(s.stateSize) {
		return resultNak
	}

	ptr := rd.Ptr
	if !s.ring.Ready(ptr, frame) {
		s.ring.Prepare(ptr, frame, s.connectedPlayers)
	}
	slot := s.ring.Slot(ptr)
	if cap(slot.State) < s.stateSize {
		slot.State = make([]byte, s.stateSize)
	}
	slot.State = slot.State[:s.stateSize]
	if err := compress.InflateState(zbytes, slot.State); err != nil {
		s.logger.Warn("savestate inflate failed", "error", err)
		return resultNak
	}
	s.ring.MarkUsed(ptr)

	// Estado no futuro: self reposiciona para o advance seguinte cair
	// exatamente no frame alvo. Estado no passado/presente deixa self
	// intocado; a propagação fica com other + rewind (compatibilidade
	// de wire com a implementação original).
	if frame > s.ring.Self().Frame {
		s.ring.SetSelf(ring.Cursor{Ptr: s.ring.Prev(ptr), Frame: frame - 1})
		s.stateJump = true
	}

	// Cursores de leitura atrasados saltam para o alvo; o cursor
	// server acompanha, senão unread regride atrás de other.
	for q := 0; q < input.MaxPlayers; q++ {
		if s.connectedPlayers&(1<<q) == 0 {
			continue
		}
		if s.ring.Read(q).Frame < frame {
			s.ring.SetRead(q, ring.Cursor{Ptr: ptr, Frame: frame})
		}
	}
	if !s.isHost && s.ring.Server().Frame < frame {
		s.ring.SetServer(ring.Cursor{Ptr: ptr, Frame: frame})
	}

	s.ring.SetOther(ring.Cursor{Ptr: ptr, Frame: frame})
	s.pendingSaveReq = false
	s.forceRewind = true
	s.stats.savestatesLoaded.Add(1)
	s.logger.Info("savestate received", "frame", frame, "from", c.nick)
	return resultOK
}

// handlePause registra a pausa do peer; o host repassa. RESUME só é
// re-anunciado quando ninguém mais está pausado.
func (s *Session) handlePause(c *conn, paused bool) handlerResult {
	c.paused = paused
	if paused {
		s.events.Push(fmt.Sprintf("%s has paused", c.nick))
		if s.isHost {
			s.broadcast(protocol.CmdPause, nil, c)
		}
		return resultOK
	}

	s.events.Push(fmt.Sprintf("%s has resumed", c.nick))
	if s.isHost && !s.paused && !s.remotePaused() {
		s.broadcast(protocol.CmdResume, nil, c)
	}
	return resultOK
}

// zbufferBound é o pior caso aceito para o estado comprimido
// (zlib nunca expande além de poucos por mil + header).
func zbufferBound(stateSize int) int {
	return stateSize + stateSize/1000 + 64
}
