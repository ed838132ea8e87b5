// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Netplay License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package session implementa a sessão de netplay com rollback: o ring
// de frames, o dispatch de comandos, o lifecycle das conexões e o
// controlador de sincronização. Toda mutação de estado acontece na
// thread que chama AdvanceFrame; as goroutines de leitura só enchem
// buffers e sinalizam.
package session

import (
	"crypto/rand"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/nishisan-dev/n-netplay/internal/config"
	"github.com/nishisan-dev/n-netplay/internal/emu"
	"github.com/nishisan-dev/n-netplay/internal/input"
	"github.com/nishisan-dev/n-netplay/internal/logging"
	"github.com/nishisan-dev/n-netplay/internal/pki"
	"github.com/nishisan-dev/n-netplay/internal/protocol"
	"github.com/nishisan-dev/n-netplay/internal/replay"
	"github.com/nishisan-dev/n-netplay/internal/ring"
)

// Mode é o papel de um participante dentro de CONNECTED.
type Mode int

const (
	ModeNone Mode = iota
	ModeSpectating
	ModePlaying
)

// Parâmetros de espera por input remoto.
const (
	retryInterval = 500 * time.Millisecond
	maxRetries    = 16
)

// Erros da sessão.
var (
	ErrStall     = errors.New("session: stalled waiting for remote input")
	ErrClosed    = errors.New("session: closed")
	ErrHostOnly  = errors.New("session: host-only operation")
	ErrNotClient = errors.New("session: client-only operation")
	ErrHandshake = errors.New("session: handshake failed")
)

// errAllPaused sinaliza internamente que a espera terminou porque
// todos os peers estão pausados; não é stall.
var errAllPaused = errors.New("session: all peers paused")

// Session é uma sessão de netplay, host ou client.
type Session struct {
	cfg    *config.Config
	core   emu.Core
	logger *slog.Logger

	isHost     bool
	selfPlayer int
	selfMode   Mode
	nick       string
	quirks     uint32
	stateSize  int
	dirMask    uint32

	delayFrames uint32
	checkFrames uint32

	ring             *ring.Ring
	connectedPlayers uint32
	flip             bool
	flipFrame        uint32
	forceRewind      bool
	pendingSaveReq   bool
	// stateJump indica um savestate aplicado à frente de self; o
	// próximo boundary realinha self no frame alvo sem simular o vão.
	stateJump bool

	paused bool

	listener net.Listener
	conns    []*conn
	acceptCh chan net.Conn
	dataCh   chan struct{}
	closed   bool
	wg       sync.WaitGroup

	// runLock é o interlock de autosave do harness em volta de
	// core.Run/Serialize/Unserialize; opcional.
	runLock *sync.Mutex

	events   *EventRing
	stats    statCounters
	recorder *replay.Recorder

	// handshakeDeadline limita o handshake do client; zero no host.
	handshakeDeadline time.Time
}

// New cria uma sessão. Server vazio na config ⇒ host (escuta); senão
// disca o host e o handshake completa nos ticks de AdvanceFrame.
func New(cfg *config.Config, core emu.Core, logger *slog.Logger) (*Session, error) {
	quirks, err := cfg.Session.QuirkBits()
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:         cfg,
		core:        core,
		logger:      logging.Component(logger, "session"),
		isHost:      cfg.Session.IsHost(),
		selfPlayer:  -1,
		selfMode:    ModeNone,
		nick:        cfg.Session.Nick,
		quirks:      quirks,
		dirMask:     input.DefaultDirMask,
		delayFrames: cfg.Session.DelayFrames,
		checkFrames: cfg.Session.CheckFrames,
		acceptCh:    make(chan net.Conn, 1),
		dataCh:      make(chan struct{}, 1),
		events:      NewEventRing(100),
	}

	if err := s.initSerialization(); err != nil {
		return nil, err
	}

	if s.isHost {
		if err := s.startHost(); err != nil {
			return nil, err
		}
	} else {
		if err := s.startClient(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SetRunLock instala o mutex de autosave do harness. Deve ser chamado
// antes do primeiro AdvanceFrame.
func (s *Session) SetRunLock(m *sync.Mutex) { s.runLock = m }

// SetRecorder instala um gravador de replay; frames confirmados são
// gravados conforme o cursor other avança.
func (s *Session) SetRecorder(r *replay.Recorder) { s.recorder = r }

// initSerialization descobre o tamanho do snapshot, rodando o warm-up
// quando o core tem inicialização preguiçosa. Falha degrada a sessão
// para NO_SAVESTATES em vez de abortar.
func (s *Session) initSerialization() error {
	if s.quirks&protocol.QuirkNoSavestates != 0 {
		return nil
	}
	size := s.core.SerializeSize()
	if size == 0 && s.quirks&protocol.QuirkInitialization != 0 {
		var err error
		size, err = emu.WaitAndInitSerialization(s.core, s.runLock)
		if err != nil {
			s.logger.Warn("core never initialised serialization, rollback disabled", "error", err)
			s.quirks |= protocol.QuirkNoSavestates
			return nil
		}
	}
	if size == 0 {
		s.quirks |= protocol.QuirkNoSavestates
		s.logger.Warn("core reports no serialization, rollback disabled")
		return nil
	}
	s.stateSize = size
	return nil
}

// startHost abre o listener e arma o accept loop. O host joga no slot 0.
func (s *Session) startHost() error {
	r, err := ring.New(s.delayFrames, 0)
	if err != nil {
		return err
	}
	s.ring = r
	s.selfPlayer = 0
	s.selfMode = ModePlaying
	s.connectedPlayers = 1 << 0

	addr := fmt.Sprintf(":%d", s.cfg.Session.Port)
	if s.cfg.TLS.Enabled {
		tlsCfg, err := pki.NewHostTLSConfig(s.cfg.TLS)
		if err != nil {
			return err
		}
		s.listener, err = tls.Listen("tcp", addr, tlsCfg)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", addr, err)
		}
	} else {
		s.listener, err = net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", addr, err)
		}
	}

	if s.cfg.Session.NATTraversal {
		// O punch-through fica com o harness; aqui só registramos.
		s.logger.Info("nat traversal requested, delegated to the host harness")
	}

	s.logger.Info("hosting netplay", "addr", s.listener.Addr().String(), "nick", s.nick)

	// Accept loop: uma conexão pendente por vez; a sessão incorpora no
	// próximo poll.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			nc, err := s.listener.Accept()
			if err != nil {
				return
			}
			s.acceptCh <- nc
		}
	}()
	return nil
}

// startClient disca o host e emite header+nick; as fases seguintes do
// handshake correm nos ticks.
func (s *Session) startClient() error {
	addr := s.cfg.Session.DialAddr()

	var sock net.Conn
	var err error
	if s.cfg.TLS.Enabled {
		tlsCfg, terr := pki.NewPeerTLSConfig(s.cfg.TLS)
		if terr != nil {
			return terr
		}
		sock, err = tls.Dial("tcp", addr, tlsCfg)
	} else {
		sock, err = net.DialTimeout("tcp", addr, retryInterval*maxRetries)
	}
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}

	c := newConn(sock)
	s.conns = append(s.conns, c)
	s.startReader(c)

	// Header e nick saem já; a senha espera o salt do host.
	hdr := protocol.Header{Magic: protocol.Magic, Version: protocol.Version, Salt: 0, Quirks: s.quirks}
	if err := c.send(protocol.EncodeHeader(hdr)); err != nil {
		c.free()
		return fmt.Errorf("sending header: %w", err)
	}
	if err := c.send(protocol.EncodeNick(s.nick)); err != nil {
		c.free()
		return fmt.Errorf("sending nick: %w", err)
	}

	// O handshake completa nos ticks de AdvanceFrame, com a mesma
	// máquina de fases do poll.
	s.handshakeDeadline = time.Now().Add(retryInterval * maxRetries)
	s.logger.Info("dialed host, handshake pending", "addr", addr, "nick", s.nick)
	return nil
}

// startReader arma a goroutine de leitura da conexão: só enche o
// buffer e sinaliza a sessão.
func (s *Session) startReader(c *conn) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		buf := make([]byte, 32*1024)
		for {
			n, err := c.sock.Read(buf)
			if n > 0 {
				c.mu.Lock()
				c.recvBuf = append(c.recvBuf, buf[:n]...)
				c.mu.Unlock()
				s.notify()
			}
			if err != nil {
				c.mu.Lock()
				c.readErr = err
				c.mu.Unlock()
				s.notify()
				return
			}
		}
	}()
}

func (s *Session) notify() {
	select {
	case s.dataCh <- struct{}{}:
	default:
	}
}

// AdvanceFrame executa um frame boundary: drena comandos, emite o
// input local, roda o core especulativamente e resolve rollback.
// Com a sessão (local ou remotamente) pausada, não avança.
func (s *Session) AdvanceFrame(local input.Sample) error {
	if s.closed {
		return ErrClosed
	}

	s.poll()

	// Client ainda em handshake: o ring só existe depois do sync.
	if s.ring == nil {
		select {
		case <-s.dataCh:
		case <-time.After(retryInterval):
		}
		s.poll()
		if s.ring == nil {
			if s.closed {
				return ErrClosed
			}
			if time.Now().After(s.handshakeDeadline) {
				s.Close()
				return fmt.Errorf("%w: timed out", ErrHandshake)
			}
			return nil
		}
	}

	s.runSync()

	if s.closed {
		return ErrClosed
	}
	if s.paused || s.remotePaused() {
		return nil
	}

	// I4: self − other ≤ DF. Ring cheio ⇒ espera input remoto.
	for s.ringFull() {
		if err := s.blockUntilRoom(); err != nil {
			if errors.Is(err, errAllPaused) {
				return nil
			}
			return err
		}
		if s.closed {
			return ErrClosed
		}
	}

	// Um savestate do futuro deixou self em frame-1: realinha no alvo
	// antes do boundary, sem rodar o frame intermediário. Pode ter
	// chegado também durante a espera acima.
	if s.stateJump {
		s.applyStateJump()
	}

	frame := s.ring.Self().Frame
	ptr := s.ring.Self().Ptr
	slot := s.ring.Prepare(ptr, frame, s.connectedPlayers)

	// Input local do frame. Um slot já marcado com have_local (o
	// zero-fill de uma posse de slot recente) não é sobrescrito: o que
	// está no ring é o que o host contabilizou.
	if !slot.HaveLocal {
		slot.Self = local
		slot.HaveLocal = true
	}
	if s.selfMode == ModePlaying && s.selfPlayer >= 0 {
		slot.Real[s.selfPlayer] = slot.Self
		slot.HaveReal[s.selfPlayer] = true
		// O próprio cursor de leitura acompanha a produção local (I2).
		s.ring.SetRead(s.selfPlayer, ring.Cursor{Ptr: s.ring.Next(ptr), Frame: frame + 1})
	}

	// Predição de primeira simulação para quem ainda não entregou.
	// Com real já presente, a simulação marca concordância para o
	// detector de divergência não disparar à toa.
	for p := 0; p < input.MaxPlayers; p++ {
		if s.connectedPlayers&(1<<p) == 0 || p == s.selfPlayer {
			continue
		}
		if slot.HaveReal[p] {
			slot.Sim[p] = slot.Real[p]
		} else if slot.Sim[p].Zero() {
			slot.Sim[p] = input.Predict(s.lastRealInput(p))
		}
	}

	// Snapshot do estado no início do frame.
	if s.savestatesOK() {
		s.serializeInto(slot)
	}
	s.ring.MarkUsed(ptr)

	// Savestates pendentes saem antes do INPUT do frame, para o input
	// pendente não atropelar o estado no stream.
	s.flushSavestates(frame)

	// Emite o input local (o do slot, que pode ser o zero-fill).
	if s.selfMode == ModePlaying && s.selfPlayer >= 0 {
		tag := uint32(s.selfPlayer)
		if s.isHost {
			tag |= protocol.TagServer
		}
		s.broadcast(protocol.CmdInput, protocol.InputPayload(frame, tag, slot.Self), nil)
	}

	// Roda o frame com inputs resolvidos (reais onde houver, senão
	// simulados) e avança self.
	s.runFrameAt(frame, slot)
	s.ring.AdvanceSelf()
	s.ring.Prepare(s.ring.Self().Ptr, s.ring.Self().Frame, s.connectedPlayers)

	s.stats.frames.Add(1)
	s.runSync()
	return nil
}

// applyStateJump carrega o snapshot da fronteira other no core e
// posiciona self exatamente no frame alvo.
func (s *Session) applyStateJump() {
	s.stateJump = false
	target := s.ring.Other()
	slot := s.ring.Slot(target.Ptr)
	if slot.Frame != target.Frame || len(slot.State) == 0 {
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
		s.logger.Warn("state jump unserialize failed", "error", err)
		return
	}
	s.ring.SetSelf(target)
	s.forceRewind = false
	s.logger.Info("jumped to savestate", "frame", target.Frame)
}

// ringFull reporta se self não pode avançar sem estourar DF. Um self
// transitoriamente atrás de other (savestate do futuro) não é cheio.
func (s *Session) ringFull() bool {
	self, other := s.ring.Self().Frame, s.ring.Other().Frame
	return self >= other && self-other >= s.delayFrames
}

// blockUntilRoom espera input remoto liberar espaço no ring, com o
// contador de timeouts do protocolo.
func (s *Session) blockUntilRoom() error {
	for retries := 0; retries < maxRetries; {
		if s.allPeersPaused() {
			return errAllPaused
		}
		select {
		case <-s.dataCh:
			s.poll()
			s.runSync()
			if !s.ringFull() {
				return nil
			}
			// Dados chegaram: a espera não foi infrutífera.
			retries = 0
		case <-time.After(retryInterval):
			s.poll()
			s.runSync()
			if !s.ringFull() {
				return nil
			}
			retries++
		}
		if s.closed {
			return ErrClosed
		}
	}
	s.stats.stalls.Add(1)
	return ErrStall
}

// poll incorpora conexões novas e drena os buffers de todos os peers,
// na thread da sessão.
func (s *Session) poll() {
	for {
		select {
		case nc := <-s.acceptCh:
			s.addConn(nc)
			continue
		default:
		}
		break
	}

	for _, c := range s.conns {
		if c.active {
			s.drain(c)
		}
	}
	s.reap()
}

// addConn incorpora uma conexão aceita: header (+nick) saem já.
func (s *Session) addConn(nc net.Conn) {
	c := newConn(nc)
	if s.cfg.Session.Password != "" {
		var sb [4]byte
		rand.Read(sb[:])
		c.salt = binary.BigEndian.Uint32(sb[:])
		if c.salt == 0 {
			c.salt = 1
		}
	}
	s.conns = append(s.conns, c)
	s.startReader(c)

	hdr := protocol.Header{Magic: protocol.Magic, Version: protocol.Version, Salt: c.salt, Quirks: s.quirks}
	if err := c.send(protocol.EncodeHeader(hdr)); err != nil {
		c.free()
		return
	}
	if err := c.send(protocol.EncodeNick(s.nick)); err != nil {
		c.free()
		return
	}
	s.logger.Debug("peer accepted", "addr", nc.RemoteAddr().String())
}

// drain processa tudo que há no buffer da conexão: blocos de handshake
// antes de CONNECTED, frames de comando depois. Short read deixa os
// bytes para o próximo tick.
func (s *Session) drain(c *conn) {
	_, readErr := c.takeRecv()

	for c.active {
		if c.phase != phaseConnected {
			n, err := s.tickHandshake(c)
			if err != nil {
				if errors.Is(err, protocol.ErrShortRead) {
					break
				}
				s.logger.Warn("handshake failed", "error", err)
				s.hangup(c, "handshake")
				return
			}
			c.consume(n)
			continue
		}

		cmd, payload, n, err := protocol.Decode(c.pending)
		if err != nil {
			if errors.Is(err, protocol.ErrShortRead) {
				break
			}
			s.nakHangup(c, err)
			return
		}
		if err := protocol.ValidateSize(cmd, len(payload)); err != nil {
			s.nakHangup(c, err)
			return
		}

		res := s.dispatch(c, cmd, payload)
		if res == resultDefer {
			// O comando não cabe ainda; fica no buffer e segura os
			// seguintes (o stream é ordenado).
			return
		}
		if !c.active {
			// O handler já derrubou a conexão (DISCONNECT, NAK).
			return
		}
		c.consume(n)
		switch res {
		case resultNak:
			s.nakHangup(c, fmt.Errorf("protocol violation on %v", cmd))
			return
		case resultFatal:
			s.logger.Error("fatal command failure, closing session", "cmd", cmd.String())
			s.Close()
			return
		}
	}

	// Erro de leitura é terminal: o que sobrou no buffer nunca vai
	// completar um frame.
	if readErr != nil && c.active {
		s.hangup(c, "transport")
	}
}

// nakHangup envia NAK e derruba o peer (erro de protocolo).
func (s *Session) nakHangup(c *conn, err error) {
	s.logger.Warn("protocol error, hanging up peer", "nick", c.nick, "error", err)
	c.sendCmd(protocol.CmdNak, nil)
	s.hangup(c, "protocol")
}

// hangup fecha a conexão e ajusta o estado da sessão.
func (s *Session) hangup(c *conn, reason string) {
	wasPlaying := c.mode == ModePlaying
	player := c.player
	c.free()

	if !s.isHost {
		// Sem host não há sessão.
		s.selfMode = ModeNone
		s.connectedPlayers = 0
		s.events.Push("Netplay has disconnected")
		s.logger.Info("disconnected from host", "reason", reason)
		s.closed = true
		return
	}

	if wasPlaying && player >= 0 {
		s.connectedPlayers &^= 1 << player
		payload := protocol.ModePayload(s.ring.Read(player).Frame, uint32(player))
		s.broadcast(protocol.CmdMode, payload, c)
		s.events.Push(fmt.Sprintf("Player %d has left", player))
	}
	s.logger.Info("peer hung up", "nick", c.nick, "player", player, "reason", reason)
}

// reap remove conexões mortas do slice.
func (s *Session) reap() {
	live := s.conns[:0]
	for _, c := range s.conns {
		if c.active {
			live = append(live, c)
		}
	}
	s.conns = live
}

// broadcast envia um comando a todos os peers CONNECTED, exceto skip.
func (s *Session) broadcast(cmd protocol.Cmd, payload []byte, skip *conn) {
	frame := protocol.Encode(cmd, payload)
	for _, c := range s.conns {
		if !c.active || c.phase != phaseConnected || c == skip {
			continue
		}
		if err := c.send(frame); err != nil {
			s.hangup(c, "transport")
		}
	}
}

// hostConn retorna a conexão com o host (client).
func (s *Session) hostConn() *conn {
	for _, c := range s.conns {
		if c.active {
			return c
		}
	}
	return nil
}

// lastRealInput retorna o input real mais recente do jogador p: o do
// slot anterior ao cursor de leitura.
func (s *Session) lastRealInput(p int) input.Sample {
	prev := s.ring.Prev(s.ring.Read(p).Ptr)
	return s.ring.Slot(prev).Real[p]
}

// savestatesOK reporta se snapshots estão habilitados nesta sessão.
func (s *Session) savestatesOK() bool {
	return s.stateSize > 0 && s.quirks&protocol.QuirkNoSavestates == 0
}

// serializeInto grava o snapshot do core no slot, sob o interlock.
func (s *Session) serializeInto(slot *ring.Slot) {
	if cap(slot.State) < s.stateSize {
		slot.State = make([]byte, s.stateSize)
	}
	slot.State = slot.State[:s.stateSize]
	if s.runLock != nil {
		s.runLock.Lock()
		defer s.runLock.Unlock()
	}
	if err := s.core.Serialize(slot.State); err != nil {
		s.logger.Warn("serialize failed, rollback disabled", "error", err)
		s.quirks |= protocol.QuirkNoSavestates
	}
}

// runFrameAt entrega os inputs resolvidos do slot ao core e roda um
// frame, aplicando o flip de portas vigente.
func (s *Session) runFrameAt(frame uint32, slot *ring.Slot) {
	for p := 0; p < input.MaxPlayers; p++ {
		if s.connectedPlayers&(1<<p) == 0 {
			continue
		}
		sample := slot.Sim[p]
		if slot.HaveReal[p] {
			sample = slot.Real[p]
		}
		s.core.SetInput(s.portFor(p, frame), sample[:])
	}
	if s.runLock != nil {
		s.runLock.Lock()
	}
	s.core.Run()
	if s.runLock != nil {
		s.runLock.Unlock()
	}
}

// portFor aplica o flip de portas: a partir de flip_frame os slots 0 e
// 1 trocam de porta no core.
func (s *Session) portFor(p int, frame uint32) int {
	if s.flip && frame >= s.flipFrame {
		switch p {
		case 0:
			return 1
		case 1:
			return 0
		}
	}
	return p
}

// PortsFlipped reporta se o mapeamento de portas está invertido no
// frame atual.
func (s *Session) PortsFlipped() bool {
	return s.flip && s.ring != nil && s.ring.Self().Frame >= s.flipFrame
}

// FlipPlayers inverte o mapeamento de portas a partir de um frame
// futuro (self + DF + 1) e anuncia aos peers. Host-only.
func (s *Session) FlipPlayers() error {
	if !s.isHost {
		return ErrHostOnly
	}
	if s.closed {
		return ErrClosed
	}
	flipFrame := s.ring.Self().Frame + s.delayFrames + 1
	s.flip = !s.flip
	s.flipFrame = flipFrame
	s.broadcast(protocol.CmdFlipPlayers, protocol.FramePayload(flipFrame), nil)
	s.events.Push(fmt.Sprintf("Players flip at frame %d", flipFrame))
	return nil
}

// Pause pausa o participante local e anuncia.
func (s *Session) Pause() {
	if s.paused || s.closed {
		return
	}
	s.paused = true
	s.broadcast(protocol.CmdPause, nil, nil)
}

// Resume retoma o participante local e anuncia.
func (s *Session) Resume() {
	if !s.paused || s.closed {
		return
	}
	s.paused = false
	s.broadcast(protocol.CmdResume, nil, nil)
}

// Paused reporta se a sessão está parada (local ou remotamente).
func (s *Session) Paused() bool {
	return s.paused || s.remotePaused()
}

// remotePaused é o OR de paused sobre as conexões.
func (s *Session) remotePaused() bool {
	for _, c := range s.conns {
		if c.active && c.phase == phaseConnected && c.paused {
			return true
		}
	}
	return false
}

// allPeersPaused reporta se todo peer CONNECTED está pausado (stall
// não se aplica nesse caso).
func (s *Session) allPeersPaused() bool {
	any := false
	for _, c := range s.conns {
		if c.active && c.phase == phaseConnected {
			any = true
			if !c.paused {
				return false
			}
		}
	}
	return any
}

// RequestPlay pede um slot de jogador ao host (client).
func (s *Session) RequestPlay() error {
	if s.isHost {
		return ErrNotClient
	}
	hc := s.hostConn()
	if hc == nil || s.closed {
		return ErrClosed
	}
	return hc.sendCmd(protocol.CmdPlay, nil)
}

// RequestSpectate pede para sair do conjunto de jogadores (client).
// O modo local muda já; o MODE do host confirma.
func (s *Session) RequestSpectate() error {
	if s.isHost {
		return ErrNotClient
	}
	hc := s.hostConn()
	if hc == nil || s.closed {
		return ErrClosed
	}
	if err := hc.sendCmd(protocol.CmdSpectate, nil); err != nil {
		return err
	}
	if s.selfPlayer >= 0 {
		s.connectedPlayers &^= 1 << s.selfPlayer
	}
	s.selfPlayer = -1
	s.selfMode = ModeSpectating
	return nil
}

// Frame retorna o frame local atual (0 antes do sync no client).
func (s *Session) Frame() uint32 {
	if s.ring == nil {
		return 0
	}
	return s.ring.Self().Frame
}

// Player retorna o slot local (-1 sem slot).
func (s *Session) Player() int { return s.selfPlayer }

// Mode retorna o modo local.
func (s *Session) Mode() Mode { return s.selfMode }

// IsHost reporta o papel da sessão.
func (s *Session) IsHost() bool { return s.isHost }

// Addr retorna o endereço de escuta (host) ou vazio.
func (s *Session) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Events retorna a fila de mensagens de status.
func (s *Session) Events() *EventRing { return s.events }

// Close encerra a sessão: DISCONNECT ordenado, sockets fechados,
// goroutines drenadas.
func (s *Session) Close() error {
	wasClosed := s.closed
	s.closed = true

	if !wasClosed {
		for _, c := range s.conns {
			if c.active && c.phase == phaseConnected {
				c.sendCmd(protocol.CmdDisconnect, nil)
			}
			c.free()
		}
		s.logger.Info("session closed")
	}

	if s.listener != nil {
		s.listener.Close()
	}
	for {
		select {
		case nc := <-s.acceptCh:
			nc.Close()
			continue
		default:
		}
		break
	}
	// Idempotente: um hangup anterior pode já ter marcado closed, mas o
	// recorder ainda precisa finalizar o arquivo.
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			s.logger.Warn("closing recorder", "error", err)
		}
	}
	return nil
}
