// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Netplay License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package session

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nishisan-dev/n-netplay/internal/protocol"
)

// Fases do lifecycle de uma conexão. Antes de phaseConnected a conexão
// troca os blocos crus de handshake; depois, só frames de comando.
const (
	phaseNone = iota
	phaseInit        // aguardando header do peer
	phasePreNick     // aguardando bloco de nick
	phasePrePassword // host aguardando digest de senha
	phasePreSync     // client aguardando bloco de sync
	phaseConnected
)

// writeTimeout é o deadline de write por frame de comando. Um write
// que não completa nesse prazo é erro de transporte (hangup).
const writeTimeout = 10 * time.Second

// savestateInterval limita o envio de savestates por peer: um a cada
// 2s no máximo, para um peer dessincronizado não virar um loop de
// compressão + retransmissão.
const savestateInterval = 2 * time.Second

// conn é o registro por peer. Todos os campos fora de mu são tocados
// apenas pela thread da sessão.
type conn struct {
	sock  net.Conn
	phase int
	mode  Mode
	// player é o slot atribuído, -1 sem slot.
	player int
	paused bool
	nick   string
	// salt enviado no nosso header para este peer (host com senha).
	salt       uint32
	peerQuirks uint32
	// sendSave agenda um push de savestate no próximo frame boundary.
	sendSave    bool
	saveLimiter *rate.Limiter
	active      bool

	// pending são os bytes recebidos ainda não parseados; propriedade
	// da thread da sessão. Short reads deixam o resto aqui até o
	// próximo tick.
	pending []byte

	// recvBuf e readErr são alimentados pela goroutine de leitura.
	mu      sync.Mutex
	recvBuf []byte
	readErr error
}

func newConn(sock net.Conn) *conn {
	if tc, ok := sock.(*net.TCPConn); ok {
		// Nagle fora: comandos pequenos por frame precisam sair já.
		tc.SetNoDelay(true)
	}
	return &conn{
		sock:        sock,
		phase:       phaseInit,
		player:      -1,
		active:      true,
		saveLimiter: rate.NewLimiter(rate.Every(savestateInterval), 1),
	}
}

// takeRecv move os bytes recebidos pela goroutine de leitura para o
// buffer de parsing da sessão. Retorna se chegaram bytes novos e o
// erro de leitura pendente, se houver.
func (c *conn) takeRecv() (got bool, err error) {
	c.mu.Lock()
	if len(c.recvBuf) > 0 {
		c.pending = append(c.pending, c.recvBuf...)
		c.recvBuf = c.recvBuf[:0]
		got = true
	}
	err = c.readErr
	c.mu.Unlock()
	return got, err
}

// consume descarta n bytes parseados do início de pending.
func (c *conn) consume(n int) {
	c.pending = c.pending[n:]
}

// send escreve bytes com deadline. Erro aqui é erro de transporte; o
// chamador derruba a conexão.
func (c *conn) send(b []byte) error {
	c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.sock.Write(b)
	return err
}

// sendCmd monta e envia um frame de comando.
func (c *conn) sendCmd(cmd protocol.Cmd, payload []byte) error {
	return c.send(protocol.Encode(cmd, payload))
}

// free fecha o socket e libera os buffers.
func (c *conn) free() {
	c.sock.Close()
	c.active = false
	c.pending = nil
	c.mu.Lock()
	c.recvBuf = nil
	c.mu.Unlock()
}
