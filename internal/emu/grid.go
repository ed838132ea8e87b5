// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Netplay License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package emu

import (
	"encoding/binary"
	"fmt"

	"github.com/nishisan-dev/n-netplay/internal/input"
)

// Bits da palavra de botões reconhecidos pelo GridCore.
const (
	gridUp     = 1 << 4
	gridDown   = 1 << 5
	gridLeft   = 1 << 6
	gridRight  = 1 << 7
	gridButton = 1 << 8
)

// gridStateSize é o tamanho fixo do snapshot:
// frame u32 + rng u64 + por jogador (x i32, y i32, score u32).
const gridStateSize = 4 + 8 + input.MaxPlayers*12

// GridCore é uma simulação determinística mínima usada pelo binário de
// demonstração e pelos testes: cada jogador move um marcador numa
// grade e acumula pontos; um xorshift mistura os inputs no estado para
// que qualquer divergência de input mude o CRC.
type GridCore struct {
	frame  uint32
	rng    uint64
	x      [input.MaxPlayers]int32
	y      [input.MaxPlayers]int32
	score  [input.MaxPlayers]uint32
	inputs [input.MaxPlayers]input.Sample
}

// NewGridCore cria um GridCore com seed fixa.
func NewGridCore() *GridCore {
	return &GridCore{rng: 0x9E3779B97F4A7C15}
}

// SetInput implementa Core.
func (g *GridCore) SetInput(player int, words []uint32) {
	if player < 0 || player >= input.MaxPlayers {
		return
	}
	var s input.Sample
	for w := 0; w < len(words) && w < input.Words; w++ {
		s[w] = words[w]
	}
	g.inputs[player] = s
}

// Run implementa Core.
func (g *GridCore) Run() {
	for p := 0; p < input.MaxPlayers; p++ {
		b := g.inputs[p][0]
		if b&gridUp != 0 {
			g.y[p]--
		}
		if b&gridDown != 0 {
			g.y[p]++
		}
		if b&gridLeft != 0 {
			g.x[p]--
		}
		if b&gridRight != 0 {
			g.x[p]++
		}
		if b&gridButton != 0 {
			g.score[p]++
		}
		// Mistura o input no rng: qualquer divergência propaga.
		g.rng ^= uint64(b) + uint64(p)<<32
		g.rng ^= g.rng << 13
		g.rng ^= g.rng >> 7
		g.rng ^= g.rng << 17
	}
	g.frame++
}

// Frame retorna o frame atual da simulação.
func (g *GridCore) Frame() uint32 { return g.frame }

// Score retorna a pontuação de um jogador.
func (g *GridCore) Score(player int) uint32 { return g.score[player] }

// Position retorna a posição de um jogador na grade.
func (g *GridCore) Position(player int) (int32, int32) {
	return g.x[player], g.y[player]
}

// SerializeSize implementa Core.
func (g *GridCore) SerializeSize() int { return gridStateSize }

// Serialize implementa Core.
func (g *GridCore) Serialize(buf []byte) error {
	if len(buf) < gridStateSize {
		return fmt.Errorf("%w: buffer %d, need %d", ErrSerializeFailed, len(buf), gridStateSize)
	}
	binary.BigEndian.PutUint32(buf[0:4], g.frame)
	binary.BigEndian.PutUint64(buf[4:12], g.rng)
	off := 12
	for p := 0; p < input.MaxPlayers; p++ {
		binary.BigEndian.PutUint32(buf[off:], uint32(g.x[p]))
		binary.BigEndian.PutUint32(buf[off+4:], uint32(g.y[p]))
		binary.BigEndian.PutUint32(buf[off+8:], g.score[p])
		off += 12
	}
	return nil
}

// Unserialize implementa Core.
func (g *GridCore) Unserialize(buf []byte) error {
	if len(buf) < gridStateSize {
		return fmt.Errorf("%w: buffer %d, need %d", ErrUnserializeFailed, len(buf), gridStateSize)
	}
	g.frame = binary.BigEndian.Uint32(buf[0:4])
	g.rng = binary.BigEndian.Uint64(buf[4:12])
	off := 12
	for p := 0; p < input.MaxPlayers; p++ {
		g.x[p] = int32(binary.BigEndian.Uint32(buf[off:]))
		g.y[p] = int32(binary.BigEndian.Uint32(buf[off+4:]))
		g.score[p] = binary.BigEndian.Uint32(buf[off+8:])
		off += 12
	}
	return nil
}
