// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Netplay License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package ring implementa o buffer circular de frames do rollback.
// O ring tem 2·DF+1 slots; números de frame são contadores monotônicos
// de 32 bits independentes do índice no ring. Todos os cursores são
// pares (ptr, frame) movidos atomicamente.
package ring

import (
	"errors"
	"fmt"

	"github.com/nishisan-dev/n-netplay/internal/input"
)

// Erros do ring.
var (
	ErrZeroSize    = errors.New("ring: delay frames must be positive")
	ErrBehindOther = errors.New("ring: rewind target behind other cursor")
)

// Cursor é um par (índice de slot, frame lógico). Os dois campos movem
// juntos; nunca ajuste um sem o outro.
type Cursor struct {
	Ptr   int
	Frame uint32
}

// Slot guarda os dados de um frame lógico.
type Slot struct {
	Used  bool
	Frame uint32

	Self      input.Sample
	HaveLocal bool

	Real     [input.MaxPlayers]input.Sample
	Sim      [input.MaxPlayers]input.Sample
	HaveReal [input.MaxPlayers]bool

	// State é o snapshot serializado do core no início deste frame.
	// O buffer é reaproveitado entre voltas do ring.
	State []byte

	// RemoteCRC guarda um claim de CRC recebido antes do frame cruzar a
	// fronteira other; a comparação é adiada até os inputs fecharem.
	// RemoteCRCPlayer identifica o slot de jogador que fez o claim.
	RemoteCRC       uint32
	HaveRemoteCRC   bool
	RemoteCRCPlayer int

	prep bool
}

// Ring é o buffer circular com os cursores da sessão.
type Ring struct {
	df    uint32
	size  int
	slots []Slot

	self   Cursor
	other  Cursor
	unread Cursor
	server Cursor
	replay Cursor
	read   [input.MaxPlayers]Cursor
}

// New cria um ring com 2·delayFrames+1 slots, todos os cursores no
// frame inicial e o slot inicial preparado.
func New(delayFrames uint32, startFrame uint32) (*Ring, error) {
	if delayFrames == 0 {
		return nil, ErrZeroSize
	}
	r := &Ring{
		df:    delayFrames,
		size:  int(2*delayFrames + 1),
		slots: make([]Slot, 2*delayFrames+1),
	}
	r.Reset(startFrame)
	return r, nil
}

// Reset reposiciona todos os cursores no frame dado (início de sessão
// ou pós-savestate) e prepara o slot inicial. Buffers de estado são
// preservados.
func (r *Ring) Reset(startFrame uint32) {
	c := Cursor{Ptr: 0, Frame: startFrame}
	r.self, r.other, r.unread, r.server, r.replay = c, c, c, c, c
	for p := range r.read {
		r.read[p] = c
	}
	for i := range r.slots {
		r.slots[i].Used = false
		r.slots[i].prep = false
	}
	r.Prepare(0, startFrame, 0)
}

// Size retorna o número de slots (2·DF+1).
func (r *Ring) Size() int { return r.size }

// DelayFrames retorna DF.
func (r *Ring) DelayFrames() uint32 { return r.df }

// Next retorna o índice seguinte, com wrap.
func (r *Ring) Next(ptr int) int { return (ptr + 1) % r.size }

// Prev retorna o índice anterior, com wrap.
func (r *Ring) Prev(ptr int) int { return (ptr + r.size - 1) % r.size }

// Slot retorna o slot no índice dado.
func (r *Ring) Slot(ptr int) *Slot { return &r.slots[ptr] }

// Cursores.
func (r *Ring) Self() Cursor   { return r.self }
func (r *Ring) Other() Cursor  { return r.other }
func (r *Ring) Unread() Cursor { return r.unread }
func (r *Ring) Server() Cursor { return r.server }
func (r *Ring) Replay() Cursor { return r.replay }

// Read retorna o cursor de leitura do jogador p.
func (r *Ring) Read(p int) Cursor { return r.read[p] }

func (r *Ring) SetOther(c Cursor)       { r.other = c }
func (r *Ring) SetUnread(c Cursor)      { r.unread = c }
func (r *Ring) SetServer(c Cursor)      { r.server = c }
func (r *Ring) SetReplay(c Cursor)      { r.replay = c }
func (r *Ring) SetRead(p int, c Cursor) { r.read[p] = c }
func (r *Ring) SetSelf(c Cursor)        { r.self = c }

// PtrFor calcula o índice de slot para um frame, ancorado no cursor
// other. Válido para frames em [other, other+size).
func (r *Ring) PtrFor(frame uint32) int {
	delta := int(frame - r.other.Frame)
	return (r.other.Ptr + delta) % r.size
}

// SlotForFrame localiza o slot que contém o frame, se algum contém.
func (r *Ring) SlotForFrame(frame uint32) (*Slot, int, bool) {
	if frame < r.other.Frame || frame >= r.other.Frame+uint32(r.size) {
		return nil, 0, false
	}
	ptr := r.PtrFor(frame)
	s := &r.slots[ptr]
	if s.Frame != frame {
		return nil, 0, false
	}
	return s, ptr, true
}

// FindFrame localiza um slot ocupado pelo frame dado, mesmo atrás do
// cursor other (o slot físico sobrevive até ser reaproveitado).
func (r *Ring) FindFrame(frame uint32) (*Slot, int, bool) {
	for i := range r.slots {
		if r.slots[i].Used && r.slots[i].Frame == frame {
			return &r.slots[i], i, true
		}
	}
	return nil, 0, false
}

// Prepare zera/renova um slot para receber o frame dado. Idempotente
// por frame: se o slot já foi preparado para este frame, nada muda.
// Limpa have_local, have_real[*] e, para os jogadores do bitset
// connected, o input simulado. Preserva o buffer de estado.
func (r *Ring) Prepare(ptr int, frame uint32, connected uint32) *Slot {
	s := &r.slots[ptr]
	if s.Frame == frame && s.prepared() {
		return s
	}
	s.Frame = frame
	s.Used = false
	s.HaveLocal = false
	s.Self = input.Sample{}
	s.RemoteCRC = 0
	s.HaveRemoteCRC = false
	for p := 0; p < input.MaxPlayers; p++ {
		s.HaveReal[p] = false
		if connected&(1<<p) != 0 {
			s.Sim[p] = input.Sample{}
		}
	}
	s.prep = true
	return s
}

// prep marca que o slot passou por Prepare desde o último Reset; a qual
// frame isso vale é dado por Frame (Ready compara os dois).
// Campo interno; Ready é a consulta pública.
func (s *Slot) prepared() bool { return s.prep }

// Ready reporta se o slot no índice dado está preparado para o frame.
func (r *Ring) Ready(ptr int, frame uint32) bool {
	s := &r.slots[ptr]
	return s.prep && s.Frame == frame
}

// MarkUsed marca o slot como ocupado por dados válidos do frame que o
// Prepare registrou.
func (r *Ring) MarkUsed(ptr int) {
	r.slots[ptr].Used = true
}

// AdvanceSelf move self um slot adiante e incrementa o frame.
func (r *Ring) AdvanceSelf() {
	r.self.Ptr = r.Next(r.self.Ptr)
	r.self.Frame++
}

// RewindSelfTo reposiciona self no slot do frame dado. O chamador deve
// em seguida re-simular para frente. Exige frame ≥ other.
func (r *Ring) RewindSelfTo(frame uint32) error {
	if frame < r.other.Frame {
		return fmt.Errorf("%w: target %d, other %d", ErrBehindOther, frame, r.other.Frame)
	}
	r.self = Cursor{Ptr: r.PtrFor(frame), Frame: frame}
	return nil
}

// CheckInvariants valida as invariantes estruturais do ring para o
// bitset de jogadores conectados. Usado em testes.
func (r *Ring) CheckInvariants(connected uint32) error {
	if r.other.Frame > r.unread.Frame || r.unread.Frame > r.self.Frame+1 {
		return fmt.Errorf("ring: other %d ≤ unread %d ≤ self+1 %d violated",
			r.other.Frame, r.unread.Frame, r.self.Frame+1)
	}
	// self = other-1 é transiente legal (savestate no futuro).
	if r.self.Frame >= r.other.Frame && r.self.Frame-r.other.Frame > r.df {
		return fmt.Errorf("ring: self %d - other %d exceeds DF %d",
			r.self.Frame, r.other.Frame, r.df)
	}
	for p := 0; p < input.MaxPlayers; p++ {
		if connected&(1<<p) == 0 {
			continue
		}
		if r.read[p].Frame < r.other.Frame {
			return fmt.Errorf("ring: read[%d] %d behind other %d",
				p, r.read[p].Frame, r.other.Frame)
		}
		if r.read[p].Frame > r.self.Frame && r.read[p].Frame-r.self.Frame > r.df {
			return fmt.Errorf("ring: read[%d] %d ahead of self %d beyond DF",
				p, r.read[p].Frame, r.self.Frame)
		}
	}
	// Slots usados formam uma faixa contígua a partir de other.
	ptr, frame := r.other.Ptr, r.other.Frame
	inGap := false
	for i := 0; i < r.size; i++ {
		s := &r.slots[ptr]
		if s.Used && s.Frame == frame {
			if inGap {
				return fmt.Errorf("ring: used slot for frame %d after gap", frame)
			}
		} else {
			inGap = true
		}
		ptr = r.Next(ptr)
		frame++
	}
	return nil
}
