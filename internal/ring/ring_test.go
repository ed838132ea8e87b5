// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Netplay License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package ring

import (
	"errors"
	"testing"

	"github.com/nishisan-dev/n-netplay/internal/input"
)

func TestNew(t *testing.T) {
	r, err := New(4, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.Size() != 9 {
		t.Errorf("expected 9 slots (2*4+1), got %d", r.Size())
	}
	if r.Self().Frame != 10 || r.Other().Frame != 10 || r.Unread().Frame != 10 {
		t.Errorf("cursors must start at frame 10: self=%d other=%d unread=%d",
			r.Self().Frame, r.Other().Frame, r.Unread().Frame)
	}
	if !r.Ready(r.Self().Ptr, 10) {
		t.Error("initial slot must be prepared")
	}
	if err := r.CheckInvariants(0); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func TestNew_ZeroDelay(t *testing.T) {
	if _, err := New(0, 0); !errors.Is(err, ErrZeroSize) {
		t.Fatalf("expected ErrZeroSize, got %v", err)
	}
}

func TestAdvanceSelf_Wraps(t *testing.T) {
	r, _ := New(2, 0) // 5 slots

	for f := uint32(0); f < 12; f++ {
		ptr := r.Self().Ptr
		if ptr != int(f)%5 {
			t.Fatalf("frame %d: expected ptr %d, got %d", f, f%5, ptr)
		}
		r.Prepare(ptr, f, 0)
		r.MarkUsed(ptr)
		r.AdvanceSelf()
		// other acompanha para não estourar DF neste teste
		r.SetOther(Cursor{Ptr: r.Self().Ptr, Frame: r.Self().Frame})
	}
	if r.Self().Frame != 12 {
		t.Errorf("expected frame 12, got %d", r.Self().Frame)
	}
}

func TestPrepare_Idempotent(t *testing.T) {
	r, _ := New(4, 0)
	ptr := r.Self().Ptr

	s := r.Prepare(ptr, 0, 0b1)
	s.HaveReal[0] = true
	s.Real[0] = input.Sample{0x100, 0, 0}
	s.HaveLocal = true

	// Segunda chamada para o mesmo frame não pode apagar dados recebidos.
	s2 := r.Prepare(ptr, 0, 0b1)
	if !s2.HaveReal[0] || s2.Real[0][0] != 0x100 {
		t.Error("second Prepare for the same frame wiped real input")
	}
	if !s2.HaveLocal {
		t.Error("second Prepare for the same frame wiped local flag")
	}
}

func TestPrepare_NewFrameClears(t *testing.T) {
	r, _ := New(1, 0) // 3 slots
	ptr := 0

	s := r.Prepare(ptr, 0, 0b1)
	s.HaveReal[0] = true
	s.Sim[0] = input.Sample{0xFF, 0, 0}
	s.State = []byte{1, 2, 3}
	r.MarkUsed(ptr)

	// Volta completa do ring: mesmo slot, frame novo.
	s = r.Prepare(ptr, 3, 0b1)
	if s.HaveReal[0] {
		t.Error("have_real must clear on new frame")
	}
	if s.Sim[0] != (input.Sample{}) {
		t.Error("sim input for connected player must clear on new frame")
	}
	if len(s.State) != 3 {
		t.Error("state buffer must be preserved for reuse")
	}
	if s.Used {
		t.Error("used must clear until MarkUsed")
	}
}

func TestPrepare_DisconnectedSimPreserved(t *testing.T) {
	r, _ := New(1, 0)
	s := r.Prepare(0, 0, 0b1)
	s.Sim[1] = input.Sample{0xAA, 0, 0}

	s = r.Prepare(0, 3, 0b1) // jogador 1 fora do bitset
	if s.Sim[1] != (input.Sample{0xAA, 0, 0}) {
		t.Error("sim input of disconnected player must be preserved")
	}
}

func TestRewindSelfTo(t *testing.T) {
	r, _ := New(4, 10)

	// Avança self até 14, other fica em 10.
	for f := uint32(10); f < 14; f++ {
		r.MarkUsed(r.Self().Ptr)
		r.AdvanceSelf()
		r.Prepare(r.Self().Ptr, r.Self().Frame, 0)
	}

	if err := r.RewindSelfTo(11); err != nil {
		t.Fatalf("RewindSelfTo: %v", err)
	}
	if r.Self().Frame != 11 {
		t.Errorf("expected self frame 11, got %d", r.Self().Frame)
	}
	if r.Self().Ptr != r.PtrFor(11) {
		t.Errorf("self ptr %d does not match PtrFor(11)=%d", r.Self().Ptr, r.PtrFor(11))
	}

	if err := r.RewindSelfTo(9); !errors.Is(err, ErrBehindOther) {
		t.Fatalf("expected ErrBehindOther, got %v", err)
	}
}

func TestSlotForFrame(t *testing.T) {
	r, _ := New(4, 100)

	for f := uint32(100); f < 104; f++ {
		r.Prepare(r.Self().Ptr, f, 0)
		r.MarkUsed(r.Self().Ptr)
		r.AdvanceSelf()
	}

	s, _, ok := r.SlotForFrame(102)
	if !ok {
		t.Fatal("expected to find frame 102")
	}
	if s.Frame != 102 {
		t.Errorf("expected frame 102, got %d", s.Frame)
	}

	if _, _, ok := r.SlotForFrame(99); ok {
		t.Error("frame before other must not resolve")
	}
	if _, _, ok := r.SlotForFrame(200); ok {
		t.Error("far future frame must not resolve")
	}
}

func TestCheckInvariants_UsedRange(t *testing.T) {
	r, _ := New(4, 0)

	// Faixa contígua 0..3 usada: invariantes passam.
	for f := uint32(0); f < 4; f++ {
		r.Prepare(r.Self().Ptr, f, 0b11)
		r.MarkUsed(r.Self().Ptr)
		r.AdvanceSelf()
		r.Prepare(r.Self().Ptr, r.Self().Frame, 0b11)
	}
	r.SetUnread(Cursor{Ptr: r.PtrFor(2), Frame: 2})
	r.SetRead(0, Cursor{Ptr: r.PtrFor(2), Frame: 2})
	r.SetRead(1, Cursor{Ptr: r.PtrFor(3), Frame: 3})

	if err := r.CheckInvariants(0b11); err != nil {
		t.Fatalf("invariants: %v", err)
	}

	// read atrás de other viola I2.
	r.SetOther(Cursor{Ptr: r.PtrFor(3), Frame: 3})
	r.SetUnread(Cursor{Ptr: r.PtrFor(3), Frame: 3})
	if err := r.CheckInvariants(0b11); err == nil {
		t.Fatal("expected invariant violation with read behind other")
	}
}

func TestReset(t *testing.T) {
	r, _ := New(4, 0)
	for f := uint32(0); f < 4; f++ {
		r.MarkUsed(r.Self().Ptr)
		r.AdvanceSelf()
		r.Prepare(r.Self().Ptr, r.Self().Frame, 0)
	}

	r.Reset(500)
	if r.Self().Frame != 500 || r.Other().Frame != 500 {
		t.Errorf("expected cursors at 500, got self=%d other=%d", r.Self().Frame, r.Other().Frame)
	}
	if r.Read(3).Frame != 500 {
		t.Errorf("expected read[3] at 500, got %d", r.Read(3).Frame)
	}
	if !r.Ready(0, 500) {
		t.Error("slot 0 must be prepared for frame 500")
	}
	if err := r.CheckInvariants(0); err != nil {
		t.Errorf("invariants after reset: %v", err)
	}
}
