// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Netplay License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/nishisan-dev/n-netplay/internal/input"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Cmd
		payload []byte
	}{
		{"ACK empty", CmdAck, nil},
		{"NAK empty", CmdNak, nil},
		{"INPUT", CmdInput, InputPayload(42, TagServer|1, input.Sample{0x100, 0, 0})},
		{"NOINPUT", CmdNoInput, FramePayload(7)},
		{"FLIP_PLAYERS", CmdFlipPlayers, FramePayload(100)},
		{"MODE", CmdMode, ModePayload(201, ModeYou|ModePlaying|2)},
		{"CRC", CmdCRC, CRCPayload(50, 0xDEADBEEF)},
		{"LOAD_SAVESTATE", CmdLoadSavestate, SavestatePayload(30, 128, []byte{1, 2, 3})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := Encode(tt.cmd, tt.payload)

			cmd, payload, consumed, err := Decode(frame)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if cmd != tt.cmd {
				t.Errorf("expected cmd %v, got %v", tt.cmd, cmd)
			}
			if consumed != len(frame) {
				t.Errorf("expected %d consumed, got %d", len(frame), consumed)
			}
			if !bytes.Equal(payload, tt.payload) {
				t.Errorf("expected payload %x, got %x", tt.payload, payload)
			}
			if err := ValidateSize(cmd, len(payload)); err != nil {
				t.Errorf("ValidateSize: %v", err)
			}
		})
	}
}

func TestDecode_ShortRead(t *testing.T) {
	frame := Encode(CmdInput, InputPayload(1, 0, input.Sample{}))

	// Todo prefixo próprio do frame deve dar ErrShortRead, nunca erro fatal.
	for n := 0; n < len(frame); n++ {
		_, _, consumed, err := Decode(frame[:n])
		if !errors.Is(err, ErrShortRead) {
			t.Fatalf("prefix %d: expected ErrShortRead, got %v", n, err)
		}
		if consumed != 0 {
			t.Fatalf("prefix %d: expected 0 consumed, got %d", n, consumed)
		}
	}
}

func TestDecode_PayloadTooBig(t *testing.T) {
	buf := Encode(CmdInput, nil)
	buf[4] = 0xFF // len absurdo
	buf[5] = 0xFF
	buf[6] = 0xFF
	buf[7] = 0xFF

	_, _, _, err := Decode(buf)
	if !errors.Is(err, ErrPayloadTooBig) {
		t.Fatalf("expected ErrPayloadTooBig, got %v", err)
	}
}

func TestValidateSize(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Cmd
		n       int
		wantErr error
	}{
		{"input ok", CmdInput, InputPayloadSize, nil},
		{"input wrong", CmdInput, InputPayloadSize - 1, ErrPayloadSize},
		{"ack with payload", CmdAck, 4, ErrPayloadSize},
		{"savestate minimum", CmdLoadSavestate, 8, nil},
		{"savestate truncated", CmdLoadSavestate, 7, ErrPayloadSize},
		{"savestate with bytes", CmdLoadSavestate, 500, nil},
		{"unknown command", Cmd(0x7777), 0, ErrUnknownCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSize(tt.cmd, tt.n)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestInputPayload_RoundTrip(t *testing.T) {
	state := input.Sample{0x0130, 0x7FFF0000, 0x00008000}
	payload := InputPayload(1234, TagServer|3, state)

	frame, tag, got := ParseInput(payload)
	if frame != 1234 {
		t.Errorf("expected frame 1234, got %d", frame)
	}
	if tag&TagServer == 0 {
		t.Error("expected server sentinel set")
	}
	if tag&TagPlayerMask != 3 {
		t.Errorf("expected player 3, got %d", tag&TagPlayerMask)
	}
	if got != state {
		t.Errorf("expected state %v, got %v", state, got)
	}
}

func TestModeTagBits(t *testing.T) {
	// Literais do late join: broadcast e notificação YOU.
	broadcast := ModePlaying | 2
	if broadcast != 0x2000_0002 {
		t.Errorf("expected 0x20000002, got %#x", broadcast)
	}
	you := ModeYou | ModePlaying | 2
	if you != 0x6000_0002 {
		t.Errorf("expected 0x60000002, got %#x", you)
	}
}

func TestDecode_Pipelined(t *testing.T) {
	// Dois comandos colados no buffer: cada Decode consome um.
	var buf []byte
	buf = append(buf, Encode(CmdPause, nil)...)
	buf = append(buf, Encode(CmdCRC, CRCPayload(9, 0x1234))...)

	cmd, _, n, err := Decode(buf)
	if err != nil || cmd != CmdPause {
		t.Fatalf("first decode: cmd=%v err=%v", cmd, err)
	}
	buf = buf[n:]

	cmd, payload, n, err := Decode(buf)
	if err != nil || cmd != CmdCRC {
		t.Fatalf("second decode: cmd=%v err=%v", cmd, err)
	}
	if n != len(buf) {
		t.Fatalf("expected full consume, got %d of %d", n, len(buf))
	}
	frame, crc := ParseCRC(payload)
	if frame != 9 || crc != 0x1234 {
		t.Fatalf("expected (9, 0x1234), got (%d, %#x)", frame, crc)
	}
}
