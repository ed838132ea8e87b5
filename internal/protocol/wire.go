// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Netplay License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"

	"github.com/nishisan-dev/n-netplay/internal/input"
)

// FrameHeaderSize é o tamanho do cabeçalho de comando: cmd + len.
const FrameHeaderSize = 8

// Encode monta um frame completo de comando.
// Formato: [cmd uint32 BE] [len uint32 BE] [payload].
func Encode(cmd Cmd, payload []byte) []byte {
	buf := make([]byte, FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(cmd))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[FrameHeaderSize:], payload)
	return buf
}

// Decode extrai o próximo comando completo do início de buf.
// Retorna ErrShortRead quando buf ainda não contém um frame inteiro —
// o chamador mantém os bytes e tenta de novo no próximo tick.
// Retorna ErrPayloadTooBig para frames que nunca caberiam no limite
// (o peer deve ser derrubado com NAK).
func Decode(buf []byte) (cmd Cmd, payload []byte, consumed int, err error) {
	if len(buf) < FrameHeaderSize {
		return 0, nil, 0, ErrShortRead
	}
	cmd = Cmd(binary.BigEndian.Uint32(buf[0:4]))
	size := binary.BigEndian.Uint32(buf[4:8])
	if size > MaxPayload {
		return cmd, nil, 0, ErrPayloadTooBig
	}
	total := FrameHeaderSize + int(size)
	if len(buf) < total {
		return cmd, nil, 0, ErrShortRead
	}
	return cmd, buf[FrameHeaderSize:total], total, nil
}

// InputPayload monta o payload de INPUT.
// Formato: [frame u32] [playerTag u32] [palavras de estado].
func InputPayload(frame uint32, playerTag uint32, state input.Sample) []byte {
	buf := make([]byte, InputPayloadSize)
	binary.BigEndian.PutUint32(buf[0:4], frame)
	binary.BigEndian.PutUint32(buf[4:8], playerTag)
	for w := 0; w < input.Words; w++ {
		binary.BigEndian.PutUint32(buf[8+4*w:], state[w])
	}
	return buf
}

// ParseInput decodifica o payload de INPUT. O tamanho já foi validado
// por ValidateSize.
func ParseInput(payload []byte) (frame uint32, playerTag uint32, state input.Sample) {
	frame = binary.BigEndian.Uint32(payload[0:4])
	playerTag = binary.BigEndian.Uint32(payload[4:8])
	for w := 0; w < input.Words; w++ {
		state[w] = binary.BigEndian.Uint32(payload[8+4*w:])
	}
	return frame, playerTag, state
}

// FramePayload monta um payload de uma única palavra de frame
// (NOINPUT, FLIP_PLAYERS).
func FramePayload(frame uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, frame)
	return buf
}

// ParseFrame decodifica payloads de uma única palavra de frame.
func ParseFrame(payload []byte) uint32 {
	return binary.BigEndian.Uint32(payload[0:4])
}

// ModePayload monta o payload de MODE: [frame u32] [modeTag u32].
func ModePayload(frame uint32, modeTag uint32) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], frame)
	binary.BigEndian.PutUint32(buf[4:8], modeTag)
	return buf
}

// ParseMode decodifica o payload de MODE.
func ParseMode(payload []byte) (frame uint32, modeTag uint32) {
	return binary.BigEndian.Uint32(payload[0:4]), binary.BigEndian.Uint32(payload[4:8])
}

// CRCPayload monta o payload de CRC: [frame u32] [crc u32].
func CRCPayload(frame uint32, crc uint32) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], frame)
	binary.BigEndian.PutUint32(buf[4:8], crc)
	return buf
}

// ParseCRC decodifica o payload de CRC.
func ParseCRC(payload []byte) (frame uint32, crc uint32) {
	return binary.BigEndian.Uint32(payload[0:4]), binary.BigEndian.Uint32(payload[4:8])
}

// SavestatePayload monta o payload de LOAD_SAVESTATE:
// [frame u32] [inflatedSize u32] [bytes zlib].
func SavestatePayload(frame uint32, inflatedSize uint32, zbytes []byte) []byte {
	buf := make([]byte, 8+len(zbytes))
	binary.BigEndian.PutUint32(buf[0:4], frame)
	binary.BigEndian.PutUint32(buf[4:8], inflatedSize)
	copy(buf[8:], zbytes)
	return buf
}

// ParseSavestate decodifica o payload de LOAD_SAVESTATE. O slice de
// bytes comprimidos referencia o payload original.
func ParseSavestate(payload []byte) (frame uint32, inflatedSize uint32, zbytes []byte) {
	frame = binary.BigEndian.Uint32(payload[0:4])
	inflatedSize = binary.BigEndian.Uint32(payload[4:8])
	return frame, inflatedSize, payload[8:]
}
