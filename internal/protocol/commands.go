// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Netplay License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package protocol implementa o protocolo binário N-Netplay para
// comunicação entre host e peers sobre TCP (opcionalmente TLS).
// Todo frame de comando é [cmd uint32 BE] [len uint32 BE] [payload].
package protocol

import (
	"errors"

	"github.com/nishisan-dev/n-netplay/internal/input"
)

// Cmd identifica um comando no wire.
type Cmd uint32

// Conjunto de comandos do protocolo.
const (
	CmdAck              Cmd = 0x0000
	CmdNak              Cmd = 0x0001
	CmdInput            Cmd = 0x0002
	CmdNoInput          Cmd = 0x0003
	CmdFlipPlayers      Cmd = 0x0004
	CmdSpectate         Cmd = 0x0005
	CmdPlay             Cmd = 0x0006
	CmdMode             Cmd = 0x0007
	CmdDisconnect       Cmd = 0x0008
	CmdCRC              Cmd = 0x0009
	CmdRequestSavestate Cmd = 0x000A
	CmdLoadSavestate    Cmd = 0x000B
	CmdPause            Cmd = 0x000C
	CmdResume           Cmd = 0x000D
)

// InputPayloadSize é o tamanho do payload de INPUT:
// frame + playerTag + input.Words palavras de estado.
const InputPayloadSize = 8 + 4*input.Words

// TagServer marca, no playerTag de INPUT, input autoritativo do host
// (avança o cursor server no lado do client; no envio do host marca o
// input do próprio host).
const TagServer uint32 = 0x8000_0000

// TagPlayerMask extrai o slot de jogador do playerTag.
const TagPlayerMask uint32 = 0x0000_FFFF

// Bits do modeTag de MODE.
const (
	ModeYou        uint32 = 0x4000_0000 // notificação dirigida ao destinatário
	ModePlaying    uint32 = 0x2000_0000 // entrando no conjunto de jogadores (senão saindo)
	ModePlayerMask uint32 = 0x0000_FFFF
)

// MaxPayload limita o payload de qualquer comando. Dimensionado para o
// maior LOAD_SAVESTATE plausível (estado comprimido + 2 words).
const MaxPayload = 16*1024*1024 + 8

// Erros do protocolo.
var (
	ErrShortRead      = errors.New("protocol: short read")
	ErrPayloadSize    = errors.New("protocol: payload size mismatch")
	ErrPayloadTooBig  = errors.New("protocol: payload exceeds limit")
	ErrUnknownCommand = errors.New("protocol: unknown command")
	ErrInvalidMagic   = errors.New("protocol: invalid magic")
	ErrInvalidVersion = errors.New("protocol: unsupported protocol version")
)

// payloadSizes mapeia cada comando para o tamanho fixo do payload.
// -1 indica tamanho variável (validado pelo handler).
var payloadSizes = map[Cmd]int{
	CmdAck:              0,
	CmdNak:              0,
	CmdInput:            InputPayloadSize,
	CmdNoInput:          4,
	CmdFlipPlayers:      4,
	CmdSpectate:         0,
	CmdPlay:             0,
	CmdMode:             8,
	CmdDisconnect:       0,
	CmdCRC:              8,
	CmdRequestSavestate: 0,
	CmdLoadSavestate:    -1,
	CmdPause:            0,
	CmdResume:           0,
}

// ValidateSize verifica se o tamanho do payload confere com o declarado
// para o comando. Retorna ErrUnknownCommand para comandos fora do
// conjunto e ErrPayloadSize para tamanhos incompatíveis — ambos
// resultam em NAK + hangup no dispatcher.
func ValidateSize(cmd Cmd, n int) error {
	want, ok := payloadSizes[cmd]
	if !ok {
		return ErrUnknownCommand
	}
	if want == -1 {
		if cmd == CmdLoadSavestate && n < 8 {
			return ErrPayloadSize
		}
		return nil
	}
	if n != want {
		return ErrPayloadSize
	}
	return nil
}

// String implementa fmt.Stringer para logs.
func (c Cmd) String() string {
	switch c {
	case CmdAck:
		return "ACK"
	case CmdNak:
		return "NAK"
	case CmdInput:
		return "INPUT"
	case CmdNoInput:
		return "NOINPUT"
	case CmdFlipPlayers:
		return "FLIP_PLAYERS"
	case CmdSpectate:
		return "SPECTATE"
	case CmdPlay:
		return "PLAY"
	case CmdMode:
		return "MODE"
	case CmdDisconnect:
		return "DISCONNECT"
	case CmdCRC:
		return "CRC"
	case CmdRequestSavestate:
		return "REQUEST_SAVESTATE"
	case CmdLoadSavestate:
		return "LOAD_SAVESTATE"
	case CmdPause:
		return "PAUSE"
	case CmdResume:
		return "RESUME"
	default:
		return "UNKNOWN"
	}
}
