// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Netplay License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"crypto/sha256"
	"encoding/binary"
)

// Magic identifica o cabeçalho de handshake ("NPLY").
const Magic uint32 = 0x4E504C59

// Version é a versão atual do protocolo.
const Version uint32 = 1

// Quirks do core do emulador, anunciados no header.
const (
	QuirkNoSavestates   uint32 = 1 << 0 // core não serializa estado: sem rollback
	QuirkNoTransmission uint32 = 1 << 1 // estado não pode viajar no wire
	QuirkInitialization uint32 = 1 << 2 // tamanho de estado desconhecido no início
)

// Tamanhos dos blocos crus trocados antes do modo de comandos.
const (
	HeaderSize   = 16
	NickSize     = 32
	PasswordSize = sha256.Size
	SyncSize     = 24
)

// Header é o primeiro bloco trocado em cada direção ao conectar.
// Salt != 0 no header do host indica que uma senha é exigida; o client
// envia sempre salt 0.
type Header struct {
	Magic   uint32
	Version uint32
	Salt    uint32
	Quirks  uint32
}

// Sync é o bloco host→client que promove a conexão para CONNECTED.
type Sync struct {
	SelfFrame        uint32
	ConnectedPlayers uint32
	FlipFrame        uint32
	DelayFrames      uint32
	CheckFrames      uint32
	StateSize        uint32
}

// EncodeHeader serializa o bloco de header.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint32(buf[4:8], h.Version)
	binary.BigEndian.PutUint32(buf[8:12], h.Salt)
	binary.BigEndian.PutUint32(buf[12:16], h.Quirks)
	return buf
}

// DecodeHeader extrai e valida o bloco de header do início de buf.
// ErrShortRead quando o bloco ainda não chegou inteiro.
func DecodeHeader(buf []byte) (Header, int, error) {
	if len(buf) < HeaderSize {
		return Header{}, 0, ErrShortRead
	}
	h := Header{
		Magic:   binary.BigEndian.Uint32(buf[0:4]),
		Version: binary.BigEndian.Uint32(buf[4:8]),
		Salt:    binary.BigEndian.Uint32(buf[8:12]),
		Quirks:  binary.BigEndian.Uint32(buf[12:16]),
	}
	if h.Magic != Magic {
		return Header{}, 0, ErrInvalidMagic
	}
	if h.Version != Version {
		return Header{}, 0, ErrInvalidVersion
	}
	return h, HeaderSize, nil
}

// EncodeNick serializa o nick num bloco fixo de 32 bytes, NUL-padded.
// Nicks maiores são truncados.
func EncodeNick(nick string) []byte {
	buf := make([]byte, NickSize)
	copy(buf, nick)
	return buf
}

// DecodeNick extrai o bloco de nick do início de buf.
func DecodeNick(buf []byte) (string, int, error) {
	if len(buf) < NickSize {
		return "", 0, ErrShortRead
	}
	raw := buf[:NickSize]
	end := len(raw)
	for i, b := range raw {
		if b == 0 {
			end = i
			break
		}
	}
	return string(raw[:end]), NickSize, nil
}

// PasswordDigest calcula o digest enviado no bloco de senha:
// SHA-256 sobre salt (BE) ‖ password.
func PasswordDigest(salt uint32, password string) [PasswordSize]byte {
	h := sha256.New()
	var sb [4]byte
	binary.BigEndian.PutUint32(sb[:], salt)
	h.Write(sb[:])
	h.Write([]byte(password))
	var out [PasswordSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// DecodePassword extrai o bloco de senha do início de buf.
func DecodePassword(buf []byte) ([PasswordSize]byte, int, error) {
	var out [PasswordSize]byte
	if len(buf) < PasswordSize {
		return out, 0, ErrShortRead
	}
	copy(out[:], buf[:PasswordSize])
	return out, PasswordSize, nil
}

// EncodeSync serializa o bloco de sync.
func EncodeSync(s Sync) []byte {
	buf := make([]byte, SyncSize)
	binary.BigEndian.PutUint32(buf[0:4], s.SelfFrame)
	binary.BigEndian.PutUint32(buf[4:8], s.ConnectedPlayers)
	binary.BigEndian.PutUint32(buf[8:12], s.FlipFrame)
	binary.BigEndian.PutUint32(buf[12:16], s.DelayFrames)
	binary.BigEndian.PutUint32(buf[16:20], s.CheckFrames)
	binary.BigEndian.PutUint32(buf[20:24], s.StateSize)
	return buf
}

// DecodeSync extrai o bloco de sync do início de buf.
func DecodeSync(buf []byte) (Sync, int, error) {
	if len(buf) < SyncSize {
		return Sync{}, 0, ErrShortRead
	}
	return Sync{
		SelfFrame:        binary.BigEndian.Uint32(buf[0:4]),
		ConnectedPlayers: binary.BigEndian.Uint32(buf[4:8]),
		FlipFrame:        binary.BigEndian.Uint32(buf[8:12]),
		DelayFrames:      binary.BigEndian.Uint32(buf[12:16]),
		CheckFrames:      binary.BigEndian.Uint32(buf[16:20]),
		StateSize:        binary.BigEndian.Uint32(buf[20:24]),
	}, SyncSize, nil
}
