// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Netplay License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package compress fornece o codec zlib dos savestates no wire e os
// compressores de stream usados nas gravações de replay.
package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// Modos de compressão para streams de gravação.
const (
	ModeGzip byte = 0x00 // pgzip paralelo — default
	ModeZstd byte = 0x01 // zstd (klauspost/compress)
)

// Erros do codec.
var (
	ErrSizeMismatch = errors.New("compress: inflated size mismatch")
	ErrUnknownMode  = errors.New("compress: unknown compression mode")
)

// DeflateState comprime um snapshot para o payload de LOAD_SAVESTATE.
func DeflateState(state []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("creating zlib writer: %w", err)
	}
	if _, err := w.Write(state); err != nil {
		return nil, fmt.Errorf("deflating state: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("flushing zlib stream: %w", err)
	}
	return buf.Bytes(), nil
}

// InflateState descomprime o payload de LOAD_SAVESTATE em dst.
// dst deve ter exatamente o inflatedSize anunciado; o stream precisa
// render exatamente esse tamanho, senão ErrSizeMismatch.
func InflateState(zbytes []byte, dst []byte) error {
	r, err := zlib.NewReader(bytes.NewReader(zbytes))
	if err != nil {
		return fmt.Errorf("opening zlib stream: %w", err)
	}
	defer r.Close()

	n, err := io.ReadFull(r, dst)
	if err != nil {
		return fmt.Errorf("%w: got %d of %d bytes", ErrSizeMismatch, n, len(dst))
	}
	// Um byte a mais que o anunciado também é desync de contrato.
	var extra [1]byte
	if m, _ := r.Read(extra[:]); m != 0 {
		return fmt.Errorf("%w: stream longer than %d bytes", ErrSizeMismatch, len(dst))
	}
	return nil
}

// NewStreamWriter abre um compressor de stream no modo dado, para as
// gravações de replay. O chamador deve fechar o writer retornado antes
// do destino.
func NewStreamWriter(dst io.Writer, mode byte) (io.WriteCloser, error) {
	switch mode {
	case ModeGzip:
		return pgzip.NewWriterLevel(dst, pgzip.BestSpeed)
	case ModeZstd:
		return zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedFastest))
	default:
		return nil, fmt.Errorf("%w: %#x", ErrUnknownMode, mode)
	}
}

// NewStreamReader abre o leitor correspondente a NewStreamWriter.
func NewStreamReader(src io.Reader, mode byte) (io.ReadCloser, error) {
	switch mode {
	case ModeGzip:
		r, err := pgzip.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		return r, nil
	case ModeZstd:
		d, err := zstd.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		return d.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("%w: %#x", ErrUnknownMode, mode)
	}
}

// ParseMode converte o nome do modo vindo da config.
func ParseMode(name string) (byte, error) {
	switch name {
	case "", "gzip":
		return ModeGzip, nil
	case "zstd":
		return ModeZstd, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}
}
