// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Netplay License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package replay grava sessões de netplay em arquivos comprimidos e os
// arquiva. Cada gravação carrega os inputs confirmados frame a frame, o
// suficiente para re-rodar a sessão offline num core determinístico. O
// formato também aceita snapshots (RecordState), mas a sessão não os
// grava.
package replay

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nishisan-dev/n-netplay/internal/compress"
	"github.com/nishisan-dev/n-netplay/internal/input"
)

// Magic do arquivo de replay ("NRPL") e versão do formato.
var fileMagic = [4]byte{'N', 'R', 'P', 'L'}

const formatVersion byte = 0x01

// Tipos de registro dentro do stream comprimido.
const (
	recMeta  byte = 0x00
	recFrame byte = 0x01
	recState byte = 0x02
)

// Erros do replay.
var (
	ErrBadMagic   = errors.New("replay: invalid file magic")
	ErrBadVersion = errors.New("replay: unsupported format version")
	ErrCorrupt    = errors.New("replay: corrupt record")
)

// Meta abre toda gravação.
type Meta struct {
	DelayFrames uint32
	CheckFrames uint32
	StateSize   uint32
}

// Frame é um registro de frame confirmado.
type Frame struct {
	Frame     uint32
	Connected uint32
	Samples   [input.MaxPlayers]input.Sample
}

// State é um snapshot embutido na gravação.
type State struct {
	Frame uint32
	Data  []byte
}

// Recorder grava uma sessão num arquivo .nrp. A escrita vai para um
// .tmp e o Close renomeia para o nome final (escrita atômica).
type Recorder struct {
	file    *os.File
	tmpPath string
	dir     string
	buf     *bufio.Writer
	zw      io.WriteCloser
	closed  bool
}

// NewRecorder cria uma gravação nova em dir, no modo de compressão
// dado, e escreve o registro de metadados.
func NewRecorder(dir string, mode byte, meta Meta) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating replay directory: %w", err)
	}

	f, err := os.CreateTemp(dir, "replay-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating replay file: %w", err)
	}

	buf := bufio.NewWriterSize(f, 64*1024)
	header := make([]byte, 6)
	copy(header[0:4], fileMagic[:])
	header[4] = formatVersion
	header[5] = mode
	if _, err := buf.Write(header); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("writing replay header: %w", err)
	}

	zw, err := compress.NewStreamWriter(buf, mode)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}

	r := &Recorder{file: f, tmpPath: f.Name(), dir: dir, buf: buf, zw: zw}
	if err := r.writeMeta(meta); err != nil {
		r.abort()
		return nil, err
	}
	return r, nil
}

func (r *Recorder) writeMeta(meta Meta) error {
	rec := make([]byte, 1+12)
	rec[0] = recMeta
	binary.BigEndian.PutUint32(rec[1:5], meta.DelayFrames)
	binary.BigEndian.PutUint32(rec[5:9], meta.CheckFrames)
	binary.BigEndian.PutUint32(rec[9:13], meta.StateSize)
	if _, err := r.zw.Write(rec); err != nil {
		return fmt.Errorf("writing replay meta: %w", err)
	}
	return nil
}

// RecordFrame grava os inputs resolvidos de um frame confirmado.
// Só os jogadores do bitset entram no registro.
func (r *Recorder) RecordFrame(frame uint32, connected uint32, samples [input.MaxPlayers]input.Sample) error {
	if r.closed {
		return ErrCorrupt
	}
	n := bits.OnesCount32(connected)
	rec := make([]byte, 1+8+n*4*input.Words)
	rec[0] = recFrame
	binary.BigEndian.PutUint32(rec[1:5], frame)
	binary.BigEndian.PutUint32(rec[5:9], connected)
	off := 9
	for p := 0; p < input.MaxPlayers; p++ {
		if connected&(1<<p) == 0 {
			continue
		}
		for w := 0; w < input.Words; w++ {
			binary.BigEndian.PutUint32(rec[off:], samples[p][w])
			off += 4
		}
	}
	if _, err := r.zw.Write(rec); err != nil {
		return fmt.Errorf("writing replay frame: %w", err)
	}
	return nil
}

// RecordState embute um snapshot (início de sessão ou resync).
func (r *Recorder) RecordState(frame uint32, state []byte) error {
	if r.closed {
		return ErrCorrupt
	}
	rec := make([]byte, 1+8)
	rec[0] = recState
	binary.BigEndian.PutUint32(rec[1:5], frame)
	binary.BigEndian.PutUint32(rec[5:9], uint32(len(state)))
	if _, err := r.zw.Write(rec); err != nil {
		return fmt.Errorf("writing replay state header: %w", err)
	}
	if _, err := r.zw.Write(state); err != nil {
		return fmt.Errorf("writing replay state: %w", err)
	}
	return nil
}

// Close fecha o stream e renomeia para o nome final com timestamp.
func (r *Recorder) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.zw.Close(); err != nil {
		r.abortFile()
		return fmt.Errorf("closing replay stream: %w", err)
	}
	if err := r.buf.Flush(); err != nil {
		r.abortFile()
		return fmt.Errorf("flushing replay file: %w", err)
	}
	if err := r.file.Close(); err != nil {
		os.Remove(r.tmpPath)
		return fmt.Errorf("closing replay file: %w", err)
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15-04-05.000")
	timestamp = strings.ReplaceAll(timestamp, ".", "-")
	finalPath := filepath.Join(r.dir, fmt.Sprintf("%s.nrp", timestamp))
	for n := 2; ; n++ {
		if _, err := os.Stat(finalPath); os.IsNotExist(err) {
			break
		}
		finalPath = filepath.Join(r.dir, fmt.Sprintf("%s-%d.nrp", timestamp, n))
	}
	if err := os.Rename(r.tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming replay to final name: %w", err)
	}
	return nil
}

// abort descarta a gravação (erro durante criação).
func (r *Recorder) abort() {
	r.closed = true
	r.zw.Close()
	r.abortFile()
}

func (r *Recorder) abortFile() {
	r.file.Close()
	os.Remove(r.tmpPath)
}

// Reader itera os registros de uma gravação.
type Reader struct {
	file *os.File
	zr   io.ReadCloser
	Meta Meta
}

// OpenReader abre uma gravação e lê o registro de metadados.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening replay: %w", err)
	}

	header := make([]byte, 6)
	if _, err := io.ReadFull(f, header); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading replay header: %w", err)
	}
	if [4]byte(header[0:4]) != fileMagic {
		f.Close()
		return nil, ErrBadMagic
	}
	if header[4] != formatVersion {
		f.Close()
		return nil, ErrBadVersion
	}

	zr, err := compress.NewStreamReader(bufio.NewReaderSize(f, 64*1024), header[5])
	if err != nil {
		f.Close()
		return nil, err
	}

	r := &Reader{file: f, zr: zr}
	typ, err := r.readByte()
	if err != nil || typ != recMeta {
		r.Close()
		return nil, ErrCorrupt
	}
	var mbuf [12]byte
	if _, err := io.ReadFull(r.zr, mbuf[:]); err != nil {
		r.Close()
		return nil, fmt.Errorf("reading replay meta: %w", err)
	}
	r.Meta = Meta{
		DelayFrames: binary.BigEndian.Uint32(mbuf[0:4]),
		CheckFrames: binary.BigEndian.Uint32(mbuf[4:8]),
		StateSize:   binary.BigEndian.Uint32(mbuf[8:12]),
	}
	return r, nil
}

// Next retorna o próximo registro: *Frame ou *State; io.EOF no fim.
func (r *Reader) Next() (any, error) {
	typ, err := r.readByte()
	if err != nil {
		return nil, err
	}

	switch typ {
	case recFrame:
		var head [8]byte
		if _, err := io.ReadFull(r.zr, head[:]); err != nil {
			return nil, fmt.Errorf("%w: frame record", ErrCorrupt)
		}
		fr := &Frame{
			Frame:     binary.BigEndian.Uint32(head[0:4]),
			Connected: binary.BigEndian.Uint32(head[4:8]),
		}
		var word [4]byte
		for p := 0; p < input.MaxPlayers; p++ {
			if fr.Connected&(1<<p) == 0 {
				continue
			}
			for w := 0; w < input.Words; w++ {
				if _, err := io.ReadFull(r.zr, word[:]); err != nil {
					return nil, fmt.Errorf("%w: frame inputs", ErrCorrupt)
				}
				fr.Samples[p][w] = binary.BigEndian.Uint32(word[:])
			}
		}
		return fr, nil

	case recState:
		var head [8]byte
		if _, err := io.ReadFull(r.zr, head[:]); err != nil {
			return nil, fmt.Errorf("%w: state record", ErrCorrupt)
		}
		st := &State{
			Frame: binary.BigEndian.Uint32(head[0:4]),
			Data:  make([]byte, binary.BigEndian.Uint32(head[4:8])),
		}
		if _, err := io.ReadFull(r.zr, st.Data); err != nil {
			return nil, fmt.Errorf("%w: state data", ErrCorrupt)
		}
		return st, nil

	default:
		return nil, fmt.Errorf("%w: unknown record type %#x", ErrCorrupt, typ)
	}
}

// Close fecha a gravação.
func (r *Reader) Close() error {
	r.zr.Close()
	return r.file.Close()
}

func (r *Reader) readByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r.zr, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// IsRecording reporta se o nome de arquivo é uma gravação finalizada.
func IsRecording(name string) bool {
	return strings.HasSuffix(name, ".nrp")
}
