// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Netplay License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package replay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/nishisan-dev/n-netplay/internal/compress"
	"github.com/nishisan-dev/n-netplay/internal/config"
	"github.com/nishisan-dev/n-netplay/internal/input"
)

func findRecording(t *testing.T, dir string) string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	for _, e := range entries {
		if IsRecording(e.Name()) {
			return filepath.Join(dir, e.Name())
		}
	}
	t.Fatal("no finished recording found")
	return ""
}

func TestRecorder_RoundTrip(t *testing.T) {
	for _, mode := range []byte{compress.ModeGzip, compress.ModeZstd} {
		dir := t.TempDir()
		meta := Meta{DelayFrames: 4, CheckFrames: 60, StateSize: 128}

		rec, err := NewRecorder(dir, mode, meta)
		if err != nil {
			t.Fatalf("mode %#x: NewRecorder: %v", mode, err)
		}

		state := make([]byte, 128)
		for i := range state {
			state[i] = byte(i)
		}
		if err := rec.RecordState(10, state); err != nil {
			t.Fatalf("RecordState: %v", err)
		}

		var samples [input.MaxPlayers]input.Sample
		samples[0] = input.Sample{0x100, 0, 0}
		samples[1] = input.Sample{0x0F0, 1, 2}
		for f := uint32(10); f < 20; f++ {
			if err := rec.RecordFrame(f, 0b11, samples); err != nil {
				t.Fatalf("RecordFrame: %v", err)
			}
		}
		if err := rec.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}

		path := findRecording(t, dir)
		r, err := OpenReader(path)
		if err != nil {
			t.Fatalf("OpenReader: %v", err)
		}
		if r.Meta != meta {
			t.Errorf("expected meta %+v, got %+v", meta, r.Meta)
		}

		recAny, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		st, ok := recAny.(*State)
		if !ok {
			t.Fatalf("expected state record, got %T", recAny)
		}
		if st.Frame != 10 || len(st.Data) != 128 || st.Data[5] != 5 {
			t.Errorf("unexpected state record: frame=%d len=%d", st.Frame, len(st.Data))
		}

		var frames int
		for {
			recAny, err = r.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			fr, ok := recAny.(*Frame)
			if !ok {
				t.Fatalf("expected frame record, got %T", recAny)
			}
			if fr.Connected != 0b11 {
				t.Errorf("expected connected 0b11, got %#b", fr.Connected)
			}
			if fr.Samples[0] != samples[0] || fr.Samples[1] != samples[1] {
				t.Errorf("frame %d: samples mismatch", fr.Frame)
			}
			frames++
		}
		r.Close()

		if frames != 10 {
			t.Errorf("expected 10 frame records, got %d", frames)
		}
	}
}

func TestRecorder_AtomicFinish(t *testing.T) {
	dir := t.TempDir()
	rec, err := NewRecorder(dir, compress.ModeGzip, Meta{DelayFrames: 2})
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	// Antes do Close só existe o .tmp.
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if IsRecording(e.Name()) {
			t.Fatal("recording visible before Close")
		}
	}

	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	findRecording(t, dir)

	// Close duplo é inofensivo.
	if err := rec.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestOpenReader_BadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bogus.nrp")
	os.WriteFile(path, []byte("XXXXxxxxxx"), 0644)

	if _, err := OpenReader(path); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

// fakeUploader registra uploads e pode falhar seletivamente.
type fakeUploader struct {
	uploads []string
	failOn  string
}

func (f *fakeUploader) Upload(_ context.Context, path string) error {
	if f.failOn != "" && filepath.Base(path) == f.failOn {
		return errors.New("upload refused")
	}
	f.uploads = append(f.uploads, filepath.Base(path))
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeRecording(t *testing.T, dir, name string) {
	t.Helper()
	before := make(map[string]bool)
	if entries, err := os.ReadDir(dir); err == nil {
		for _, e := range entries {
			before[e.Name()] = true
		}
	}

	rec, err := NewRecorder(dir, compress.ModeGzip, Meta{})
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Renomeia a gravação recém-criada para um nome determinístico.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	for _, e := range entries {
		if IsRecording(e.Name()) && !before[e.Name()] {
			if err := os.Rename(filepath.Join(dir, e.Name()), filepath.Join(dir, name)); err != nil {
				t.Fatalf("rename: %v", err)
			}
			return
		}
	}
	t.Fatal("new recording not found")
}

func TestArchiver_RunOnce(t *testing.T) {
	dir := t.TempDir()
	writeRecording(t, dir, "2026-01-01T00-00-00.nrp")
	writeRecording(t, dir, "2026-01-02T00-00-00.nrp")
	writeRecording(t, dir, "2026-01-03T00-00-00.nrp")

	up := &fakeUploader{}
	a := NewArchiver(dir, config.ArchiveInfo{KeepLocal: 2}, up, discardLogger())

	if err := a.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(up.uploads) != 3 {
		t.Fatalf("expected 3 uploads, got %d: %v", len(up.uploads), up.uploads)
	}

	// Retenção: só as 2 mais recentes ficam.
	entries, _ := os.ReadDir(dir)
	var left []string
	for _, e := range entries {
		if IsRecording(e.Name()) {
			left = append(left, e.Name())
		}
	}
	if len(left) != 2 {
		t.Fatalf("expected 2 local recordings after rotation, got %v", left)
	}

	// Segundo run: nada novo para subir.
	if err := a.RunOnce(context.Background()); err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if len(up.uploads) != 3 {
		t.Errorf("expected no new uploads, got %v", up.uploads)
	}
}

func TestArchiver_KeepsFailedUploads(t *testing.T) {
	dir := t.TempDir()
	writeRecording(t, dir, "2026-01-01T00-00-00.nrp")
	writeRecording(t, dir, "2026-01-02T00-00-00.nrp")
	writeRecording(t, dir, "2026-01-03T00-00-00.nrp")

	up := &fakeUploader{failOn: "2026-01-01T00-00-00.nrp"}
	a := NewArchiver(dir, config.ArchiveInfo{KeepLocal: 1}, up, discardLogger())

	if err := a.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	// O arquivo que falhou não pode ser descartado pela retenção.
	if _, err := os.Stat(filepath.Join(dir, "2026-01-01T00-00-00.nrp")); err != nil {
		t.Error("recording with failed upload was rotated out")
	}
}
