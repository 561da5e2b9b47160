package soundmap

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ghalamif/SoundMap/internal/adapters/wav"
)

func writeContainer(t *testing.T, payload int, finalize bool) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jo_1.wav")
	w, err := wav.Create(path, wav.DefaultFormat())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := w.Write(make([]byte, payload)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if finalize {
		if err := wav.Finalize(path); err != nil {
			t.Fatalf("finalize: %v", err)
		}
	}
	return path
}

func TestInspectFinalizedContainer(t *testing.T) {
	// one second of 44.1 kHz 16-bit stereo
	path := writeContainer(t, 176400, true)

	info, err := InspectContainer(path)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if info.SampleRate != 44100 || info.Channels != 2 || info.BitDepth != 16 {
		t.Fatalf("unexpected format %+v", info)
	}
	if info.DataBytes != 176400 || info.Duration != time.Second {
		t.Fatalf("unexpected payload %d bytes / %s", info.DataBytes, info.Duration)
	}
	if !info.Finalized {
		t.Fatalf("expected finalized container")
	}
}

func TestInspectPlaceholderContainer(t *testing.T) {
	path := writeContainer(t, 400, false)

	info, err := InspectContainer(path)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if info.Finalized {
		t.Fatalf("placeholder sizes should not count as finalized")
	}
	if info.DataBytes != 400 {
		t.Fatalf("expected 400 data bytes, got %d", info.DataBytes)
	}
}

func TestInspectRejectsNonContainers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, make([]byte, 64), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := InspectContainer(path); !errors.Is(err, ErrContainerIO) {
		t.Fatalf("expected ErrContainerIO, got %v", err)
	}
	if _, err := InspectContainer(filepath.Join(t.TempDir(), "missing.wav")); !errors.Is(err, ErrContainerIO) {
		t.Fatalf("expected ErrContainerIO for a missing file, got %v", err)
	}
}
