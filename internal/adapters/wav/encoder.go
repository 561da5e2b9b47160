package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ghalamif/SoundMap/internal/domain"
)

// HeaderSize is the size of the canonical RIFF/WAVE PCM header.
const HeaderSize = 44

// DefaultPayloadLimit caps one recording at 30 MiB of PCM.
const DefaultPayloadLimit = 31_457_280

const (
	chunkSizeOffset     = 4
	subchunk2SizeOffset = 40
)

// ErrPayloadLimit is returned by Write once the payload ceiling is reached.
var ErrPayloadLimit = errors.New("wav: payload limit reached")

// Format is baked into the header at creation time.
type Format struct {
	Channels   uint16 `yaml:"channels"`
	SampleRate uint32 `yaml:"sample_rate"`
	BitDepth   uint16 `yaml:"bit_depth"`
}

// DefaultFormat is 16-bit stereo PCM at 44.1 kHz.
func DefaultFormat() Format {
	return Format{Channels: 2, SampleRate: 44_100, BitDepth: 16}
}

func (f Format) BlockAlign() uint16 { return f.Channels * (f.BitDepth / 8) }
func (f Format) ByteRate() uint32   { return f.SampleRate * uint32(f.BlockAlign()) }

func (f Format) Validate() error {
	if f.Channels == 0 {
		return errors.New("channels must be > 0")
	}
	if f.SampleRate == 0 {
		return errors.New("sample_rate must be > 0")
	}
	if f.BitDepth == 0 || f.BitDepth%8 != 0 {
		return fmt.Errorf("bit_depth %d must be a positive multiple of 8", f.BitDepth)
	}
	return nil
}

// Header is a decoded container header.
type Header struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// placeholderHeader encodes the header with zero ChunkSize and Subchunk2Size.
func placeholderHeader(f Format) [HeaderSize]byte {
	var hdr [HeaderSize]byte
	copy(hdr[0:4], "RIFF")
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], f.Channels)
	binary.LittleEndian.PutUint32(hdr[24:28], f.SampleRate)
	binary.LittleEndian.PutUint32(hdr[28:32], f.ByteRate())
	binary.LittleEndian.PutUint16(hdr[32:34], f.BlockAlign())
	binary.LittleEndian.PutUint16(hdr[34:36], f.BitDepth)
	copy(hdr[36:40], "data")
	return hdr
}

// ReadHeader decodes the first HeaderSize bytes of r.
func ReadHeader(r io.Reader) (Header, error) {
	var h Header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return Header{}, fmt.Errorf("wav read header: %w", err)
	}
	if string(h.ChunkID[:]) != "RIFF" || string(h.Format[:]) != "WAVE" {
		return Header{}, fmt.Errorf("wav read header: not a RIFF/WAVE stream")
	}
	return h, nil
}

// Option customizes a Writer.
type Option func(*Writer)

// WithPayloadLimit caps the PCM payload; limit <= 0 disables the cap.
func WithPayloadLimit(limit int64) Option {
	return func(w *Writer) {
		w.limit = limit
	}
}

// Writer streams PCM into a container whose size fields are patched by
// Finalize once the stream is closed.
type Writer struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	format  Format
	written int64
	limit   int64
	closed  bool
}

// Create opens path and writes the placeholder header.
func Create(path string, f Format, opts ...Option) (*Writer, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("wav format: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", domain.ErrContainerIO, path, err)
	}
	hdr := placeholderHeader(f)
	if _, err := file.Write(hdr[:]); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: write header: %v", domain.ErrContainerIO, err)
	}

	w := &Writer{path: path, file: file, format: f, limit: DefaultPayloadLimit}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// Write appends p verbatim. Once the payload limit is hit the remainder of p
// is dropped and ErrPayloadLimit returned.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, fmt.Errorf("%w: write on closed container", domain.ErrContainerIO)
	}

	chunk := p
	truncated := false
	if w.limit > 0 && w.written+int64(len(p)) > w.limit {
		chunk = p[:w.limit-w.written]
		truncated = true
	}

	n, err := w.file.Write(chunk)
	w.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("%w: append: %v", domain.ErrContainerIO, err)
	}
	if truncated {
		return n, ErrPayloadLimit
	}
	return n, nil
}

// Written reports the number of payload bytes appended so far.
func (w *Writer) Written() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

func (w *Writer) Path() string { return w.path }

func (w *Writer) Format() Format { return w.format }

// Close closes the stream. The header still holds placeholders until Finalize.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", domain.ErrContainerIO, err)
	}
	return nil
}

// Discard closes the stream and deletes the file.
func (w *Writer) Discard() error {
	closeErr := w.Close()
	if err := os.Remove(w.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Join(closeErr, fmt.Errorf("%w: remove: %v", domain.ErrContainerIO, err))
	}
	return closeErr
}

// Finalize patches ChunkSize and Subchunk2Size in a closed container. Only
// the two 4-byte fields at offsets 4 and 40 are rewritten.
func Finalize(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("%w: reopen %s: %v", domain.ErrContainerIO, path, err)
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: stat: %v", domain.ErrContainerIO, err)
	}
	size := stat.Size()
	if size < HeaderSize {
		_ = f.Close()
		return fmt.Errorf("%w: %s is %d bytes, shorter than a header", domain.ErrContainerIO, path, size)
	}
	if size-8 > int64(^uint32(0)) {
		_ = f.Close()
		return fmt.Errorf("%w: %s is too large for a RIFF header", domain.ErrContainerIO, path)
	}

	var field [4]byte
	binary.LittleEndian.PutUint32(field[:], uint32(size-8))
	if _, err := f.WriteAt(field[:], chunkSizeOffset); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: patch chunk size: %v", domain.ErrContainerIO, err)
	}
	binary.LittleEndian.PutUint32(field[:], uint32(size-HeaderSize))
	if _, err := f.WriteAt(field[:], subchunk2SizeOffset); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: patch data size: %v", domain.ErrContainerIO, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close after patch: %v", domain.ErrContainerIO, err)
	}
	return nil
}
