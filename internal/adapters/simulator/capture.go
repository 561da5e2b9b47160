package simulator

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"

	"github.com/ghalamif/SoundMap/internal/ports"
)

// ErrNotStarted is returned by Read before Start or after Stop.
var ErrNotStarted = errors.New("simulator: capture not started")

// ToneCapture synthesizes a 16-bit little-endian PCM sine tone.
type ToneCapture struct {
	channels   int
	sampleRate int
	freq       float64
	amplitude  float64

	mu      sync.Mutex
	running bool
	phase   float64
}

func NewToneCapture(channels, sampleRate int, freq float64) *ToneCapture {
	if channels <= 0 {
		channels = 2
	}
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	if freq <= 0 {
		freq = 440
	}
	return &ToneCapture{
		channels:   channels,
		sampleRate: sampleRate,
		freq:       freq,
		amplitude:  0.25 * math.MaxInt16,
	}
}

func (c *ToneCapture) Start() error {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	return nil
}

func (c *ToneCapture) Stop() error {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	return nil
}

// Read fills p with whole frames and returns the number of bytes written.
func (c *ToneCapture) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return 0, ErrNotStarted
	}

	frame := 2 * c.channels
	frames := len(p) / frame
	step := 2 * math.Pi * c.freq / float64(c.sampleRate)
	for i := 0; i < frames; i++ {
		v := int16(c.amplitude * math.Sin(c.phase))
		for ch := 0; ch < c.channels; ch++ {
			binary.LittleEndian.PutUint16(p[i*frame+ch*2:], uint16(v))
		}
		c.phase += step
		if c.phase >= 2*math.Pi {
			c.phase -= 2 * math.Pi
		}
	}
	return frames * frame, nil
}

var _ ports.AudioCapture = (*ToneCapture)(nil)
