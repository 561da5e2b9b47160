package soundmap

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ghalamif/SoundMap/internal/domain"
)

// ErrChannelSinkClosed is returned when a channel sink is written to after being closed.
var ErrChannelSinkClosed = errors.New("soundmap: channel sink closed")

// ReadingBatchFunc is invoked with every batch of readings the upload worker archives.
type ReadingBatchFunc func([]Reading) error

// NewCallbackSink adapts a ReadingBatchFunc into a full ReadingSink so callers
// can plug arbitrary functions without defining structs.
func NewCallbackSink(name string, fn ReadingBatchFunc) ReadingSink {
	if name == "" {
		name = "callback"
	}
	return &callbackSink{name: name, fn: fn}
}

// NewChannelSink exposes batches via a channel; it returns the sink, the read-only channel,
// and a close function that the caller should invoke during shutdown.
func NewChannelSink(name string, buffer int) (ReadingSink, <-chan []Reading, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan []Reading, buffer)
	s := &channelSink{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return s, ch, func() { s.close() }
}

// NewMultiSink fans every batch out to all sinks. Every sink sees the batch
// even when an earlier one fails; the failures are joined.
func NewMultiSink(sinks ...ReadingSink) ReadingSink {
	var kept []ReadingSink
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return multiSink(kept)
}

type callbackSink struct {
	name string
	fn   ReadingBatchFunc
}

func (s *callbackSink) WriteBatch(readings []*domain.Reading) error {
	if s.fn == nil {
		return fmt.Errorf("callback sink %q: nil handler", s.name)
	}
	if len(readings) == 0 {
		return nil
	}
	return s.fn(copyBatch(readings))
}

func (s *callbackSink) Name() string { return s.name }

type channelSink struct {
	name   string
	ch     chan []Reading
	closed chan struct{}
	once   sync.Once
}

func (s *channelSink) WriteBatch(readings []*domain.Reading) error {
	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	default:
	}

	if len(readings) == 0 {
		return nil
	}

	batch := copyBatch(readings)

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	case s.ch <- batch:
		return nil
	}
}

func (s *channelSink) Name() string { return s.name }

func (s *channelSink) close() {
	s.once.Do(func() {
		close(s.closed)
		close(s.ch)
	})
}

type multiSink []ReadingSink

func (m multiSink) WriteBatch(readings []*domain.Reading) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteBatch(readings); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m multiSink) Name() string {
	names := make([]string, len(m))
	for i, s := range m {
		names[i] = s.Name()
	}
	return "multi(" + strings.Join(names, ",") + ")"
}

// copyBatch detaches the batch from the pipeline's pointers.
func copyBatch(readings []*domain.Reading) []Reading {
	out := make([]Reading, 0, len(readings))
	for _, r := range readings {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}
