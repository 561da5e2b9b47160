package soundmap

import (
	"fmt"
	"os"
	"time"

	"github.com/ghalamif/SoundMap/internal/adapters/wav"
	"github.com/ghalamif/SoundMap/internal/domain"
)

// ContainerInfo describes a recorded WAV container on disk.
type ContainerInfo struct {
	Path       string        `json:"path"`
	SampleRate uint32        `json:"sample_rate"`
	Channels   uint16        `json:"channels"`
	BitDepth   uint16        `json:"bit_depth"`
	DataBytes  int64         `json:"data_bytes"`
	Duration   time.Duration `json:"duration"`
	// Finalized is false while the header still carries the zero placeholder
	// sizes or when they disagree with the file length.
	Finalized bool `json:"finalized"`
}

// InspectContainer decodes the header of the container at path and checks its
// size fields against the file length.
func InspectContainer(path string) (ContainerInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return ContainerInfo{}, fmt.Errorf("%w: open %s: %v", domain.ErrContainerIO, path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return ContainerInfo{}, fmt.Errorf("%w: stat %s: %v", domain.ErrContainerIO, path, err)
	}
	hdr, err := wav.ReadHeader(f)
	if err != nil {
		return ContainerInfo{}, fmt.Errorf("%w: %s: %v", domain.ErrContainerIO, path, err)
	}

	data := stat.Size() - wav.HeaderSize
	info := ContainerInfo{
		Path:       path,
		SampleRate: hdr.SampleRate,
		Channels:   hdr.NumChannels,
		BitDepth:   hdr.BitsPerSample,
		DataBytes:  data,
		Finalized:  hdr.Subchunk2Size != 0 && int64(hdr.Subchunk2Size) == data && int64(hdr.ChunkSize) == stat.Size()-8,
	}
	if hdr.ByteRate > 0 {
		info.Duration = time.Duration(float64(data) / float64(hdr.ByteRate) * float64(time.Second))
	}
	return info, nil
}
