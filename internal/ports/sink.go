package ports

import "github.com/ghalamif/SoundMap/internal/domain"

// ReadingSink archives finalized readings.
type ReadingSink interface {
	WriteBatch(readings []*domain.Reading) error
	Name() string
}
