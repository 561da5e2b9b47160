package ports

import (
	"context"

	"github.com/ghalamif/SoundMap/internal/domain"
)

// Uploader submits a finished container plus its metadata and returns the
// service's reply.
type Uploader interface {
	Upload(ctx context.Context, path, user string, loc domain.GeoPoint) (string, error)
}
