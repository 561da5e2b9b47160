package ports

import (
	"context"

	"github.com/ghalamif/SoundMap/internal/domain"
)

// Coordinator talks to the service that assigns targets and lists peers.
// Errors wrap domain.ErrMalformed, domain.ErrUnreachable or domain.ErrTimeout.
type Coordinator interface {
	RequestTarget(ctx context.Context, user string, pos domain.GeoPoint) (domain.Target, error)
	RequestPeers(ctx context.Context) ([]domain.PeerLocation, error)
}
