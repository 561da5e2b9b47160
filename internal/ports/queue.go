package ports

import "github.com/ghalamif/SoundMap/internal/domain"

type UploadQueue interface {
	Enqueue(job *domain.UploadJob) bool
	DequeueBatch(max int) []*domain.UploadJob
	Len() int
}
