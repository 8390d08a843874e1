package viewrecord

import (
	"context"
	"errors"
	"time"

	"github.com/casaway/stories-service/internal/domain"
)

var ErrNotFound = errors.New("view record not found")
var ErrCannotCreate = errors.New("error create view record")

type Repository interface {
	GetByStoryAndViewer(ctx context.Context, storyID, viewerID string) (*domain.ViewRecord, error)
	ListByViewer(ctx context.Context, viewerID string) ([]*domain.ViewRecord, error)
	Create(ctx context.Context, record domain.ViewRecord) error
	CleanupOldRecords(ctx context.Context, olderThan time.Duration) (int64, error)
}
