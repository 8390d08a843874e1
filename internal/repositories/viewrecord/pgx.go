package viewrecord

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/casaway/stories-service/internal/domain"
	"github.com/casaway/stories-service/internal/repositories"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func NewPgx(pg *pgxpool.Pool) *Pgx {
	return &Pgx{
		pg: pg,
	}
}

var _ Repository = (*Pgx)(nil)

type Pgx struct {
	pg *pgxpool.Pool
}

func (p *Pgx) GetByStoryAndViewer(ctx context.Context, storyID, viewerID string) (*domain.ViewRecord, error) {
	query, args, err := repositories.SqBuilder.
		Select("id", "story_id", "viewer_id", "viewed_at").
		From("story_views").
		Where(sq.Eq{"story_id": storyID, "viewer_id": viewerID}).
		ToSql()
	if err != nil {
		return nil, repositories.ErrBadQuery
	}

	var record domain.ViewRecord
	err = p.pg.QueryRow(ctx, query, args...).Scan(&record.ID, &record.StoryID, &record.ViewerID, &record.ViewedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &record, nil
}

func (p *Pgx) ListByViewer(ctx context.Context, viewerID string) ([]*domain.ViewRecord, error) {
	query, args, err := repositories.SqBuilder.
		Select("id", "story_id", "viewer_id", "viewed_at").
		From("story_views").
		Where(sq.Eq{"viewer_id": viewerID}).
		OrderBy("viewed_at DESC").
		ToSql()
	if err != nil {
		return nil, repositories.ErrBadQuery
	}

	rows, err := p.pg.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query view records: %w", err)
	}
	defer rows.Close()

	var records []*domain.ViewRecord
	for rows.Next() {
		var record domain.ViewRecord
		if err := rows.Scan(&record.ID, &record.StoryID, &record.ViewerID, &record.ViewedAt); err != nil {
			return nil, fmt.Errorf("failed to scan view record row: %w", err)
		}
		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating view record rows: %w", err)
	}

	return records, nil
}

func (p *Pgx) Create(ctx context.Context, record domain.ViewRecord) error {
	viewedAt := record.ViewedAt
	if viewedAt.IsZero() {
		viewedAt = time.Now()
	}

	query, args, err := repositories.SqBuilder.
		Insert("story_views").
		Columns("story_id", "viewer_id", "viewed_at").
		Values(record.StoryID, record.ViewerID, viewedAt).
		Suffix("ON CONFLICT (story_id, viewer_id) DO NOTHING").
		ToSql()
	if err != nil {
		return repositories.ErrBadQuery
	}

	_, err = p.pg.Exec(ctx, query, args...)
	if err != nil {
		return errors.Join(err, ErrCannotCreate)
	}

	return nil
}

func (p *Pgx) CleanupOldRecords(ctx context.Context, olderThan time.Duration) (int64, error) {
	query, args, err := repositories.SqBuilder.
		Delete("story_views").
		Where(sq.Lt{"viewed_at": time.Now().Add(-olderThan)}).
		ToSql()
	if err != nil {
		return 0, repositories.ErrBadQuery
	}

	tag, err := p.pg.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up view records: %w", err)
	}

	return tag.RowsAffected(), nil
}
