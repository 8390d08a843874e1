package views

import "context"

// Sink records that the session user has seen a story. Implementations are
// best-effort: the playback engine dispatches calls on their own goroutine,
// logs failures and never retries.
type Sink interface {
	MarkViewed(ctx context.Context, storyID string) error
}
