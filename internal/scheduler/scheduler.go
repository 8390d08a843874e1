package scheduler

import "context"

// Client owns the service's background jobs: keeping the feed snapshot and
// media cache warm, and pruning old view records.
type Client interface {
	ScheduleFeedRefresh(ctx context.Context) error
	ScheduleViewCleanup(ctx context.Context) error
}
