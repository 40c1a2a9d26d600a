package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/recrutai/engage-server-go/internal/config"
)

type Purger interface {
	PurgeOld(ctx context.Context, olderThanDays int) (int64, error)
}

// RetentionJob deletes sent messages older than the retention horizon.
type RetentionJob struct {
	queue    Purger
	days     int
	interval time.Duration
	ticker   *ticker
}

func NewRetentionJob(queue Purger, days int, interval time.Duration) *RetentionJob {
	j := &RetentionJob{queue: queue, days: days, interval: interval}
	j.ticker = newTicker("retention", interval, 30*time.Second, j.purge)
	return j
}

func NewDailyRetentionJob(queue Purger, days int) *RetentionJob {
	return NewRetentionJob(queue, days, config.RetentionJobInterval)
}

func (j *RetentionJob) Start() { j.ticker.start() }

func (j *RetentionJob) Stop() { j.ticker.stop() }

func (j *RetentionJob) purge(ctx context.Context) {
	count, err := j.queue.PurgeOld(ctx, j.days)
	if err != nil {
		log.Error().Err(err).Msg("failed to purge sent messages")
	} else if count > 0 {
		log.Info().Int64("count", count).Int("retentionDays", j.days).Msg("purged sent messages")
	}
}
