package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/recrutai/engage-server-go/internal/config"
	apperrors "github.com/recrutai/engage-server-go/internal/errors"
	"github.com/recrutai/engage-server-go/internal/service"
)

type Sweeper interface {
	Sweep(ctx context.Context) (*service.SweepResult, error)
}

// SweepJob periodically delivers due queued messages.
type SweepJob struct {
	queue    Sweeper
	interval time.Duration
	ticker   *ticker
}

func NewSweepJob(queue Sweeper, interval time.Duration) *SweepJob {
	j := &SweepJob{queue: queue, interval: interval}
	j.ticker = newTicker("sweep", interval, config.SweepJobTimeout, j.sweep)
	return j
}

func (j *SweepJob) Start() { j.ticker.start() }

func (j *SweepJob) Stop() { j.ticker.stop() }

func (j *SweepJob) sweep(ctx context.Context) {
	result, err := j.queue.Sweep(ctx)
	if apperrors.HasCode(err, apperrors.ErrCodeSweepInProgress) {
		log.Debug().Msg("sweep already running, skipping tick")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("scheduled sweep failed")
		return
	}
	if result.Processed > 0 || result.Reclaimed > 0 {
		log.Info().
			Int("sent", result.Sent).
			Int("retried", result.Retried).
			Int("failed", result.Failed).
			Int64("reclaimed", result.Reclaimed).
			Msg("scheduled sweep delivered messages")
	}
}
