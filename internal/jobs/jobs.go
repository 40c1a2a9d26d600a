package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ticker runs fn immediately and then every interval until stopped.
type ticker struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	fn       func(ctx context.Context)

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

func newTicker(name string, interval, timeout time.Duration, fn func(ctx context.Context)) *ticker {
	return &ticker{
		name:     name,
		interval: interval,
		timeout:  timeout,
		fn:       fn,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (t *ticker) start() {
	go t.run()
	log.Info().Dur("interval", t.interval).Msgf("%s job started", t.name)
}

// stop waits for a run in progress to finish.
func (t *ticker) stop() {
	t.stopOnce.Do(func() {
		close(t.done)
		<-t.stopped
		log.Info().Msgf("%s job stopped", t.name)
	})
}

func (t *ticker) run() {
	defer close(t.stopped)

	tk := time.NewTicker(t.interval)
	defer tk.Stop()

	t.tick()

	for {
		select {
		case <-t.done:
			return
		case <-tk.C:
			t.tick()
		}
	}
}

func (t *ticker) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	t.fn(ctx)
}
