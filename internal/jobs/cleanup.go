package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/whatsdx/bot-platform-go/internal/config"
	"github.com/whatsdx/bot-platform-go/internal/repository"
	"github.com/whatsdx/bot-platform-go/internal/service"
)

// CleanupJob periodically expires stale auth artifacts and sweeps the
// in-memory rate-limit windows.
type CleanupJob struct {
	botRepo  repository.BotInstanceRepository
	windows  []*service.WindowStore
	interval time.Duration
	done     chan struct{}
}

func NewCleanupJob(
	botRepo repository.BotInstanceRepository,
	windows []*service.WindowStore,
	interval time.Duration,
) *CleanupJob {
	return &CleanupJob{
		botRepo:  botRepo,
		windows:  windows,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j.runCleanup(ctx, "stale auth artifacts", func(ctx context.Context) (int64, error) {
		return j.botRepo.ClearStaleArtifacts(ctx, time.Now().Add(-config.AuthArtifactTTL))
	})

	for _, ws := range j.windows {
		if swept := ws.Sweep(); swept > 0 {
			log.Debug().Int("count", swept).Msg("swept rate limit windows")
		}
	}
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
