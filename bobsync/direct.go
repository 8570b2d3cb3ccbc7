package bobsync

import (
	"context"
	"time"

	"github.com/mmdatafocus/bobsync_backend/config"
	"github.com/mmdatafocus/bobsync_backend/utils"
)

// ChunkDirectProcessor is the fallback driver for environments without a
// push subscription, and the safety net when a publish is lost: it ticks
// at the chunk interval and runs a chunk whenever a batch state exists.
// Safe to run alongside push delivery, the chunk lock serialises them.
type ChunkDirectProcessor struct {
	Orchestrator *Orchestrator
	Interval     time.Duration

	stop chan struct{}
}

func NewChunkDirectProcessor(orchestrator *Orchestrator) *ChunkDirectProcessor {
	seconds := utils.IntFromEnv("BOB_CHUNK_INTERVAL_SECONDS", 60)
	if seconds < 1 {
		seconds = 1
	}
	return &ChunkDirectProcessor{
		Orchestrator: orchestrator,
		Interval:     time.Duration(seconds) * time.Second,
		stop:         make(chan struct{}),
	}
}

func (p *ChunkDirectProcessor) Start(ctx context.Context) {
	if !utils.EnvBoolDefault("ENABLE_BOB_DIRECT_PROCESSOR", true) {
		config.GetLogger().Info("bobsync: direct chunk processor disabled")
		return
	}
	go p.loop(ctx)
}

func (p *ChunkDirectProcessor) Stop() {
	close(p.stop)
}

func (p *ChunkDirectProcessor) loop(ctx context.Context) {
	logger := config.GetLogger()
	logger.WithField("interval", p.Interval.String()).Info("bobsync: direct chunk processor started")

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			if _, active, err := p.Orchestrator.ActiveState(ctx); err != nil || !active {
				continue
			}
			if err := p.Orchestrator.RunChunk(ctx); err != nil {
				logger.WithError(err).Error("bobsync: direct chunk failed")
			}
		}
	}
}
