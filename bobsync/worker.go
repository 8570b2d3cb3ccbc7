package bobsync

import (
	"context"
	"encoding/json"
	"os"

	"cloud.google.com/go/pubsub"

	"github.com/mmdatafocus/bobsync_backend/config"
	"github.com/mmdatafocus/bobsync_backend/utils"
)

// RunChunkPullWorker subscribes to the sync topic and runs one chunk per
// delivery. It is the pull-mode alternative to the push endpoint for
// deployments without a push subscription. The chunk lock absorbs the
// duplicate deliveries that pull mode produces under redelivery.
func RunChunkPullWorker(orchestrator *Orchestrator) error {
	if !utils.EnvBoolDefault("ENABLE_BOB_PUBSUB_PULL_WORKER", false) {
		return nil
	}

	logger := config.GetLogger()
	ctx := context.Background()

	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(client, syncTopicName())
	if err != nil {
		return err
	}
	sub, err := config.CreateSubscriptionIfNotExists(client, os.Getenv("PUBSUB_SUBSCRIPTION"), topic)
	if err != nil {
		return err
	}
	// Chunks run strictly one at a time; the lock makes extra concurrency useless.
	sub.ReceiveSettings.MaxOutstandingMessages = 1

	callback := func(ctx context.Context, msg *pubsub.Message) {
		var payload ChunkPubSubPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			config.LogError(logger, "worker.go", "RunChunkPullWorker", "Unmarshaling pubsub message", msg.Data, err)
			msg.Ack()
			return
		}
		if err := orchestrator.RunChunk(ctx); err != nil {
			config.LogError(logger, "worker.go", "RunChunkPullWorker", "Running chunk", payload.RunId, err)
		}
		// Always ack: a failed chunk is recorded on the run, and the ticker
		// fallback will pick the state up again.
		msg.Ack()
	}

	go func() {
		if err := sub.Receive(ctx, callback); err != nil {
			config.LogError(logger, "worker.go", "RunChunkPullWorker", "Failed to receive messages", nil, err)
		}
	}()

	return nil
}
