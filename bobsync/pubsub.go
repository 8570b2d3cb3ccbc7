package bobsync

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"

	"github.com/mmdatafocus/bobsync_backend/config"
	"github.com/mmdatafocus/bobsync_backend/utils"
)

func syncTopicName() string {
	name := strings.TrimSpace(os.Getenv("BOB_SYNC_TOPIC"))
	if name == "" {
		name = "bob-sync"
	}
	return name
}

// PubSubScheduler triggers the next chunk by publishing to the sync topic;
// the push subscription delivers it back to /pubsub/bob-sync. Delivery is
// at-least-once, the chunk lock absorbs duplicates.
type PubSubScheduler struct{}

func (PubSubScheduler) ScheduleNext(ctx context.Context, runId uint) error {
	topicName := syncTopicName()

	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topic := client.Topic(topicName)
	if utils.EnvBoolDefault("BOB_SYNC_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(client, topicName)
		if err != nil {
			return err
		}
	}

	data, _ := json.Marshal(ChunkPubSubPayload{RunId: runId})
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// PubSubPushHandler accepts a push delivery and runs one chunk. Always 204:
// a non-2xx would make Pub/Sub redeliver, and a chunk failure is either
// recorded on the run already or will be retried by the fallback ticker.
func PubSubPushHandler(orchestrator *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !utils.EnvBoolDefault("ENABLE_BOB_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var payload ChunkPubSubPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(204)
			return
		}
		if payload.RunId == 0 {
			c.Status(204)
			return
		}

		if err := orchestrator.RunChunk(c.Request.Context()); err != nil {
			config.LogError(config.GetLogger(), "pubsub.go", "PubSubPushHandler", "Running chunk", payload.RunId, err)
		}
		c.Status(204)
	}
}
