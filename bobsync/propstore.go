package bobsync

import (
	"context"

	"github.com/mmdatafocus/bobsync_backend/config"
)

const (
	batchStateKey = "bob:batch_state"
	batchLockKey  = "bob:batch_lock"
)

// PropertyStore is the durable key/value home of the batch state. The
// Redis implementation is the production one; tests inject a map-backed
// fake.
type PropertyStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}

type redisPropertyStore struct{}

func NewRedisPropertyStore() PropertyStore {
	return redisPropertyStore{}
}

func (redisPropertyStore) Get(_ context.Context, key string) (string, bool, error) {
	value, found, err := config.GetRedisValue(key)
	if err != nil {
		return "", false, &FatalInfrastructureError{Op: "property get", Err: err}
	}
	return value, found, nil
}

func (redisPropertyStore) Set(_ context.Context, key string, value string) error {
	if err := config.SetRedisValue(key, value, 0); err != nil {
		return &FatalInfrastructureError{Op: "property set", Err: err}
	}
	return nil
}

func (redisPropertyStore) Delete(_ context.Context, key string) error {
	if err := config.RemoveRedisKey(key); err != nil {
		return &FatalInfrastructureError{Op: "property delete", Err: err}
	}
	return nil
}
