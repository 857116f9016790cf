package redislivestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/assetvault/custodyd/internal/core/ports"
	"github.com/redis/go-redis/v9"
)

var errAlreadyRegistered = errors.New("monitor already registered")

type monitorRegistry struct {
	rdb          *redis.Client
	numOfRetries int
	retryDelay   time.Duration
	ttl          time.Duration
}

func NewMonitorRegistry(
	rdb *redis.Client, numOfRetries int, ttl time.Duration,
) ports.MonitorRegistry {
	return &monitorRegistry{
		rdb:          rdb,
		numOfRetries: numOfRetries,
		retryDelay:   10 * time.Millisecond,
		ttl:          ttl,
	}
}

func (m *monitorRegistry) Register(ctx context.Context, taskId string) (bool, error) {
	if taskId == "" {
		return false, fmt.Errorf("missing task id")
	}
	key := monitorKey(taskId)

	var err error
	for range m.numOfRetries {
		err = m.rdb.Watch(ctx, func(tx *redis.Tx) error {
			exists, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if exists > 0 {
				return errAlreadyRegistered
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, time.Now().Unix(), m.ttl)
				pipe.SAdd(ctx, activeMonitorsKey, taskId)
				return nil
			})
			return err
		}, key)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, errAlreadyRegistered) {
			return false, nil
		}
		time.Sleep(m.retryDelay)
	}
	return false, fmt.Errorf(
		"failed to register monitor for task %s after max number of retries: %v", taskId, err,
	)
}

func (m *monitorRegistry) Deregister(ctx context.Context, taskId string) error {
	_, err := m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, monitorKey(taskId))
		pipe.SRem(ctx, activeMonitorsKey, taskId)
		return nil
	})
	return err
}

func (m *monitorRegistry) IsActive(ctx context.Context, taskId string) (bool, error) {
	exists, err := m.rdb.Exists(ctx, monitorKey(taskId)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// Count prunes the registrations that expired without being deregistered.
func (m *monitorRegistry) Count(ctx context.Context) (int, error) {
	taskIds, err := m.rdb.SMembers(ctx, activeMonitorsKey).Result()
	if err != nil {
		return -1, err
	}
	if len(taskIds) == 0 {
		return 0, nil
	}

	cmds, err := m.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, taskId := range taskIds {
			pipe.Exists(ctx, monitorKey(taskId))
		}
		return nil
	})
	if err != nil {
		return -1, err
	}

	count := 0
	expired := make([]interface{}, 0)
	for i, cmd := range cmds {
		if cmd.(*redis.IntCmd).Val() > 0 {
			count++
			continue
		}
		expired = append(expired, taskIds[i])
	}
	if len(expired) > 0 {
		if err := m.rdb.SRem(ctx, activeMonitorsKey, expired...).Err(); err != nil {
			return -1, err
		}
	}
	return count, nil
}

func monitorKey(taskId string) string {
	return fmt.Sprintf("%s:%s", monitorKeyPrefix, taskId)
}
