package inmemorylivestore

import (
	"context"
	"fmt"
	"sync"

	"github.com/assetvault/custodyd/internal/core/ports"
)

type monitorRegistry struct {
	lock  *sync.RWMutex
	tasks map[string]struct{}
}

func NewMonitorRegistry() ports.MonitorRegistry {
	return &monitorRegistry{
		lock:  &sync.RWMutex{},
		tasks: make(map[string]struct{}),
	}
}

func (m *monitorRegistry) Register(_ context.Context, taskId string) (bool, error) {
	if taskId == "" {
		return false, fmt.Errorf("missing task id")
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.tasks[taskId]; ok {
		return false, nil
	}
	m.tasks[taskId] = struct{}{}
	return true, nil
}

func (m *monitorRegistry) Deregister(_ context.Context, taskId string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.tasks, taskId)
	return nil
}

func (m *monitorRegistry) IsActive(_ context.Context, taskId string) (bool, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	_, ok := m.tasks[taskId]
	return ok, nil
}

func (m *monitorRegistry) Count(_ context.Context) (int, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.tasks), nil
}
