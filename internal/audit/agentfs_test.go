package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type memStorage struct {
	mu      sync.Mutex
	batches [][]AuditEvent
	err     error
}

func (m *memStorage) WriteBatch(_ context.Context, events []AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, append([]AuditEvent(nil), events...))
	return m.err
}

func (m *memStorage) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func TestAgentFS_StopDrainsBuffer(t *testing.T) {
	repo := &memStorage{}
	fs := NewAgentFS(repo, zap.NewNop(), WithBatchSize(10), WithFlushInterval(time.Hour))
	fs.Start()

	for i := 0; i < 25; i++ {
		fs.Log(AuditEvent{ID: "e"})
	}
	fs.Stop()

	assert.Equal(t, 25, repo.total())
}

func TestAgentFS_FlushesOnTimer(t *testing.T) {
	repo := &memStorage{}
	fs := NewAgentFS(repo, zap.NewNop(), WithFlushInterval(10*time.Millisecond))
	fs.Start()
	defer fs.Stop()

	fs.Log(AuditEvent{ID: "one"})

	assert.Eventually(t, func() bool { return repo.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestAgentFS_DropsAfterStopAndOnOverflow(t *testing.T) {
	repo := &memStorage{}
	fs := NewAgentFS(repo, zap.NewNop(), WithBufferSize(2))

	// Воркер не запущен: буфер на 2 события, третье сбрасывается
	fs.Log(AuditEvent{ID: "1"})
	fs.Log(AuditEvent{ID: "2"})
	fs.Log(AuditEvent{ID: "3"})

	fs.Start()
	fs.Stop()
	fs.Log(AuditEvent{ID: "late"})
	fs.Stop()

	assert.Equal(t, 2, repo.total())
}

func TestAgentFS_FlushErrorDoesNotStopWorker(t *testing.T) {
	repo := &memStorage{err: errors.New("db down")}
	fs := NewAgentFS(repo, zap.NewNop(), WithBatchSize(1))
	fs.Start()

	fs.Log(AuditEvent{ID: "1"})
	fs.Log(AuditEvent{ID: "2"})
	fs.Stop()

	assert.Equal(t, 2, repo.total())
}
