package audit

/*
AgentFS — асинхронная доставка копий аудита в долговременное хранилище.

Журнал в памяти (Logger) остаётся источником истины, AgentFS только
переносит события в Postgres пачками:
- Log не блокирует горячий путь: при переполнении буфера событие сбрасывается
  (load shedding) с записью в лог ошибки.
- Воркер пишет пачку при достижении batchSize или по таймеру.
- Stop закрывает вход и дожидается финального flush (drain).
*/

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически будут сохраняться события.
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []AuditEvent) error
}

type Option func(*AgentFS)

func WithBufferSize(n int) Option {
	return func(fs *AgentFS) {
		if n > 0 {
			fs.bufferSize = n
		}
	}
}

func WithBatchSize(n int) Option {
	return func(fs *AgentFS) {
		if n > 0 {
			fs.batchSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(fs *AgentFS) {
		if d > 0 {
			fs.flushInterval = d
		}
	}
}

// WithFillObserver — колбэк заполненности буфера (для метрики backpressure).
func WithFillObserver(fn func(n int)) Option {
	return func(fs *AgentFS) { fs.observeFill = fn }
}

type AgentFS struct {
	ch   chan AuditEvent
	repo StorageInterface

	bufferSize    int
	batchSize     int
	flushInterval time.Duration
	observeFill   func(n int)

	// closed защищён mu: Log держит RLock на время отправки, Stop берёт Lock
	// перед close(ch), поэтому отправки в закрытый канал не бывает.
	mu     sync.RWMutex
	closed bool

	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewAgentFS(repo StorageInterface, logger *zap.Logger, opts ...Option) *AgentFS {
	fs := &AgentFS{
		repo:          repo,
		bufferSize:    10000,
		batchSize:     100,
		flushInterval: 500 * time.Millisecond,
		observeFill:   func(int) {},
		logger:        logger.With(zap.String("mod", "agentfs")),
	}
	for _, o := range opts {
		o(fs)
	}
	fs.ch = make(chan AuditEvent, fs.bufferSize)
	return fs
}

func (fs *AgentFS) Start() {
	fs.wg.Add(1)
	go fs.worker()
}

// Stop «запирает» вход и ждёт, пока воркер всё допишет.
func (fs *AgentFS) Stop() {
	fs.mu.Lock()
	if fs.closed {
		fs.mu.Unlock()
		return
	}
	fs.closed = true
	close(fs.ch)
	fs.mu.Unlock()

	fs.logger.Info("stopping auditor: flushing buffer...")
	fs.wg.Wait()
	fs.logger.Info("auditor stopped gracefully")
}

func (fs *AgentFS) Log(event AuditEvent) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.closed {
		fs.logger.Warn("audit event dropped: auditor is stopping", zap.String("id", event.ID))
		return
	}

	select {
	case fs.ch <- event:
		fs.observeFill(len(fs.ch))
	default:
		fs.logger.Error("audit_buffer_overflow",
			zap.String("id", event.ID),
			zap.String("trace_id", event.TraceID),
		)
	}
}

func (fs *AgentFS) worker() {
	defer fs.wg.Done()

	batch := make([]AuditEvent, 0, fs.batchSize)
	ticker := time.NewTicker(fs.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: контекст запроса к этому моменту уже закрыт
		if err := fs.repo.WriteBatch(context.Background(), batch); err != nil {
			fs.logger.Error("audit flush failed", zap.Int("size", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
		fs.observeFill(len(fs.ch))
	}

	for {
		select {
		case event, ok := <-fs.ch:
			if !ok {
				flush() // финальный сброс
				fs.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= fs.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
