package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xela07ax/sentinel-gateway/internal/domain"
	"go.uber.org/zap"
)

// Registrar — то, что видят плагины доменов при регистрации.
type Registrar interface {
	Register(spec domain.ExecutorSpec) error
}

// RegisterPluginFn — точка входа плагина домена.
type RegisterPluginFn func(r Registrar) error

// Registry хранит ровно одного исполнителя на домен.
// Записи неизменяемы и никогда не удаляются.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]domain.ExecutorSpec
	logger    *zap.Logger
}

func New(logger *zap.Logger) *Registry {
	return &Registry{
		executors: make(map[string]domain.ExecutorSpec),
		logger:    logger.Named("registry"),
	}
}

// Register валидирует спецификацию и добавляет её. Всё или ничего:
// при любой ошибке реестр не меняется.
func (r *Registry) Register(spec domain.ExecutorSpec) error {
	if err := Validate(spec); err != nil {
		r.logger.Warn("executor rejected",
			zap.String("domain_id", spec.DomainID),
			zap.String("code", domain.DenialCode(err)),
		)
		return err
	}

	stored := spec.Clone()

	// Проверка дубликата и вставка под одной блокировкой
	r.mu.Lock()
	if _, exists := r.executors[spec.DomainID]; exists {
		r.mu.Unlock()
		return domain.Deny(domain.CodeDuplicateExecutor,
			fmt.Sprintf("executor for domain %q already registered", spec.DomainID),
			map[string]any{"domainId": spec.DomainID})
	}
	r.executors[spec.DomainID] = stored
	r.mu.Unlock()

	r.logger.Info("executor registered",
		zap.String("domain_id", spec.DomainID),
		zap.String("executor_id", spec.ExecutorID),
	)
	return nil
}

// Get возвращает копию спецификации домена.
func (r *Registry) Get(domainID string) (domain.ExecutorSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.executors[domainID]
	if !ok {
		return domain.ExecutorSpec{}, false
	}
	return spec.Clone(), true
}

// ListDomains — зарегистрированные домены в лексикографическом порядке.
func (r *Registry) ListDomains() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.executors))
	for id := range r.executors {
		out = append(out, id)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Load подключает плагины по очереди. Первая ошибка останавливает загрузку.
func (r *Registry) Load(plugins ...RegisterPluginFn) error {
	for _, p := range plugins {
		if err := p(r); err != nil {
			return err
		}
	}
	return nil
}
