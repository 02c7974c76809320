package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/sentinel-gateway/internal/domain"
	"github.com/xela07ax/sentinel-gateway/internal/infra"
	"go.uber.org/zap"
)

// KillSwitchManager — иерархия рубильников global > domain > agent.
// Память процесса — источник истины; Redis (если есть) разносит изменения
// по остальным инстансам шлюза и переживает рестарт.
type KillSwitchManager struct {
	mu     sync.RWMutex
	states map[string]domain.KillSwitchState
	// Ключи, которые не удалось записать в Redis; дописываются при ресинке
	dirty map[string]struct{}

	rdb        redis.UniversalClient
	instanceID string
	metrics    *Metrics
	now        func() time.Time
	logger     *zap.Logger
}

// killSwitchSignal — сообщение в канале рубильников.
type killSwitchSignal struct {
	Origin string                 `json:"origin"`
	State  domain.KillSwitchState `json:"state"`
}

func NewKillSwitchManager(rdb redis.UniversalClient, metrics *Metrics, logger *zap.Logger) *KillSwitchManager {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &KillSwitchManager{
		states:     make(map[string]domain.KillSwitchState),
		dirty:      make(map[string]struct{}),
		rdb:        rdb,
		instanceID: uuid.New().String(),
		metrics:    metrics,
		now:        time.Now,
		logger:     logger.Named("killswitch"),
	}
}

// Activate включает рубильник. Повторная активация перезаписывает запись
// и стирает данные о снятии.
func (m *KillSwitchManager) Activate(ctx context.Context, level domain.KillSwitchLevel, target, reason, by string) (domain.KillSwitchState, error) {
	target, err := normalizeTarget(level, target)
	if err != nil {
		return domain.KillSwitchState{}, err
	}

	state := domain.KillSwitchState{
		Level:       level,
		TargetID:    target,
		Status:      domain.SwitchSuspended,
		Reason:      reason,
		SuspendedBy: by,
		SuspendedAt: m.now().UTC(),
	}

	m.mu.Lock()
	m.states[state.Key()] = state
	m.mu.Unlock()

	m.logger.Warn("kill switch activated",
		zap.String("level", string(level)),
		zap.String("target", target),
		zap.String("by", by),
		zap.String("reason", reason),
	)
	m.observe()
	m.propagate(ctx, state)
	return state, nil
}

// Deactivate снимает рубильник. Если записи никогда не было — (zero, false).
func (m *KillSwitchManager) Deactivate(ctx context.Context, level domain.KillSwitchLevel, target, by string) (domain.KillSwitchState, bool, error) {
	target, err := normalizeTarget(level, target)
	if err != nil {
		return domain.KillSwitchState{}, false, err
	}

	key := domain.KillSwitchKey(level, target)

	m.mu.Lock()
	state, ok := m.states[key]
	if !ok {
		m.mu.Unlock()
		return domain.KillSwitchState{}, false, nil
	}
	resumedAt := m.now().UTC()
	state.Status = domain.SwitchActive
	state.ResumedBy = by
	state.ResumedAt = &resumedAt
	m.states[key] = state
	m.mu.Unlock()

	m.logger.Info("kill switch deactivated",
		zap.String("level", string(level)),
		zap.String("target", target),
		zap.String("by", by),
	)
	m.observe()
	m.propagate(ctx, state)
	return state, true, nil
}

// IsActive — рубильник существует и находится в состоянии suspended.
func (m *KillSwitchManager) IsActive(level domain.KillSwitchLevel, target string) bool {
	st, ok := m.State(level, target)
	return ok && st.Suspended()
}

func (m *KillSwitchManager) State(level domain.KillSwitchLevel, target string) (domain.KillSwitchState, bool) {
	if level == domain.LevelGlobal && target == "" {
		target = domain.GlobalTarget
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[domain.KillSwitchKey(level, target)]
	return st, ok
}

// CheckAgent проверяет уровни сверху вниз и возвращает первый сработавший.
func (m *KillSwitchManager) CheckAgent(agentID, domainID string) domain.CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if st, ok := m.states[domain.KillSwitchKey(domain.LevelGlobal, domain.GlobalTarget)]; ok && st.Suspended() {
		return domain.CheckResult{Message: "Global kill switch active: " + st.Reason, State: &st}
	}
	if domainID != "" {
		if st, ok := m.states[domain.KillSwitchKey(domain.LevelDomain, domainID)]; ok && st.Suspended() {
			return domain.CheckResult{Message: fmt.Sprintf("Domain '%s' suspended: %s", domainID, st.Reason), State: &st}
		}
	}
	if st, ok := m.states[domain.KillSwitchKey(domain.LevelAgent, agentID)]; ok && st.Suspended() {
		return domain.CheckResult{Message: fmt.Sprintf("Agent '%s' suspended: %s", agentID, st.Reason), State: &st}
	}
	return domain.CheckResult{Success: true, Message: "No kill switches active"}
}

// Status — сводка по активным рубильникам.
func (m *KillSwitchManager) Status() domain.KillSwitchReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r := domain.KillSwitchReport{SuspendedDomains: []string{}, SuspendedAgents: []string{}}
	for _, st := range m.states {
		if !st.Suspended() {
			continue
		}
		r.TotalActive++
		switch st.Level {
		case domain.LevelGlobal:
			r.GlobalActive = true
		case domain.LevelDomain:
			r.SuspendedDomains = append(r.SuspendedDomains, st.TargetID)
		case domain.LevelAgent:
			r.SuspendedAgents = append(r.SuspendedAgents, st.TargetID)
		}
	}
	sort.Strings(r.SuspendedDomains)
	sort.Strings(r.SuspendedAgents)
	return r
}

// All — все записи, включая снятые, по ключу.
func (m *KillSwitchManager) All() []domain.KillSwitchState {
	m.mu.RLock()
	out := make([]domain.KillSwitchState, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Init загружает состояние рубильников из Redis при старте сервиса.
func (m *KillSwitchManager) Init(ctx context.Context) error {
	if m.rdb == nil {
		return nil
	}

	// Сначала дописываем то, что было включено/снято без Redis
	m.flushDirty(ctx)

	raw, err := m.rdb.HGetAll(ctx, infra.RedisKeyKillSwitchStates).Result()
	if err != nil {
		return fmt.Errorf("load kill switch states: %w", err)
	}

	loaded := make(map[string]domain.KillSwitchState, len(raw))
	for key, val := range raw {
		var st domain.KillSwitchState
		if err := json.Unmarshal([]byte(val), &st); err != nil {
			m.logger.Error("skip corrupt kill switch state", zap.String("key", key), zap.Error(err))
			continue
		}
		loaded[st.Key()] = st
	}

	applied := 0
	m.mu.Lock()
	for k, st := range loaded {
		if m.mergeLocked(k, st) {
			applied++
		}
	}
	m.mu.Unlock()

	m.logger.Info("kill switch state loaded", zap.Int("count", len(loaded)), zap.Int("applied", applied))
	m.observe()
	return nil
}

// StartListener применяет изменения, сделанные другими инстансами.
func (m *KillSwitchManager) StartListener(ctx context.Context) {
	if m.rdb == nil {
		return
	}
	infra.ListenStateResilient(ctx, m.rdb, m.logger, infra.RedisChanKillSwitch, m.Init, m.applySignal)
}

func (m *KillSwitchManager) applySignal(payload string) {
	var sig killSwitchSignal
	if err := json.Unmarshal([]byte(payload), &sig); err != nil {
		m.logger.Error("invalid signal format", zap.String("payload", payload), zap.Error(err))
		return
	}
	if sig.Origin == m.instanceID {
		return
	}
	if !sig.State.Level.Valid() {
		m.logger.Error("invalid kill switch level in signal", zap.String("level", string(sig.State.Level)))
		return
	}

	m.mu.Lock()
	applied := m.mergeLocked(sig.State.Key(), sig.State)
	m.mu.Unlock()
	if !applied {
		m.logger.Debug("stale kill switch signal ignored", zap.String("key", sig.State.Key()))
		return
	}

	m.logger.Info("remote kill switch change applied",
		zap.String("key", sig.State.Key()),
		zap.String("status", string(sig.State.Status)),
	)
	m.observe()
}

// mergeLocked применяет удалённую запись, только если она новее локальной.
// Вызывается под m.mu.
func (m *KillSwitchManager) mergeLocked(key string, remote domain.KillSwitchState) bool {
	if local, ok := m.states[key]; ok && !remote.NewerThan(local) {
		return false
	}
	m.states[key] = remote
	delete(m.dirty, key)
	return true
}

// flushDirty повторяет запись ключей, не дошедших до Redis.
func (m *KillSwitchManager) flushDirty(ctx context.Context) {
	m.mu.RLock()
	pending := make([]domain.KillSwitchState, 0, len(m.dirty))
	for k := range m.dirty {
		if st, ok := m.states[k]; ok {
			pending = append(pending, st)
		}
	}
	m.mu.RUnlock()

	for _, st := range pending {
		m.propagate(ctx, st)
	}
}

// propagate сохраняет запись в Redis и публикует сигнал. Ошибки Redis не
// откатывают локальное состояние: процесс уже применил решение, а ключ
// помечается грязным до следующего ресинка.
func (m *KillSwitchManager) propagate(ctx context.Context, st domain.KillSwitchState) {
	if m.rdb == nil {
		return
	}

	stateJSON, err := json.Marshal(st)
	if err != nil {
		m.logger.Error("marshal kill switch state", zap.Error(err))
		return
	}
	signal, _ := json.Marshal(killSwitchSignal{Origin: m.instanceID, State: st})

	// Запись в Redis не должна зависеть от отмены HTTP-запроса оператора
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()

	r := retry.New(
		retry.Context(pctx),
		retry.Attempts(3),
		retry.Delay(50*time.Millisecond),
	)
	err = r.Do(func() error {
		_, err := m.rdb.Pipelined(pctx, func(p redis.Pipeliner) error {
			p.HSet(pctx, infra.RedisKeyKillSwitchStates, st.Key(), stateJSON)
			p.Publish(pctx, infra.RedisChanKillSwitch, signal)
			return nil
		})
		return err
	})
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.dirty[st.Key()] = struct{}{}
		m.logger.Error("kill switch propagation failed", zap.String("key", st.Key()), zap.Error(err))
		return
	}
	// Запись могла смениться, пока шла отправка
	if cur, ok := m.states[st.Key()]; ok && !cur.NewerThan(st) {
		delete(m.dirty, st.Key())
	}
}

func (m *KillSwitchManager) observe() {
	r := m.Status()
	global := 0.0
	if r.GlobalActive {
		global = 1
	}
	m.metrics.KillSwitchActive.WithLabelValues(string(domain.LevelGlobal)).Set(global)
	m.metrics.KillSwitchActive.WithLabelValues(string(domain.LevelDomain)).Set(float64(len(r.SuspendedDomains)))
	m.metrics.KillSwitchActive.WithLabelValues(string(domain.LevelAgent)).Set(float64(len(r.SuspendedAgents)))
}

func normalizeTarget(level domain.KillSwitchLevel, target string) (string, error) {
	if !level.Valid() {
		return "", domain.Deny(domain.CodeInvalidKillSwitchLevel, fmt.Sprintf("unknown level %q", level), nil)
	}
	if level == domain.LevelGlobal {
		return domain.GlobalTarget, nil
	}
	if target == "" {
		return "", domain.Deny(domain.CodeInvalidKillSwitchLevel, fmt.Sprintf("%s kill switch requires a target", level), nil)
	}
	return target, nil
}
