package connectors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	RegistrySchema = "artifact-registry.v1"
	ReadByIDSchema = "artifact-registry.readById.v1"
	SearchSchema   = "artifact-registry.search.v1"
	WriteSchema    = "artifact-registry.write.v1"
)

// Registry — содержимое файла data/artifacts.<tenant>.json.
type Registry struct {
	Schema      string           `json:"schema"`
	Tenant      string           `json:"tenant"`
	GeneratedAt string           `json:"generatedAt"`
	Artifacts   []map[string]any `json:"artifacts"`
}

// ArtifactStore читает и пишет реестры артефактов арендаторов.
// Каждый арендатор — отдельный JSON-файл в каталоге dir.
type ArtifactStore struct {
	dir     string
	tenants map[string]struct{}
	// Запись в файл реестра — одна за раз на весь стор
	writeMu sync.Mutex
	now     func() time.Time
	logger  *zap.Logger
}

func NewArtifactStore(dir string, tenants []string, logger *zap.Logger) *ArtifactStore {
	set := make(map[string]struct{}, len(tenants))
	for _, t := range tenants {
		set[t] = struct{}{}
	}
	return &ArtifactStore{
		dir:     dir,
		tenants: set,
		now:     time.Now,
		logger:  logger.Named("artifacts"),
	}
}

func (s *ArtifactStore) path(tenant string) string {
	return filepath.Join(s.dir, "artifacts."+tenant+".json")
}

// Read загружает реестр арендатора и заполняет пропущенные поля.
// Отсутствующий файл — пустой реестр.
func (s *ArtifactStore) Read(tenant string) (Registry, error) {
	if _, ok := s.tenants[tenant]; !ok {
		return Registry{}, fmt.Errorf("unknown tenant: %s", tenant)
	}

	var file struct {
		Schema      string `json:"schema"`
		Tenant      string `json:"tenant"`
		GeneratedAt string `json:"generatedAt"`
		Artifacts   any    `json:"artifacts"`
	}
	raw, err := os.ReadFile(s.path(tenant))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Warn("registry file not found", zap.String("tenant", tenant))
	case err != nil:
		return Registry{}, fmt.Errorf("read registry %s: %w", tenant, err)
	default:
		if err := json.Unmarshal(raw, &file); err != nil {
			return Registry{}, fmt.Errorf("decode registry %s: %w", tenant, err)
		}
	}

	reg := Registry{Schema: file.Schema, Tenant: file.Tenant, GeneratedAt: file.GeneratedAt}
	// Не массив — пустой реестр; элементы, не являющиеся объектами, пропускаем
	if list, ok := file.Artifacts.([]any); ok {
		for _, item := range list {
			if a, ok := item.(map[string]any); ok {
				reg.Artifacts = append(reg.Artifacts, a)
			}
		}
	}

	if reg.Schema == "" {
		reg.Schema = RegistrySchema
	}
	if reg.Tenant == "" {
		reg.Tenant = tenant
	}
	if reg.GeneratedAt == "" {
		reg.GeneratedAt = s.now().UTC().Format(time.RFC3339Nano)
	}
	if reg.Artifacts == nil {
		reg.Artifacts = []map[string]any{}
	}
	return reg, nil
}

// Find ищет артефакт по точному совпадению id.
func (s *ArtifactStore) Find(tenant, id string) (map[string]any, error) {
	reg, err := s.Read(tenant)
	if err != nil {
		return nil, err
	}
	for _, a := range reg.Artifacts {
		if v, ok := a["id"].(string); ok && v == id {
			return a, nil
		}
	}
	return nil, nil
}

// Search — подстрочный поиск по JSON-представлению артефакта без учёта
// регистра. Пустой запрос возвращает все артефакты.
func (s *ArtifactStore) Search(tenant, q string, limit int) ([]map[string]any, error) {
	reg, err := s.Read(tenant)
	if err != nil {
		return nil, err
	}

	qq := strings.ToLower(strings.TrimSpace(q))
	hits := make([]map[string]any, 0, len(reg.Artifacts))
	for _, a := range reg.Artifacts {
		if qq != "" {
			raw, err := json.Marshal(a)
			if err != nil || !strings.Contains(strings.ToLower(string(raw)), qq) {
				continue
			}
		}
		hits = append(hits, a)
		if limit > 0 && len(hits) == limit {
			break
		}
	}
	return hits, nil
}

// ErrArtifactExists — артефакт с таким id уже есть в реестре.
var ErrArtifactExists = errors.New("artifact already exists")

// Append дописывает артефакт в реестр арендатора. Если запись уже идёт,
// возвращает ThrottleError, чтобы шлюз повторил вызов.
func (s *ArtifactStore) Append(tenant string, artifact map[string]any) (Registry, error) {
	if !s.writeMu.TryLock() {
		return Registry{}, &ThrottleError{RetryAfter: 25 * time.Millisecond, Cause: ErrRegistryBusy}
	}
	defer s.writeMu.Unlock()

	reg, err := s.Read(tenant)
	if err != nil {
		return Registry{}, err
	}

	id, _ := artifact["id"].(string)
	for _, a := range reg.Artifacts {
		if v, ok := a["id"].(string); ok && v == id {
			return Registry{}, ErrArtifactExists
		}
	}

	reg.Artifacts = append(reg.Artifacts, artifact)
	reg.GeneratedAt = s.now().UTC().Format(time.RFC3339Nano)

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return Registry{}, fmt.Errorf("encode registry %s: %w", tenant, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Registry{}, fmt.Errorf("create data dir: %w", err)
	}

	// Пишем во временный файл и переименовываем: читатели не видят половину файла
	tmp, err := os.CreateTemp(s.dir, "artifacts."+tenant+".*.tmp")
	if err != nil {
		return Registry{}, fmt.Errorf("write registry %s: %w", tenant, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return Registry{}, fmt.Errorf("write registry %s: %w", tenant, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return Registry{}, fmt.Errorf("write registry %s: %w", tenant, err)
	}
	if err := os.Rename(tmp.Name(), s.path(tenant)); err != nil {
		_ = os.Remove(tmp.Name())
		return Registry{}, fmt.Errorf("write registry %s: %w", tenant, err)
	}

	s.logger.Info("artifact written", zap.String("tenant", tenant), zap.String("id", id))
	return reg, nil
}
