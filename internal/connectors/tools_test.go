package connectors

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/sentinel-gateway/internal/domain"
	"go.uber.org/zap"
)

var tenants = []string{"shared", "chc", "ciag", "hospitality"}

func newStore(t *testing.T) *ArtifactStore {
	t.Helper()
	dir := t.TempDir()
	shared := `{
  "schema": "artifact-registry.v1",
  "tenant": "shared",
  "generatedAt": "2026-01-01T00:00:00Z",
  "artifacts": [
    {"id": "doc-1", "title": "Onboarding Guide"},
    {"id": "doc-2", "title": "Incident Runbook", "tags": ["ops"]}
  ]
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "artifacts.shared.json"), []byte(shared), 0o644))
	// Файл без обязательных полей
	require.NoError(t, os.WriteFile(filepath.Join(dir, "artifacts.chc.json"), []byte(`{"artifacts": "oops"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "artifacts.hospitality.json"), []byte(`{not json`), 0o644))
	return NewArtifactStore(dir, tenants, zap.NewNop())
}

func findTool(t *testing.T, tools []domain.Tool, name string) domain.Tool {
	t.Helper()
	for _, tool := range tools {
		if tool.Name == name {
			return tool
		}
	}
	t.Fatalf("tool %s not found", name)
	return domain.Tool{}
}

func call(t *testing.T, tool domain.Tool, args map[string]any) (any, error) {
	t.Helper()
	return tool.Handler.Handle(context.Background(), domain.ToolCall{
		Name:   tool.Name,
		Args:   args,
		Caller: domain.CallerContext{Tenant: "chc", Actor: "agent-1"},
	})
}

func TestArtifactTools_Catalog(t *testing.T) {
	tools := ArtifactTools(newStore(t), tenants)
	// 4 shared + 3 на каждого из трёх арендаторов
	assert.Len(t, tools, 13)
	findTool(t, tools, "hospitality.artifact_registry.readById")
}

func TestArtifactStore_ReadDefaults(t *testing.T) {
	s := newStore(t)

	reg, err := s.Read("chc")
	require.NoError(t, err)
	assert.Equal(t, RegistrySchema, reg.Schema)
	assert.Equal(t, "chc", reg.Tenant)
	assert.NotEmpty(t, reg.GeneratedAt)
	assert.NotNil(t, reg.Artifacts)
	assert.Empty(t, reg.Artifacts)

	// Файла нет
	reg, err = s.Read("ciag")
	require.NoError(t, err)
	assert.Empty(t, reg.Artifacts)

	_, err = s.Read("hospitality")
	assert.Error(t, err)

	_, err = s.Read("mars")
	assert.Error(t, err)
}

func TestReadByID(t *testing.T) {
	tool := findTool(t, ArtifactTools(newStore(t), tenants), "shared.artifact_registry.readById")

	out, err := call(t, tool, map[string]any{"id": "doc-2"})
	require.NoError(t, err)
	res := out.(map[string]any)
	assert.Equal(t, ReadByIDSchema, res["schema"])
	assert.Equal(t, "chc", res["tenant"])
	assert.Equal(t, "Incident Runbook", res["artifact"].(map[string]any)["title"])

	out, err = call(t, tool, map[string]any{"id": "nope"})
	require.NoError(t, err)
	assert.Nil(t, out.(map[string]any)["artifact"])

	_, err = call(t, tool, map[string]any{"id": "   "})
	var te *domain.ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, domain.CodeMissingRequiredField, te.Code)
	assert.Equal(t, "Missing args.id", te.Message)
}

func TestSearch(t *testing.T) {
	tool := findTool(t, ArtifactTools(newStore(t), tenants), "shared.artifact_registry.search")

	out, err := call(t, tool, map[string]any{"q": "  RUNBOOK "})
	require.NoError(t, err)
	res := out.(map[string]any)
	assert.Equal(t, 1, res["count"])
	assert.Equal(t, "  RUNBOOK ", res["q"])

	out, err = call(t, tool, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 2, out.(map[string]any)["count"])

	out, err = call(t, tool, map[string]any{"q": "doc", "maxResults": float64(1)})
	require.NoError(t, err)
	assert.Equal(t, 1, out.(map[string]any)["count"])
}

func TestWrite(t *testing.T) {
	s := newStore(t)
	tools := ArtifactTools(s, tenants)
	tool := findTool(t, tools, "ciag.artifact_registry.write")

	out, err := call(t, tool, map[string]any{"id": "a-1", "content": "hello", "metadata": map[string]any{"k": "v"}})
	require.NoError(t, err)
	res := out.(map[string]any)
	assert.Equal(t, 1, res["count"])
	assert.Equal(t, "agent-1", res["artifact"].(map[string]any)["createdBy"])

	found, err := s.Find("ciag", "a-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", found["content"])

	_, err = call(t, tool, map[string]any{"id": "a-1", "content": "again"})
	var te *domain.ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, domain.CodeArtifactAlreadyExists, te.Code)
}

func TestAppend_BusyIsThrottled(t *testing.T) {
	s := newStore(t)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.Append("shared", map[string]any{"id": "x"})
	var tErr *ThrottleError
	require.True(t, errors.As(err, &tErr))
	assert.ErrorIs(t, err, ErrRegistryBusy)
	assert.Positive(t, tErr.RetryAfter)
}

type lookup map[string]domain.ExecutorSpec

func (l lookup) Get(id string) (domain.ExecutorSpec, bool) {
	s, ok := l[id]
	return s, ok
}

func (l lookup) ListDomains() []string {
	out := make([]string, 0, len(l))
	for k := range l {
		out = append(out, k)
	}
	return out
}

func TestTaskTools_Dispatch(t *testing.T) {
	tools := TaskTools(lookup{"chc": {DomainID: "chc", ExecutorID: "chc-executor"}})
	require.Len(t, tools, 1)
	tool := tools[0]
	assert.Equal(t, "chc.tasks.dispatch", tool.Name)
	require.NotNil(t, tool.Binding)
	assert.Equal(t, "chc", tool.Binding.DomainID)

	out, err := call(t, tool, map[string]any{"task": map[string]any{"type": "ANALYZE"}, "action": "CASE_REVIEW"})
	require.NoError(t, err)
	res := out.(map[string]any)
	assert.Equal(t, "chc-executor", res["executorId"])
	assert.Equal(t, "ANALYZE", res["taskType"])
	assert.Equal(t, "accepted", res["status"])
	assert.NotEmpty(t, res["taskId"])
}
