package connectors

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/xela07ax/sentinel-gateway/internal/domain"
)

const toolVersion = "1.0.0"

// ArtifactTools собирает инструменты реестра артефактов: полный набор
// для shared и read/readById/write для каждого арендаторского пространства.
func ArtifactTools(store *ArtifactStore, tenants []string) []domain.Tool {
	tools := []domain.Tool{
		{
			Name:        "shared.artifact_registry.read",
			Version:     toolVersion,
			Description: "Return the shared artifact registry.",
			Handler:     readRegistry(store, "shared"),
		},
		{
			Name:        "shared.artifact_registry.readById",
			Version:     toolVersion,
			Description: "Read shared artifact by id.",
			ArgsSchema:  readByIDSchema,
			Handler:     readByID(store, "shared"),
		},
		{
			Name:        "shared.artifact_registry.search",
			Version:     toolVersion,
			Description: "Search shared artifacts.",
			ArgsSchema:  searchSchema,
			Handler:     search(store, "shared"),
		},
		{
			Name:        "shared.artifact_registry.write",
			Version:     toolVersion,
			Description: "Write an artifact to the shared registry.",
			ArgsSchema:  writeSchema,
			Handler:     write(store, "shared"),
		},
	}

	for _, t := range tenants {
		if t == "shared" {
			continue
		}
		tools = append(tools,
			domain.Tool{
				Name:        t + ".artifact_registry.read",
				Version:     toolVersion,
				Description: "Return the " + strings.ToUpper(t) + " tenant artifact registry.",
				Handler:     readRegistry(store, t),
			},
			domain.Tool{
				Name:        t + ".artifact_registry.readById",
				Version:     toolVersion,
				Description: "Read " + strings.ToUpper(t) + " artifact by id.",
				ArgsSchema:  readByIDSchema,
				Handler:     readByID(store, t),
			},
			domain.Tool{
				Name:        t + ".artifact_registry.write",
				Version:     toolVersion,
				Description: "Write an artifact to the " + strings.ToUpper(t) + " registry.",
				ArgsSchema:  writeSchema,
				Handler:     write(store, t),
			},
		)
	}
	return tools
}

var readByIDSchema = map[string]any{
	"type":     "object",
	"required": []any{"id"},
	"properties": map[string]any{
		"id": map[string]any{"type": "string", "minLength": 1, "maxLength": 255},
	},
}

var searchSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"q":          map[string]any{"type": "string", "maxLength": 1000},
		"maxResults": map[string]any{"type": "integer", "minimum": 1, "maximum": 100},
	},
}

var writeSchema = map[string]any{
	"type":     "object",
	"required": []any{"id", "content"},
	"properties": map[string]any{
		"id":       map[string]any{"type": "string", "minLength": 1, "maxLength": 255, "pattern": "^[A-Za-z0-9][A-Za-z0-9._:-]*$"},
		"content":  map[string]any{"type": "string"},
		"metadata": map[string]any{"type": "object"},
	},
}

func readRegistry(store *ArtifactStore, tenant string) domain.ToolHandler {
	return domain.ToolHandlerFunc(func(ctx context.Context, call domain.ToolCall) (any, error) {
		return store.Read(tenant)
	})
}

func readByID(store *ArtifactStore, tenant string) domain.ToolHandler {
	return domain.ToolHandlerFunc(func(ctx context.Context, call domain.ToolCall) (any, error) {
		id, ok := call.Args["id"].(string)
		if !ok || strings.TrimSpace(id) == "" {
			return nil, domain.NewToolError(domain.CodeMissingRequiredField, "Missing args.id", map[string]any{"field": "id"})
		}

		artifact, err := store.Find(tenant, id)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"schema":   ReadByIDSchema,
			"tenant":   call.Caller.Tenant,
			"id":       id,
			"artifact": artifact,
		}, nil
	})
}

func search(store *ArtifactStore, tenant string) domain.ToolHandler {
	return domain.ToolHandlerFunc(func(ctx context.Context, call domain.ToolCall) (any, error) {
		q, _ := call.Args["q"].(string)
		limit := 0
		if n, ok := call.Args["maxResults"].(float64); ok {
			limit = int(n)
		}

		hits, err := store.Search(tenant, q, limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"schema":    SearchSchema,
			"tenant":    call.Caller.Tenant,
			"q":         q,
			"count":     len(hits),
			"artifacts": hits,
		}, nil
	})
}

func write(store *ArtifactStore, tenant string) domain.ToolHandler {
	return domain.ToolHandlerFunc(func(ctx context.Context, call domain.ToolCall) (any, error) {
		id, _ := call.Args["id"].(string)
		content, _ := call.Args["content"].(string)

		artifact := map[string]any{
			"id":        id,
			"content":   content,
			"createdBy": call.Caller.Actor,
			"createdAt": time.Now().UTC().Format(time.RFC3339Nano),
		}
		if md, ok := call.Args["metadata"].(map[string]any); ok {
			artifact["metadata"] = md
		}

		reg, err := store.Append(tenant, artifact)
		if errors.Is(err, ErrArtifactExists) {
			return nil, domain.NewToolError(domain.CodeArtifactAlreadyExists,
				"Artifact already exists", map[string]any{"id": id, "registry": tenant})
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"schema":   WriteSchema,
			"tenant":   reg.Tenant,
			"id":       id,
			"count":    len(reg.Artifacts),
			"artifact": artifact,
		}, nil
	})
}
