package policy

import "github.com/xela07ax/sentinel-gateway/internal/domain"

var allTenants = []string{"shared", "chc", "ciag", "hospitality"}

// DefaultPermissions — встроенная таблица прав для реестра артефактов.
// Shared-инструменты доступны всем арендаторам, арендаторские — только своему
// и дополнительно требуют "<tenant>:access".
func DefaultPermissions() []domain.ToolPermission {
	perms := []domain.ToolPermission{
		{ToolName: "shared.artifact_registry.read", RequiredScopes: []string{"artifacts:read"}, AllowedTenants: allTenants, Description: "Read shared artifacts"},
		{ToolName: "shared.artifact_registry.readById", RequiredScopes: []string{"artifacts:read"}, AllowedTenants: allTenants, Description: "Read specific shared artifact"},
		{ToolName: "shared.artifact_registry.search", RequiredScopes: []string{"artifacts:read"}, AllowedTenants: allTenants, Description: "Search shared artifacts"},
		{ToolName: "shared.artifact_registry.write", RequiredScopes: []string{"artifacts:write"}, AllowedTenants: allTenants, Description: "Write to shared artifacts"},
	}

	for _, tenant := range []string{"chc", "ciag", "hospitality"} {
		access := tenant + ":access"
		only := []string{tenant}
		perms = append(perms,
			domain.ToolPermission{ToolName: tenant + ".artifact_registry.read", RequiredScopes: []string{"artifacts:read", access}, AllowedTenants: only, Description: "Read " + tenant + " artifacts"},
			domain.ToolPermission{ToolName: tenant + ".artifact_registry.readById", RequiredScopes: []string{"artifacts:read", access}, AllowedTenants: only, Description: "Read specific " + tenant + " artifact"},
			domain.ToolPermission{ToolName: tenant + ".artifact_registry.write", RequiredScopes: []string{"artifacts:write", access}, AllowedTenants: only, Description: "Write to " + tenant + " artifacts"},
			domain.ToolPermission{ToolName: tenant + ".tasks.dispatch", RequiredScopes: []string{access}, AllowedTenants: only, Description: "Dispatch " + tenant + " domain tasks"},
		)
	}
	return perms
}
