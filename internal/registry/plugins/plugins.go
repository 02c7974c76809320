// Package plugins содержит встроенные исполнители доменов.
package plugins

import (
	"github.com/xela07ax/sentinel-gateway/internal/domain"
	"github.com/xela07ax/sentinel-gateway/internal/registry"
)

// Hospitality — гостиничный домен: тарифы, синхронизация, сверка счетов.
func Hospitality(r registry.Registrar) error {
	return r.Register(domain.ExecutorSpec{
		DomainID:           "hospitality",
		ExecutorID:         "hospitality-executor",
		SupportedTaskTypes: domain.AllTaskTypes,
		RequiredScopes: map[domain.TaskType][]string{
			domain.TaskExecute:  {"hospitality:execute"},
			domain.TaskAnalyze:  {"hospitality:analyze"},
			domain.TaskEscalate: {"hospitality:escalate"},
		},
		DomainActionScopes: map[string][]string{
			"RATE_UPDATE":          {"hospitality:execute"},
			"TARIFF_SYNC":          {"hospitality:execute"},
			"VENDOR_INVOICE_CHECK": {"hospitality:execute"},
		},
	})
}

// Ciag — домен без действий, только базовые типы задач.
func Ciag(r registry.Registrar) error {
	return r.Register(domain.ExecutorSpec{
		DomainID:           "ciag",
		ExecutorID:         "ciag-executor",
		SupportedTaskTypes: domain.AllTaskTypes,
		RequiredScopes: map[domain.TaskType][]string{
			domain.TaskExecute:  {"ciag:execute"},
			domain.TaskAnalyze:  {"ciag:analyze"},
			domain.TaskEscalate: {"ciag:escalate"},
		},
	})
}

// Chc — домен только для анализа и эскалации.
func Chc(r registry.Registrar) error {
	return r.Register(domain.ExecutorSpec{
		DomainID:           "chc",
		ExecutorID:         "chc-executor",
		SupportedTaskTypes: []domain.TaskType{domain.TaskAnalyze, domain.TaskEscalate},
		RequiredScopes: map[domain.TaskType][]string{
			domain.TaskAnalyze:  {"chc:analyze"},
			domain.TaskEscalate: {"chc:escalate"},
		},
		DomainActionScopes: map[string][]string{
			"CASE_REVIEW": {"chc:analyze"},
		},
	})
}

// All — встроенные плагины в порядке загрузки.
func All() []registry.RegisterPluginFn {
	return []registry.RegisterPluginFn{Hospitality, Ciag, Chc}
}
