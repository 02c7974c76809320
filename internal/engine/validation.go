package engine

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"github.com/xela07ax/sentinel-gateway/internal/domain"
)

// ArgsValidator — скомпилированная JSON Schema аргументов инструмента.
type ArgsValidator struct {
	schema *gojsonschema.Schema
}

func NewArgsValidator(schema map[string]any) (*ArgsValidator, error) {
	if schema == nil {
		return nil, nil
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compile args schema: %w", err)
	}
	return &ArgsValidator{schema: s}, nil
}

// Validate возвращает *domain.ToolError с кодом первой ошибки схемы.
func (v *ArgsValidator) Validate(args map[string]any) error {
	if v == nil {
		return nil
	}

	result, err := v.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return domain.NewToolError(domain.CodeInvalidArgumentType, "args cannot be validated", nil)
	}
	if result.Valid() {
		return nil
	}

	errs := result.Errors()
	first := errs[0]
	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		messages = append(messages, e.String())
	}

	field := argField(first)
	return domain.NewToolError(schemaErrorCode(first.Type()),
		fmt.Sprintf("Invalid args.%s: %s", field, first.Description()),
		map[string]any{"field": field, "errors": messages})
}

// argField — путь до поля без префикса "(root)". Для required имя поля
// лежит в details.property.
func argField(e gojsonschema.ResultError) string {
	field := strings.TrimPrefix(e.Field(), "(root).")
	if e.Type() != "required" {
		return field
	}
	p, ok := e.Details()["property"].(string)
	switch {
	case !ok || field == p || strings.HasSuffix(field, "."+p):
		return field
	case field == "(root)":
		return p
	}
	return field + "." + p
}

func schemaErrorCode(kind string) string {
	switch kind {
	case "required":
		return domain.CodeMissingRequiredField
	case "invalid_type":
		return domain.CodeInvalidArgumentType
	case "enum", "const":
		return domain.CodeInvalidEnumValue
	case "string_gte", "array_min_items":
		return domain.CodeArgumentTooShort
	case "string_lte", "array_max_items":
		return domain.CodeArgumentTooLong
	case "number_gte", "number_gt", "number_lte", "number_lt", "multiple_of":
		return domain.CodeArgumentOutOfRange
	case "pattern", "format":
		return domain.CodeInvalidPattern
	}
	return domain.CodeInvalidArgumentType
}
