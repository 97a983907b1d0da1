package authoring

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"auditkit/internal/descriptor"
	"auditkit/internal/loader"
)

//go:embed prompt.tmpl
var promptText string

var promptTemplate = template.Must(template.New("prompt").
	Funcs(template.FuncMap{"join": strings.Join}).
	Parse(promptText))

const systemPrompt = "You write Go analysis units for a financial audit tool. Follow the contract exactly and reply with source code only."

type promptData struct {
	Description string
	ParamTypes  []string
	ColumnTypes []string
	Imports     []string
	Sentinel    string
}

// BuildPrompt fills the authoring prompt with the user's description.
func BuildPrompt(description string) (string, error) {
	data := promptData{
		Description: strings.TrimSpace(description),
		Imports:     loader.AllowedImports(),
		Sentinel:    Sentinel,
	}
	for _, t := range descriptor.ValidParamTypes {
		data.ParamTypes = append(data.ParamTypes, string(t))
	}
	for _, t := range descriptor.ValidColumnTypes {
		data.ColumnTypes = append(data.ColumnTypes, "descriptor.Column"+columnConst(t))
	}
	sort.Strings(data.Imports)

	var sb strings.Builder
	if err := promptTemplate.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return sb.String(), nil
}

// columnConst maps a column type to the suffix of its Go constant name.
func columnConst(t descriptor.ColumnType) string {
	switch t {
	case descriptor.ColumnDateTime:
		return "DateTime"
	}
	s := string(t)
	return strings.ToUpper(s[:1]) + s[1:]
}
