// Package tool implements the Tool Registry from SPEC_FULL §4.8: tool
// definitions, argument validation against a fixed small schema (per
// spec.md's explicit Non-goal of arbitrary JSON schema validation), and
// execution with a concurrency cap and two execution strategies — inline,
// or fork-mode via github.com/viant/gosh/runner/local for real
// out-of-process cancellation.
package tool

import (
	"fmt"

	"github.com/nowex35/mcpstreaming/internal/pointer"
)

// ParamType enumerates the fixed set of argument types the registry
// validates, per SPEC_FULL's Tool Definition data model.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

// ParamSchema describes one named parameter of a Tool Definition. Default
// is a pointer (via internal/pointer.Ref) rather than a bare interface{}
// so a schema can distinguish "no default" from an explicit zero-value
// default such as false or 0.
type ParamSchema struct {
	Type        ParamType
	Description string
	Required    bool
	Default     *interface{}
	EnumValues  []string
}

// Definition is a Tool Definition: name, description, parameter schema, and
// enablement/version metadata.
type Definition struct {
	Name            string
	Description     string
	ParameterSchema map[string]ParamSchema
	RequiredParams  []string
	Version         string
	Enabled         bool
	Execute         Executor
}

// Validate checks the invariant that every name in RequiredParams appears
// in ParameterSchema.
func (d Definition) Validate() error {
	for _, name := range d.RequiredParams {
		if _, ok := d.ParameterSchema[name]; !ok {
			return fmt.Errorf("tool %q: required param %q has no schema entry", d.Name, name)
		}
	}
	return nil
}

// InputSchema renders the JSON Schema object SPEC_FULL §6 expects inside
// tools/list's inputSchema field.
func (d Definition) InputSchema() map[string]interface{} {
	properties := map[string]interface{}{}
	for name, p := range d.ParameterSchema {
		prop := map[string]interface{}{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.EnumValues) > 0 {
			prop["enum"] = p.EnumValues
		}
		if p.Default != nil {
			prop["default"] = pointer.Deref(p.Default)
		}
		properties[name] = prop
	}
	required := d.RequiredParams
	if required == nil {
		required = []string{}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}
