package tool

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nowex35/mcpstreaming/internal/pointer"
)

// Args is the flat string-keyed argument mapping execute_tool parses
// incoming JSON into, per SPEC_FULL §4.8 step 3. Strings are stored as-is,
// numbers and booleans in their text form, null as "", and objects and
// arrays as JSON text; accessors convert on read.
type Args map[string]string

// GetString returns the raw string value for key.
func (a Args) GetString(key string) (string, bool) {
	v, ok := a[key]
	return v, ok
}

// GetInt parses key as an integer.
func (a Args) GetInt(key string) (int, bool) {
	v, ok := a[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// GetNumber parses key as a float64.
func (a Args) GetNumber(key string) (float64, bool) {
	v, ok := a[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// GetBool parses key as a boolean.
func (a Args) GetBool(key string) (bool, bool) {
	v, ok := a[key]
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// parseArguments decodes a JSON-object arguments blob into both the
// decoded interface{} map (used for validation) and the flattened Args
// string map execute_tool hands to the executor.
func parseArguments(raw json.RawMessage) (map[string]interface{}, Args, error) {
	if len(raw) == 0 {
		return map[string]interface{}{}, Args{}, nil
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	flat := Args{}
	for k, v := range decoded {
		flat[k] = stringify(v)
	}
	return decoded, flat, nil
}

// applyDefaults fills in def.ParameterSchema defaults for any parameter
// absent from decoded/flat, so a caller that omits an optional argument
// still has it reach the executor. Required params are never defaulted:
// their absence is a validation failure, not a default-value case.
func applyDefaults(def Definition, decoded map[string]interface{}, flat Args) {
	for name, schema := range def.ParameterSchema {
		if schema.Default == nil || schema.Required || contains(def.RequiredParams, name) {
			continue
		}
		if _, present := decoded[name]; present {
			continue
		}
		v := pointer.Deref(schema.Default)
		decoded[name] = v
		flat[name] = stringify(v)
	}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
