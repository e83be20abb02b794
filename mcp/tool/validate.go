package tool

import (
	"fmt"
	"strings"
)

// validateArguments checks decoded arguments against def's schema: required
// params present, JSON types matching the declared ParamType, and enum
// constraints satisfied. Unknown params produce warnings rather than
// failures. It returns a combined message on any hard failure.
func validateArguments(def Definition, decoded map[string]interface{}) (warnings []string, err error) {
	var problems []string

	for _, name := range def.RequiredParams {
		if _, ok := decoded[name]; !ok {
			problems = append(problems, fmt.Sprintf("missing required parameter %q", name))
		}
	}

	for name, value := range decoded {
		schema, known := def.ParameterSchema[name]
		if !known {
			warnings = append(warnings, fmt.Sprintf("unknown parameter %q", name))
			continue
		}
		if !matchesType(schema.Type, value) {
			problems = append(problems, fmt.Sprintf("parameter %q must be of type %s", name, schema.Type))
			continue
		}
		if len(schema.EnumValues) > 0 {
			if s, ok := value.(string); ok {
				if !contains(schema.EnumValues, s) {
					problems = append(problems, fmt.Sprintf("parameter %q must be one of %v", name, schema.EnumValues))
				}
			}
		}
	}

	if len(problems) > 0 {
		return warnings, fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return warnings, nil
}

func matchesType(t ParamType, value interface{}) bool {
	switch t {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeNumber:
		_, ok := value.(float64)
		return ok
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeObject:
		_, ok := value.(map[string]interface{})
		return ok
	case TypeArray:
		_, ok := value.([]interface{})
		return ok
	default:
		return true
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
