package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// placeholder matches ${name}. Bare $name is left alone so that secrets
// containing a dollar sign survive expansion.
var placeholder = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Lookup resolves a placeholder name.
type Lookup func(name string) (string, bool)

// Env resolves placeholders from the process environment.
func Env() Lookup {
	return os.LookupEnv
}

// Vars resolves placeholders from a fixed map.
func Vars(m map[string]string) Lookup {
	return func(name string) (string, bool) {
		v, ok := m[name]
		return v, ok
	}
}

// MissingAction specifies how unresolved placeholders are handled.
type MissingAction int

const (
	// MissingKeep leaves the placeholder as written so a later stage
	// can resolve it.
	MissingKeep MissingAction = iota

	// MissingEmpty replaces the placeholder with an empty string.
	MissingEmpty

	// MissingError fails with an *UndefinedVariableError.
	MissingError
)

// UndefinedVariableError lists placeholders MissingError could not resolve.
type UndefinedVariableError struct {
	Names []string
}

// Error implements the error interface.
func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("undefined variable: %s", e.Names[0])
	}
	return fmt.Sprintf("undefined variables: %s", strings.Join(e.Names, ", "))
}

// Expander substitutes ${name} placeholders.
type Expander struct {
	missing MissingAction
}

// NewExpander creates an expander.
func NewExpander(missing MissingAction) *Expander {
	return &Expander{missing: missing}
}

// Expand substitutes every placeholder in s.
func (e *Expander) Expand(s string, lookup Lookup) (string, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}

	var missing []string
	out := placeholder.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := lookup(name); ok {
			return v
		}
		switch e.missing {
		case MissingEmpty:
			return ""
		case MissingError:
			missing = append(missing, name)
		}
		return match
	})
	if len(missing) > 0 {
		return out, &UndefinedVariableError{Names: missing}
	}
	return out, nil
}

// ExpandConfig returns a copy of c with every string value expanded,
// descending into nested maps and lists. Keys are not expanded.
func (e *Expander) ExpandConfig(c Config, lookup Lookup) (Config, error) {
	m, err := e.expandMap(c.data, lookup)
	if err != nil {
		return Config{}, err
	}
	return New(m), nil
}

func (e *Expander) expandMap(m map[string]any, lookup Lookup) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		expanded, err := e.expandValue(v, lookup)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = expanded
	}
	return out, nil
}

func (e *Expander) expandValue(v any, lookup Lookup) (any, error) {
	switch val := v.(type) {
	case string:
		return e.Expand(val, lookup)
	case Config:
		return e.expandMap(val.data, lookup)
	case map[string]any:
		return e.expandMap(val, lookup)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			expanded, err := e.expandValue(item, lookup)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = expanded
		}
		return out, nil
	default:
		return v, nil
	}
}
