package template

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/baechuer/notify-platform/internal/domain"
)

// Placeholder grammar: {{name}}, {{user.name}}, {{name|upper}},
// {{name|truncate|default:"Guest"}}. Pipe segments after the variable are
// filters applied left to right; a default: segment supplies the value when
// the variable is missing. A missing variable without a default leaves the
// placeholder literal in the output.

var (
	placeholderRe = regexp.MustCompile(`\{\{(.+?)\}\}`)
	varNameRe     = regexp.MustCompile(`^[a-zA-Z0-9_.|:"']+$`)
)

const truncateLength = 50

// RenderStrings renders subject and body against the same variable set.
func RenderStrings(subject, body string, vars map[string]any) (string, string) {
	return RenderString(subject, vars), RenderString(body, vars)
}

// RenderString substitutes every placeholder in s.
func RenderString(s string, vars map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		inner := strings.TrimSpace(match[2 : len(match)-2])
		varName, filters, def, hasDefault := parsePlaceholder(inner)

		value, found := lookupPath(vars, varName)
		if !found {
			if !hasDefault {
				return match // leave literal
			}
			value = def
		}

		out := stringify(value)
		for _, f := range filters {
			out = applyFilter(out, f)
		}
		return out
	})
}

// parsePlaceholder splits "name|upper|default:\"Guest\"" into the variable
// name, the filter chain, and an optional default.
func parsePlaceholder(inner string) (varName string, filters []string, def string, hasDefault bool) {
	parts := strings.Split(inner, "|")
	varName = strings.TrimSpace(parts[0])
	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if rest, ok := strings.CutPrefix(part, "default:"); ok {
			def = strings.Trim(strings.TrimSpace(rest), `"'`)
			hasDefault = true
			continue
		}
		filters = append(filters, part)
	}
	return varName, filters, def, hasDefault
}

// lookupPath resolves a dot path through nested maps. A nil leaf counts as
// missing.
func lookupPath(vars map[string]any, path string) (any, bool) {
	var current any = vars
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers decode to float64; print integers without a decimal.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func applyFilter(s, name string) string {
	switch name {
	case "upper":
		return strings.ToUpper(s)
	case "lower":
		return strings.ToLower(s)
	case "capitalize":
		return capitalize(s)
	case "truncate":
		return truncate(s, truncateLength)
	}
	return s // unknown filters pass the value through
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n]) + "..."
	}
	return s
}

// ValidateSyntax checks brace balance and placeholder characters before a
// template is stored.
func ValidateSyntax(s string) error {
	if strings.Count(s, "{{") != strings.Count(s, "}}") {
		return domain.NewTemplateInvalid("unbalanced template braces")
	}
	for _, match := range placeholderRe.FindAllStringSubmatch(s, -1) {
		inner := strings.TrimSpace(match[1])
		if inner == "" || !varNameRe.MatchString(inner) {
			return domain.NewTemplateInvalid(fmt.Sprintf("invalid placeholder: %q", inner))
		}
	}
	return nil
}

// RequiredVariables lists the variables a template cannot render without:
// every placeholder that carries no default.
func RequiredVariables(s string) []string {
	seen := make(map[string]bool)
	var required []string
	for _, match := range placeholderRe.FindAllStringSubmatch(s, -1) {
		inner := strings.TrimSpace(match[1])
		varName, _, _, hasDefault := parsePlaceholder(inner)
		if hasDefault || seen[varName] {
			continue
		}
		seen[varName] = true
		required = append(required, varName)
	}
	return required
}
