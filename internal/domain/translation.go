package domain

import "strings"

// Translation holds the translated fields of one master row in one language.
type Translation struct {
	LanguageCode string
	MasterID     string
	Fields       map[string]string
}

// NormalizeLanguage lowercases a language tag and falls back to the default
// language.
func NormalizeLanguage(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "_", "-")
	if code == "" {
		return DefaultLanguage
	}
	return code
}

// LanguageFromHeader picks the first tag of an Accept-Language header.
func LanguageFromHeader(header string) string {
	first, _, _ := strings.Cut(header, ",")
	first, _, _ = strings.Cut(first, ";")
	if strings.TrimSpace(first) == "*" {
		return DefaultLanguage
	}
	return NormalizeLanguage(first)
}

// Pick returns the translated value for field or fallback when missing.
func (t *Translation) Pick(field, fallback string) string {
	if t == nil {
		return fallback
	}
	if v, ok := t.Fields[field]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}
