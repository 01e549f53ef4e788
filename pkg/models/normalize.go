package models

import "strings"

// UnknownModel labels entries whose log line named no model.
const UnknownModel = "unknown"

// NormalizeModel folds a raw model name to its canonical family label:
// lowercased, provider prefix removed, dots and '@' turned into hyphens,
// and a trailing -20YYMMDD release date dropped. It never returns "".
func NormalizeModel(raw string) string {
	m := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.LastIndexByte(m, '/'); i >= 0 {
		m = m[i+1:]
	}
	m = strings.NewReplacer(".", "-", "@", "-").Replace(m)
	if i := strings.LastIndexByte(m, '-'); i >= 0 && isReleaseDate(m[i+1:]) {
		m = m[:i]
	}
	m = strings.Trim(m, "-")
	if m == "" {
		return UnknownModel
	}
	return m
}

func isReleaseDate(s string) bool {
	if len(s) != 8 || !strings.HasPrefix(s, "20") {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// DisplayName turns a normalized label into a human-readable one,
// e.g. "claude-opus-4-5" becomes "Opus 4.5" and "gemini-2-5-pro" becomes "Gemini 2.5 Pro".
// Unrecognized families pass through unchanged.
func DisplayName(normalized string) string {
	switch {
	case normalized == "":
		return ""
	case strings.HasPrefix(normalized, "claude-"):
		rest := strings.TrimPrefix(normalized, "claude-")
		family, version, ok := strings.Cut(rest, "-")
		if !ok {
			return "Claude " + capitalize(rest)
		}
		return capitalize(family) + " " + strings.ReplaceAll(version, "-", ".")
	case strings.HasPrefix(normalized, "gpt-"):
		rest := strings.TrimPrefix(normalized, "gpt-")
		if variant, suffix, ok := strings.Cut(rest, "-"); ok {
			return "GPT-" + variant + " " + capitalize(suffix)
		}
		return "GPT-" + rest
	case strings.HasPrefix(normalized, "gemini-"):
		return geminiDisplayName(strings.TrimPrefix(normalized, "gemini-"))
	case strings.HasPrefix(normalized, "o1"), strings.HasPrefix(normalized, "o3"), strings.HasPrefix(normalized, "o4"):
		if base, suffix, ok := strings.Cut(normalized, "-"); ok {
			return base + " " + capitalize(suffix)
		}
		return normalized
	}
	return normalized
}

func geminiDisplayName(rest string) string {
	parts := strings.Split(rest, "-")
	if len(parts) < 2 {
		return "Gemini " + rest
	}
	var version, tier []string
	for _, p := range parts {
		if len(tier) == 0 && isDigits(p) {
			version = append(version, p)
		} else {
			tier = append(tier, capitalize(p))
		}
	}
	name := "Gemini " + strings.Join(version, ".")
	if len(tier) > 0 {
		name += " " + strings.Join(tier, " ")
	}
	return name
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
