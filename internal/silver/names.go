package silver

import (
	"strings"
	"unicode"

	"medallion/internal/table"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CleanColumnNames lower-cases every column name, folds accents, turns
// whitespace, '-' and '.' into '_' and drops other characters. Runs of '_'
// collapse and leading or trailing ones are trimmed; a name left empty
// becomes "col". Two names that clean to the same string are a
// DuplicateColumnError.
func CleanColumnNames(t *table.Table) (*table.Table, error) {
	mapping := make(map[string]string, t.NumColumns())
	seen := make(map[string]string, t.NumColumns())
	for _, name := range t.ColumnNames() {
		clean := NormalizeName(name)
		if prev, ok := seen[clean]; ok {
			return nil, &table.DuplicateColumnError{Column: clean, From: []string{prev, name}}
		}
		seen[clean] = name
		if clean != name {
			mapping[name] = clean
		}
	}
	if len(mapping) == 0 {
		return t, nil
	}
	return t.Rename(mapping)
}

// NormalizeName cleans a single column name. See CleanColumnNames.
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	// Decompose, remove nonspacing marks, recompose.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	prevUnderscore := false
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevUnderscore = false
		case r == '_' || r == '-' || r == '.' || unicode.IsSpace(r):
			if !prevUnderscore {
				b.WriteRune('_')
				prevUnderscore = true
			}
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		return "col"
	}
	return name
}
