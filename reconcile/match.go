/*
match.go - Free-text loan type matching

PURPOSE:
  Upload rows describe the loan type in free text ("soft loan", "DEV.
  LOAN", "normal"). The matcher resolves that text to a configured loan
  type: exact normalized match first, then the hand-curated alias table,
  then substring containment in either direction. Ambiguity resolves to
  the first configured type in name order, which keeps matching stable
  across runs.
*/
package reconcile

import (
	"sort"
	"strings"

	"github.com/coopfin/ledger-engine/models"
)

// DefaultAliases maps normalized shorthand seen in uploads to canonical
// type names. Extend here, not in code paths.
var DefaultAliases = map[string]string{
	"soft":      "soft loan",
	"sl":        "soft loan",
	"normal":    "regular loan",
	"regular":   "regular loan",
	"rl":        "regular loan",
	"dev":       "development loan",
	"dev loan":  "development loan",
	"emergency": "soft loan",
}

// Matcher resolves free-text descriptions to loan types.
type Matcher struct {
	types   []*models.LoanType // sorted by name
	byName  map[string]*models.LoanType
	aliases map[string]string
}

// NewMatcher builds a matcher over the configured types. aliases may be
// nil, in which case DefaultAliases applies.
func NewMatcher(types []*models.LoanType, aliases map[string]string) *Matcher {
	if aliases == nil {
		aliases = DefaultAliases
	}
	sorted := make([]*models.LoanType, len(types))
	copy(sorted, types)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	byName := make(map[string]*models.LoanType, len(sorted))
	for _, lt := range sorted {
		byName[normalize(lt.Name)] = lt
	}
	return &Matcher{types: sorted, byName: byName, aliases: aliases}
}

// Match returns the loan type for a description, or nil when nothing
// matches.
func (m *Matcher) Match(description string) *models.LoanType {
	text := normalize(description)
	if text == "" {
		return nil
	}

	if lt, ok := m.byName[text]; ok {
		return lt
	}
	if canonical, ok := m.aliases[text]; ok {
		if lt, ok := m.byName[normalize(canonical)]; ok {
			return lt
		}
	}
	for _, lt := range m.types {
		name := normalize(lt.Name)
		if strings.Contains(text, name) || strings.Contains(name, text) {
			return lt
		}
	}
	return nil
}

// normalize lowercases and collapses every run of non-alphanumeric
// characters to a single space.
func normalize(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}
