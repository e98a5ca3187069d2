package sources

import "strings"

// Filters drops records whose title or company matches an exclusion term.
// Matching is case-insensitive substring.
type Filters struct {
	ExcludeTitles []string
	ExcludeFirms  []string
}

// Keep reports whether the record passes the exclusion lists.
func (f Filters) Keep(title, company string) bool {
	lowTitle := strings.ToLower(title)
	for _, term := range f.ExcludeTitles {
		if term != "" && strings.Contains(lowTitle, strings.ToLower(term)) {
			return false
		}
	}
	lowCompany := strings.ToLower(company)
	for _, term := range f.ExcludeFirms {
		if term != "" && strings.Contains(lowCompany, strings.ToLower(term)) {
			return false
		}
	}
	return true
}
