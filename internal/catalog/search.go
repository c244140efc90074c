package catalog

import "strings"

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes user input match literally inside a LIKE pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// MatchesName reports whether name contains query, ignoring case.
func MatchesName(name, query string) bool {
	return strings.Contains(strings.ToLower(name), strings.ToLower(query))
}
