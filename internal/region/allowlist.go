// Package region decides where cash on delivery is offered.
package region

import "strings"

const wildcard = "*"

// AllowList holds "state/city" entries. A "state/*" entry admits every city
// in the state. Matching ignores case and surrounding spaces.
type AllowList struct {
	entries map[string]map[string]struct{}
}

// Parse builds an AllowList from a comma separated list such as
// "Maharashtra/Pune,Karnataka/*". Malformed entries are skipped.
func Parse(csv string) *AllowList {
	a := &AllowList{entries: make(map[string]map[string]struct{})}
	for _, raw := range strings.Split(csv, ",") {
		state, city, ok := strings.Cut(raw, "/")
		if !ok {
			continue
		}
		state, city = normalize(state), normalize(city)
		if state == "" || city == "" {
			continue
		}
		if a.entries[state] == nil {
			a.entries[state] = make(map[string]struct{})
		}
		a.entries[state][city] = struct{}{}
	}
	return a
}

func (a *AllowList) IsCODEligible(state, city string) bool {
	cities, ok := a.entries[normalize(state)]
	if !ok {
		return false
	}
	if _, ok := cities[wildcard]; ok {
		return true
	}
	_, ok = cities[normalize(city)]
	return ok
}

func (a *AllowList) Len() int {
	n := 0
	for _, cities := range a.entries {
		n += len(cities)
	}
	return n
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
