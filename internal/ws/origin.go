package ws

import (
	"github.com/gobwas/glob"
)

// originMatcher checks the Origin header against the allow-list. Entries are
// glob patterns where * matches a single host label and ** any number of them,
// so https://*.decksnap.io admits https://app.decksnap.io but not
// https://decksnap.io. Entries that do not compile are compared literally.
type originMatcher struct {
	anyOrigin bool
	patterns  []glob.Glob
}

func newOriginMatcher(origins []string) *originMatcher {
	m := &originMatcher{anyOrigin: len(origins) == 0}
	for _, origin := range origins {
		if origin == "*" {
			m.anyOrigin = true
			continue
		}
		g, err := glob.Compile(origin, '.')
		if err != nil {
			g = glob.MustCompile(glob.QuoteMeta(origin))
		}
		m.patterns = append(m.patterns, g)
	}
	return m
}

// allows reports whether origin may open a connection. Requests without an
// Origin header come from non-browser clients and are allowed.
func (m *originMatcher) allows(origin string) bool {
	if m.anyOrigin || origin == "" {
		return true
	}
	for _, g := range m.patterns {
		if g.Match(origin) {
			return true
		}
	}
	return false
}
