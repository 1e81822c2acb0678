package bake

import "git.home.luguber.info/inful/pagebaker/internal/content"

// Gate records which pages were built during a run, grouped by content type.
//
// A Gate is owned by a single run and is not safe for concurrent use.
type Gate struct {
	built map[string]map[string]struct{}
}

// NewGate returns an empty gate.
func NewGate() *Gate {
	return &Gate{built: make(map[string]map[string]struct{})}
}

// ShouldBuild reports whether "{typeName}:{id}" has not been built yet.
func (g *Gate) ShouldBuild(typeName string, id int64) bool {
	_, done := g.built[typeName][recordKey(typeName, id)]
	return !done
}

// MarkBuilt records a completed build.
func (g *Gate) MarkBuilt(typeName string, id int64) {
	set, ok := g.built[typeName]
	if !ok {
		set = make(map[string]struct{})
		g.built[typeName] = set
	}
	set[recordKey(typeName, id)] = struct{}{}
}

// Reset clears the records of one content type.
func (g *Gate) Reset(typeName string) {
	delete(g.built, typeName)
}

// Len returns the number of recorded builds across all types.
func (g *Gate) Len() int {
	n := 0
	for _, set := range g.built {
		n += len(set)
	}
	return n
}

func recordKey(typeName string, id int64) string {
	return content.Key{Type: typeName, ID: id}.String()
}
