package patchfield

// Port is an indexed input or output channel of a module.
type Port struct {
	Module string `json:"module"`
	Index  int    `json:"index"`
}

// Edge connects an output port of one module to an input port of another.
type Edge struct {
	Source Port `json:"source"`
	Sink   Port `json:"sink"`
}

// Graph is the edge set of the signal graph. It is a multigraph: only exact
// duplicate edges are merged. Graph is not safe for concurrent use; Patchfield
// guards it with its own lock.
type Graph struct {
	edges map[Edge]struct{}
	order []Edge
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{edges: make(map[Edge]struct{})}
}

// Has reports whether e is in the graph.
func (g *Graph) Has(e Edge) bool {
	_, ok := g.edges[e]
	return ok
}

// Add inserts e and reports whether it was new.
func (g *Graph) Add(e Edge) bool {
	if g.Has(e) {
		return false
	}
	g.edges[e] = struct{}{}
	g.order = append(g.order, e)
	return true
}

// Remove deletes e and reports whether it was present.
func (g *Graph) Remove(e Edge) bool {
	if !g.Has(e) {
		return false
	}
	delete(g.edges, e)
	for i, o := range g.order {
		if o == e {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return true
}

// RemoveModule deletes every edge with module at either end and returns them in
// insertion order.
func (g *Graph) RemoveModule(module string) []Edge {
	var removed []Edge
	kept := g.order[:0]
	for _, e := range g.order {
		if e.Source.Module == module || e.Sink.Module == module {
			delete(g.edges, e)
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	g.order = kept
	return removed
}

// Edges returns the edges in insertion order.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.order...)
}

// Len returns the number of edges.
func (g *Graph) Len() int {
	return len(g.order)
}

// Reachable returns every module reachable from start by following edges from
// source to sink, including start itself.
func (g *Graph) Reachable(start string) map[string]struct{} {
	next := make(map[string][]string)
	for _, e := range g.order {
		next[e.Source.Module] = append(next[e.Source.Module], e.Sink.Module)
	}

	visited := map[string]struct{}{start: {}}
	frontier := []string{start}
	for len(frontier) > 0 {
		module := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		for _, sink := range next[module] {
			if _, seen := visited[sink]; seen {
				continue
			}
			visited[sink] = struct{}{}
			frontier = append(frontier, sink)
		}
	}
	return visited
}

// WouldCycle reports whether adding an edge from source to sink would close a loop,
// that is whether source is reachable from sink.
func (g *Graph) WouldCycle(source, sink string) bool {
	_, ok := g.Reachable(sink)[source]
	return ok
}
