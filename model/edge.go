package model

// Edge is an undirected proximity link between two mobile nodes.
// A and B are stored in lexical order so that (a,b) and (b,a) compare equal.
type Edge struct {
	A string `json:"a"`
	B string `json:"b"`
}

// NewEdge returns the normalised edge between a and b.
func NewEdge(a, b string) Edge {
	if b < a {
		a, b = b, a
	}
	return Edge{A: a, B: b}
}

// Has reports whether id is one of the edge's endpoints.
func (e Edge) Has(id string) bool {
	return e.A == id || e.B == id
}
