package model

// Frame is the per-tick snapshot handed to renderers and exporters: every
// node plus the current edge set. Tick 0 is the state right after creation.
type Frame struct {
	Tick  int        `json:"tick"`
	Nodes []NodeView `json:"nodes"`
	Edges []Edge     `json:"edges"`
}
