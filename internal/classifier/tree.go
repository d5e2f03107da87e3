package classifier

import (
	"math"
	"sort"
)

const leaf = -1

// node is one entry of a flattened regression tree. Value is the unshrunk
// weight of the node, kept on internal nodes too for path attributions.
type node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
	Cover     float64 `json:"c"`
	Gain      float64 `json:"g,omitempty"`
}

type tree struct {
	Nodes []node `json:"nodes"`
}

// leafFor walks to the leaf for row. Rows with x < threshold go left;
// NaN goes right.
func (t *tree) leafFor(row []float64) int {
	i := 0
	for t.Nodes[i].Left != leaf {
		n := &t.Nodes[i]
		if row[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return i
}

func (t *tree) predict(row []float64) float64 {
	return t.Nodes[t.leafFor(row)].Value
}

// contributions adds eta times each split's change in node value to the
// feature it split on, and returns the root value scaled by eta.
func (t *tree) contributions(row []float64, eta float64, out []float64) float64 {
	i := 0
	for t.Nodes[i].Left != leaf {
		n := &t.Nodes[i]
		next := n.Right
		if row[n.Feature] < n.Threshold {
			next = n.Left
		}
		out[n.Feature] += eta * (t.Nodes[next].Value - n.Value)
		i = next
	}
	return eta * t.Nodes[0].Value
}

// treeParams are the regularization knobs used while growing one tree.
type treeParams struct {
	maxDepth       int
	minChildWeight float64
	gamma          float64
	alpha          float64
	lambda         float64
}

// treeBuilder grows one tree with exact greedy split search over the
// second-order approximation of the loss.
type treeBuilder struct {
	x        [][]float64
	grad     []float64
	hess     []float64
	features []int
	params   treeParams
	nodes    []node
}

func (b *treeBuilder) build(rows []int) tree {
	// Each tree owns its node slice.
	b.nodes = make([]node, 0, 64)
	b.grow(rows, 0)
	return tree{Nodes: b.nodes}
}

func (b *treeBuilder) grow(rows []int, depth int) int {
	var g, h float64
	for _, i := range rows {
		g += b.grad[i]
		h += b.hess[i]
	}
	id := len(b.nodes)
	b.nodes = append(b.nodes, node{Feature: leaf, Left: leaf, Right: leaf, Value: b.weight(g, h), Cover: h})

	if depth >= b.params.maxDepth || len(rows) < 2 {
		return id
	}
	s, ok := b.bestSplit(rows, g, h)
	if !ok {
		return id
	}

	left := make([]int, 0, s.leftCount)
	right := make([]int, 0, len(rows)-s.leftCount)
	for _, i := range rows {
		if b.x[i][s.feature] < s.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	n := &b.nodes[id]
	n.Feature, n.Threshold, n.Gain = s.feature, s.threshold, s.gain
	n.Left, n.Right = l, r
	return id
}

type split struct {
	feature   int
	threshold float64
	gain      float64
	leftCount int
}

func (b *treeBuilder) bestSplit(rows []int, g, h float64) (split, bool) {
	best := split{gain: 0}
	found := false
	parent := b.score(g, h)
	order := make([]int, len(rows))

	for _, f := range b.features {
		copy(order, rows)
		sort.SliceStable(order, func(a, c int) bool { return b.x[order[a]][f] < b.x[order[c]][f] })

		var gl, hl float64
		for k := 0; k < len(order)-1; k++ {
			i := order[k]
			gl += b.grad[i]
			hl += b.hess[i]
			lo, hi := b.x[i][f], b.x[order[k+1]][f]
			if lo == hi || math.IsNaN(lo) || math.IsNaN(hi) {
				continue
			}
			gr, hr := g-gl, h-hl
			if hl < b.params.minChildWeight || hr < b.params.minChildWeight {
				continue
			}
			gain := 0.5*(b.score(gl, hl)+b.score(gr, hr)-parent) - b.params.gamma
			if gain > best.gain {
				best = split{feature: f, threshold: midpoint(lo, hi), gain: gain, leftCount: k + 1}
				found = true
			}
		}
	}
	return best, found
}

// score is the structure score soft(G)^2 / (H + lambda).
func (b *treeBuilder) score(g, h float64) float64 {
	s := softThreshold(g, b.params.alpha)
	return s * s / (h + b.params.lambda)
}

func (b *treeBuilder) weight(g, h float64) float64 {
	return -softThreshold(g, b.params.alpha) / (h + b.params.lambda)
}

func softThreshold(g, alpha float64) float64 {
	switch {
	case g > alpha:
		return g - alpha
	case g < -alpha:
		return g + alpha
	default:
		return 0
	}
}

// midpoint returns a threshold strictly above lo and at most hi.
func midpoint(lo, hi float64) float64 {
	t := lo + (hi-lo)/2
	if t <= lo {
		return hi
	}
	return t
}
