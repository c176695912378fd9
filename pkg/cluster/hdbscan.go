package cluster

import (
	"math"
	"slices"
	"sort"
)

// Distances below this are treated as equal when converting to lambda = 1/d,
// which keeps stabilities finite for duplicate points.
const minDistance = 1e-12

type mstEdge struct {
	a, b int
	w    float64
}

// linkage is one merge of the single-linkage hierarchy. Leaves are 0..n-1,
// merge k creates node n+k.
type linkage struct {
	left, right int
	dist        float64
	size        int
}

// condensedEdge is a row of the condensed tree. Cluster ids are dense with the
// root at 0 and every child numbered after its parent. When point is set,
// child is a point index and size is 1.
type condensedEdge struct {
	parent int
	child  int
	point  bool
	lambda float64
	size   int
}

type hdbscanOutput struct {
	labels    []int
	probs     []float64
	stability []float64 // indexed by output label
}

func euclidean(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return math.Sqrt(s)
}

func lambdaOf(d float64) float64 {
	return 1 / math.Max(d, minDistance)
}

// hdbscan clusters standardized points with excess-of-mass selection.
func hdbscan(x [][]float64, p Params) hdbscanOutput {
	n := len(x)
	out := hdbscanOutput{
		labels: make([]int, n),
		probs:  make([]float64, n),
	}
	for i := range out.labels {
		out.labels[i] = -1
	}
	if n < 2 || n < p.MinClusterSize {
		return out
	}

	core := coreDistances(x, p.MinSamples)
	tree := singleLinkage(primMST(x, core), n)
	edges, nClusters := condense(tree, n, p.MinClusterSize)
	stability := stabilities(edges, nClusters)
	selected, parentOf := selectEOM(edges, stability, nClusters, p.AllowSingleCluster)

	// selected clusters get labels in id order
	labelOf := make(map[int]int)
	for c := 0; c < nClusters; c++ {
		if selected[c] {
			labelOf[c] = len(labelOf)
			out.stability = append(out.stability, stability[c])
		}
	}

	pointLambda := make([]float64, n)
	for _, e := range edges {
		if !e.point {
			continue
		}
		pointLambda[e.child] = e.lambda
		c := e.parent
		for c >= 0 && !selected[c] {
			c = parentOf[c]
		}
		if c >= 0 {
			out.labels[e.child] = labelOf[c]
		}
	}

	maxLambda := make([]float64, len(labelOf))
	for i, l := range out.labels {
		if l >= 0 {
			maxLambda[l] = math.Max(maxLambda[l], pointLambda[i])
		}
	}
	for i, l := range out.labels {
		if l < 0 {
			continue
		}
		m := maxLambda[l]
		if m <= 0 || math.IsInf(m, 0) {
			out.probs[i] = 1
			continue
		}
		out.probs[i] = math.Min(pointLambda[i], m) / m
	}

	return out
}

// coreDistances is the distance from each point to its k-th nearest neighbour,
// not counting the point itself. k is capped at n-1.
func coreDistances(x [][]float64, k int) []float64 {
	n := len(x)
	k = min(k, n-1)
	core := make([]float64, n)
	row := make([]float64, n)
	for i := range x {
		for j := range x {
			row[j] = euclidean(x[i], x[j])
		}
		sorted := slices.Clone(row)
		slices.Sort(sorted)
		core[i] = sorted[k]
	}
	return core
}

// primMST builds the minimum spanning tree of the mutual reachability graph,
// computing distances on the fly, and returns its edges by ascending weight.
func primMST(x [][]float64, core []float64) []mstEdge {
	n := len(x)
	inTree := make([]bool, n)
	best := make([]float64, n)
	from := make([]int, n)
	for i := range best {
		best[i] = math.Inf(1)
	}

	edges := make([]mstEdge, 0, n-1)
	cur := 0
	inTree[cur] = true
	for len(edges) < n-1 {
		next := -1
		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}
			d := max(euclidean(x[cur], x[j]), core[cur], core[j])
			if d < best[j] {
				best[j] = d
				from[j] = cur
			}
			if next < 0 || best[j] < best[next] {
				next = j
			}
		}
		edges = append(edges, mstEdge{a: from[next], b: next, w: best[next]})
		inTree[next] = true
		cur = next
	}

	sort.SliceStable(edges, func(i, j int) bool { return edges[i].w < edges[j].w })
	return edges
}

func singleLinkage(edges []mstEdge, n int) []linkage {
	parent := make([]int, 2*n-1)
	size := make([]int, 2*n-1)
	for i := range parent {
		parent[i] = i
	}
	for i := 0; i < n; i++ {
		size[i] = 1
	}
	find := func(x int) int {
		root := x
		for parent[root] != root {
			root = parent[root]
		}
		for parent[x] != root {
			x, parent[x] = parent[x], root
		}
		return root
	}

	out := make([]linkage, 0, n-1)
	for k, e := range edges {
		a, b := find(e.a), find(e.b)
		node := n + k
		parent[a], parent[b] = node, node
		size[node] = size[a] + size[b]
		out = append(out, linkage{left: a, right: b, dist: e.w, size: size[node]})
	}
	return out
}

// condense walks the hierarchy from the root. A split where both sides hold at
// least minSize points creates two child clusters; otherwise the small side's
// points fall out and the cluster continues down the large side. Merges at
// zero distance never split: duplicates are indistinguishable.
func condense(tree []linkage, n, minSize int) ([]condensedEdge, int) {
	sizeOf := func(node int) int {
		if node < n {
			return 1
		}
		return tree[node-n].size
	}
	leaves := func(node int) []int {
		var pts []int
		stack := []int{node}
		for len(stack) > 0 {
			v := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if v < n {
				pts = append(pts, v)
				continue
			}
			stack = append(stack, tree[v-n].left, tree[v-n].right)
		}
		return pts
	}

	root := 2*n - 2
	relabel := make([]int, 2*n-1)
	relabel[root] = 0
	next := 1

	var edges []condensedEdge
	fallOut := func(parent, node int, lambda float64) {
		for _, pt := range leaves(node) {
			edges = append(edges, condensedEdge{parent: parent, child: pt, point: true, lambda: lambda, size: 1})
		}
	}

	queue := []int{root}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node < n {
			continue
		}

		link := tree[node-n]
		lambda := lambdaOf(link.dist)
		parent := relabel[node]
		lc, rc := sizeOf(link.left), sizeOf(link.right)

		switch {
		case link.dist <= 0 || (lc < minSize && rc < minSize):
			fallOut(parent, link.left, lambda)
			fallOut(parent, link.right, lambda)
		case lc >= minSize && rc >= minSize:
			for _, child := range []int{link.left, link.right} {
				relabel[child] = next
				edges = append(edges, condensedEdge{parent: parent, child: next, lambda: lambda, size: sizeOf(child)})
				next++
				queue = append(queue, child)
			}
		case lc < minSize:
			fallOut(parent, link.left, lambda)
			relabel[link.right] = parent
			queue = append(queue, link.right)
		default:
			fallOut(parent, link.right, lambda)
			relabel[link.left] = parent
			queue = append(queue, link.left)
		}
	}
	return edges, next
}

// stabilities sums (lambda_p - lambda_birth) * size over everything leaving each cluster.
func stabilities(edges []condensedEdge, nClusters int) []float64 {
	birth := make([]float64, nClusters)
	for _, e := range edges {
		if !e.point {
			birth[e.child] = e.lambda
		}
	}
	stab := make([]float64, nClusters)
	for _, e := range edges {
		stab[e.parent] += (e.lambda - birth[e.parent]) * float64(e.size)
	}
	return stab
}

// selectEOM picks the set of non-overlapping clusters with maximal total
// stability. The root takes part only when allowSingle is set. The returned
// stability slice is not modified.
func selectEOM(edges []condensedEdge, stability []float64, nClusters int, allowSingle bool) ([]bool, []int) {
	children := make([][]int, nClusters)
	parentOf := make([]int, nClusters)
	parentOf[0] = -1
	for _, e := range edges {
		if !e.point {
			children[e.parent] = append(children[e.parent], e.child)
			parentOf[e.child] = e.parent
		}
	}

	best := slices.Clone(stability)
	selected := make([]bool, nClusters)

	var deselect func(c int)
	deselect = func(c int) {
		for _, ch := range children[c] {
			selected[ch] = false
			deselect(ch)
		}
	}

	stop := 1
	if allowSingle {
		stop = 0
	}
	for c := nClusters - 1; c >= stop; c-- {
		if len(children[c]) == 0 {
			selected[c] = true
			continue
		}
		var sub float64
		for _, ch := range children[c] {
			sub += best[ch]
		}
		if sub > best[c] {
			best[c] = sub
			selected[c] = false
		} else {
			selected[c] = true
			deselect(c)
		}
	}
	return selected, parentOf
}
