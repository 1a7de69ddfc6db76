package hnsw

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/vecseg/filter"
	"github.com/hupe1980/vecseg/index"
	"github.com/hupe1980/vecseg/index/plain"
	"github.com/hupe1980/vecseg/internal/pq"
	"github.com/hupe1980/vecseg/model"
	"github.com/hupe1980/vecseg/vectorstore"
)

const (
	// minimumM is the smallest fan-out that keeps the level multiplier finite.
	minimumM = 2

	// mmax0Multiplier scales the fan-out of layer 0.
	mmax0Multiplier = 2

	// ctxCheckInterval is how many graph expansions run between context checks.
	ctxCheckInterval = 256
)

// Config holds the persisted graph tunables.
type Config struct {
	// M is the number of links per node above layer 0. Layer 0 allows 2*M.
	M int `json:"m"`
	// EfConstruct is the candidate list size while linking, and the default
	// query breadth.
	EfConstruct int `json:"ef_construct"`
	// FullScanThreshold is the filter cardinality below which a filtered
	// search scores the filter matches exactly instead of using the graph.
	FullScanThreshold int `json:"full_scan_threshold"`
}

// DefaultConfig is used when a segment asks for hnsw without tunables.
var DefaultConfig = Config{
	M:                 16,
	EfConstruct:       100,
	FullScanThreshold: 10000,
}

// Validate checks the tunables.
func (c Config) Validate() error {
	if c.M < minimumM {
		return fmt.Errorf("hnsw: m must be at least %d, got %d", minimumM, c.M)
	}
	if c.EfConstruct < 1 {
		return fmt.Errorf("hnsw: ef_construct must be positive, got %d", c.EfConstruct)
	}
	if c.FullScanThreshold < 0 {
		return fmt.Errorf("hnsw: full_scan_threshold must not be negative, got %d", c.FullScanThreshold)
	}
	return nil
}

var _ index.Index = (*Index)(nil)

type node struct {
	level int
	links [][]model.PointOffset
}

// Index is safe for concurrent use: searches share a read lock, graph
// mutations take the write lock.
type Index struct {
	mu sync.RWMutex

	cfg      Config
	mmax     int
	mmax0    int
	ml       float64
	vectors  vectorstore.Storage
	payloads index.PayloadIndex
	exact    *plain.Index

	nodes    []*node
	entry    model.PointOffset
	maxLevel int
	hasEntry bool
	stale    *roaring.Bitmap

	visitedPool sync.Pool
}

// New creates an empty graph over vectors. Call Build to link existing points.
func New(vectors vectorstore.Storage, payloads index.PayloadIndex, cfg Config) (*Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Index{
		cfg:      cfg,
		mmax:     cfg.M,
		mmax0:    mmax0Multiplier * cfg.M,
		ml:       1 / math.Log(float64(cfg.M)),
		vectors:  vectors,
		payloads: payloads,
		exact:    plain.New(vectors, payloads),
		stale:    roaring.New(),
		visitedPool: sync.Pool{
			New: func() any { return bitset.New(1024) },
		},
	}, nil
}

// Build discards the graph and links every live offset in ascending order.
func (h *Index) Build(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nodes = nil
	h.hasEntry = false
	h.maxLevel = 0
	h.stale.Clear()

	n := h.vectors.VectorCount()
	for i := 0; i < n; i++ {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		off := model.PointOffset(i) //nolint:gosec
		if h.vectors.IsDeleted(off) {
			continue
		}
		if err := h.insert(off); err != nil {
			return err
		}
	}
	return nil
}

// UpdatePoint links a new offset, or marks a linked one stale.
func (h *Index) UpdatePoint(offset model.PointOffset) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.node(offset) != nil {
		h.stale.Add(uint32(offset))
		return nil
	}
	return h.insert(offset)
}

// DropPoint keeps the node for navigation; liveness excludes it from results.
func (h *Index) DropPoint(offset model.PointOffset) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stale.Remove(uint32(offset))
}

// Stats describes the graph.
type Stats struct {
	Nodes    int     `json:"nodes"`
	Stale    int     `json:"stale"`
	MaxLevel int     `json:"max_level"`
	AvgLinks float64 `json:"avg_links"`
}

// Stats returns graph statistics.
func (h *Index) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var s Stats
	links := 0
	for _, nd := range h.nodes {
		if nd == nil {
			continue
		}
		s.Nodes++
		links += len(nd.links[0])
	}
	if s.Nodes > 0 {
		s.AvgLinks = float64(links) / float64(s.Nodes)
	}
	s.Stale = int(h.stale.GetCardinality()) //nolint:gosec
	s.MaxLevel = h.maxLevel
	return s
}

// Search returns the best topK live offsets accepted by f.
func (h *Index) Search(ctx context.Context, query []float32, f *filter.Filter, topK int, params *index.SearchParams) ([]model.ScoredOffset, error) {
	if topK <= 0 {
		return []model.ScoredOffset{}, nil
	}
	if !f.IsEmpty() && h.payloads.EstimateCardinality(f).Max < h.cfg.FullScanThreshold {
		return h.exact.Search(ctx, query, f, topK, params)
	}

	score, err := h.queryScorer(query)
	if err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.hasEntry {
		return h.exact.Search(ctx, query, f, topK, params)
	}

	ef := h.cfg.EfConstruct
	if params != nil && params.HNSWEf > 0 {
		ef = params.HNSWEf
	}
	ef = max(ef, topK)

	accept := func(off model.PointOffset) bool {
		if h.stale.Contains(uint32(off)) {
			return false
		}
		if f.IsEmpty() {
			return !h.vectors.IsDeleted(off)
		}
		return h.payloads.Check(off, f)
	}

	ep := h.greedy(score, 0)
	found, err := h.searchLayer(ctx, score, ep, ef, 0, accept)
	if err != nil {
		return nil, err
	}

	merged := pq.NewWorstFirst(topK)
	for _, r := range found.Sorted() {
		merged.PushBounded(r, topK)
	}

	if !h.stale.IsEmpty() {
		tail := make([]model.PointOffset, 0, h.stale.GetCardinality())
		it := h.stale.Iterator()
		for it.HasNext() {
			off := model.PointOffset(it.Next())
			if f.IsEmpty() || h.payloads.Check(off, f) {
				tail = append(tail, off)
			}
		}
		scored, err := h.vectors.ScorePoints(ctx, query, tail, topK)
		if err != nil {
			return nil, err
		}
		for _, r := range scored {
			merged.PushBounded(r, topK)
		}
	}
	return merged.Sorted(), nil
}

// scoreFunc scores an offset against a fixed query. Unallocated offsets score -Inf.
type scoreFunc func(model.PointOffset) float32

func (h *Index) queryScorer(query []float32) (scoreFunc, error) {
	s, err := h.vectors.Scorer(query)
	if err != nil {
		return nil, err
	}
	return func(off model.PointOffset) float32 {
		v, ok := s(off)
		if !ok {
			return float32(math.Inf(-1))
		}
		return v
	}, nil
}

func (h *Index) node(off model.PointOffset) *node {
	if int(off) >= len(h.nodes) {
		return nil
	}
	return h.nodes[off]
}

func (h *Index) links(off model.PointOffset, level int) []model.PointOffset {
	nd := h.node(off)
	if nd == nil || level >= len(nd.links) {
		return nil
	}
	return nd.links[level]
}

// levelFor derives a node level from its offset (splitmix64), so a rebuild
// assigns the same levels.
func (h *Index) levelFor(off model.PointOffset) int {
	x := uint64(off) + 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	x ^= x >> 31
	const inv = 1.0 / (1 << 53)
	r := float64(x>>11) * inv
	if r == 0 {
		r = inv
	}
	return int(math.Floor(-math.Log(r) * h.ml))
}

// greedy descends from the entry point to the given level, moving to the best
// neighbour on each layer until no neighbour improves.
func (h *Index) greedy(score scoreFunc, toLevel int) model.ScoredOffset {
	cur := model.ScoredOffset{Offset: h.entry, Score: score(h.entry)}
	for level := h.maxLevel; level > toLevel; level-- {
		changed := true
		for changed {
			changed = false
			for _, next := range h.links(cur.Offset, level) {
				cand := model.ScoredOffset{Offset: next, Score: score(next)}
				if pq.Better(cand, cur) {
					cur = cand
					changed = true
				}
			}
		}
	}
	return cur
}

// searchLayer explores one layer from ep and returns up to ef accepted nodes
// in a worst-on-top queue. With a nil accept every node is accepted.
func (h *Index) searchLayer(ctx context.Context, score scoreFunc, ep model.ScoredOffset, ef, level int, accept func(model.PointOffset) bool) (*pq.Queue, error) {
	visited := h.visitedPool.Get().(*bitset.BitSet)
	visited.ClearAll()
	defer h.visitedPool.Put(visited)

	candidates := pq.NewBestFirst(ef)
	results := pq.NewWorstFirst(ef)

	visited.Set(uint(ep.Offset))
	candidates.Push(ep)
	if accept == nil || accept(ep.Offset) {
		results.Push(ep)
	}

	for steps := 0; candidates.Len() > 0; steps++ {
		if steps%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		cur, _ := candidates.Pop()
		if results.Len() >= ef {
			if worst, _ := results.Top(); pq.Better(worst, cur) {
				break
			}
		}

		for _, next := range h.links(cur.Offset, level) {
			if visited.Test(uint(next)) {
				continue
			}
			visited.Set(uint(next))

			item := model.ScoredOffset{Offset: next, Score: score(next)}

			// Without a filter, skip candidates that cannot enter a full result
			// set. With a filter the traversal stays permissive so it is not
			// trapped behind rejected regions.
			if accept == nil && results.Len() >= ef {
				if worst, _ := results.Top(); !pq.Better(item, worst) {
					continue
				}
			}

			candidates.Push(item)
			if accept == nil || accept(next) {
				results.PushBounded(item, ef)
			}
		}
	}
	return results, nil
}

var errNoVector = errors.New("hnsw: offset has no vector")

// insert links off into the graph. Callers hold the write lock.
func (h *Index) insert(off model.PointOffset) error {
	vec, ok := h.vectors.Get(off)
	if !ok {
		return fmt.Errorf("%w: %d", errNoVector, off)
	}
	score, err := h.queryScorer(vec)
	if err != nil {
		return err
	}

	level := h.levelFor(off)
	nd := &node{level: level, links: make([][]model.PointOffset, level+1)}
	if int(off) >= len(h.nodes) {
		h.nodes = append(h.nodes, make([]*node, int(off)+1-len(h.nodes))...)
	}
	h.nodes[off] = nd

	if !h.hasEntry {
		h.entry, h.maxLevel, h.hasEntry = off, level, true
		return nil
	}

	ep := h.greedy(score, level)
	for l := min(level, h.maxLevel); l >= 0; l-- {
		found, err := h.searchLayer(context.Background(), score, ep, h.cfg.EfConstruct, l, func(o model.PointOffset) bool { return o != off })
		if err != nil {
			return err
		}
		sorted := found.Sorted()
		if len(sorted) > 0 {
			ep = sorted[0]
		}

		maxM := h.mmax
		if l == 0 {
			maxM = h.mmax0
		}
		nd.links[l] = h.selectNeighbors(sorted, maxM)
		for _, nb := range nd.links[l] {
			h.addConnection(nb, off, l)
		}
	}

	if level > h.maxLevel {
		h.entry, h.maxLevel = off, level
	}
	return nil
}

// addConnection links src to dst on level, pruning src's links when full.
func (h *Index) addConnection(src, dst model.PointOffset, level int) {
	nd := h.node(src)
	if nd == nil || level > nd.level {
		return
	}
	conns := nd.links[level]
	for _, c := range conns {
		if c == dst {
			return
		}
	}

	maxM := h.mmax
	if level == 0 {
		maxM = h.mmax0
	}
	if len(conns) < maxM {
		nd.links[level] = append(conns, dst)
		return
	}

	srcVec, ok := h.vectors.Get(src)
	if !ok {
		return
	}
	score, err := h.queryScorer(srcVec)
	if err != nil {
		return
	}
	q := pq.NewWorstFirst(len(conns) + 1)
	for _, c := range append(conns, dst) {
		q.Push(model.ScoredOffset{Offset: c, Score: score(c)})
	}
	nd.links[level] = h.selectNeighbors(q.Sorted(), maxM)
}

// selectNeighbors applies the relative neighbourhood heuristic to candidates
// sorted best first: a candidate is kept only if it is closer to the base
// than to every neighbour kept so far. Remaining slots are filled with the
// best rejected candidates.
func (h *Index) selectNeighbors(candidates []model.ScoredOffset, m int) []model.PointOffset {
	out := make([]model.PointOffset, 0, min(m, len(candidates)))
	if len(candidates) <= m {
		for _, c := range candidates {
			out = append(out, c.Offset)
		}
		return out
	}

	var skipped []model.PointOffset
	for _, cand := range candidates {
		if len(out) >= m {
			break
		}
		vec, ok := h.vectors.Get(cand.Offset)
		if !ok {
			continue
		}
		score, err := h.queryScorer(vec)
		if err != nil {
			continue
		}
		good := true
		for _, kept := range out {
			if score(kept) > cand.Score {
				good = false
				break
			}
		}
		if good {
			out = append(out, cand.Offset)
		} else {
			skipped = append(skipped, cand.Offset)
		}
	}
	for _, s := range skipped {
		if len(out) >= m {
			break
		}
		out = append(out, s)
	}
	return out
}
