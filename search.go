package main

import (
	"cmp"
	"context"
	"slices"
	"time"

	"go.uber.org/zap"
)

// ── Ordering ────────────────────────────────────────────────────────

// conditionRank orders conditions by how few slots satisfy them.
func conditionRank(c Condition) int {
	switch c {
	case CondBothNeighborsEmpty:
		return 5
	case CondInterior:
		return 4
	case CondTopRow, CondBottomRow:
		return 3
	case CondEdge:
		return 2
	}
	return 1
}

// placementOrder returns piece indices with the most constrained pieces
// first, slates ahead of artifacts, input order otherwise.
func placementOrder(pieces []Piece) []int {
	order := make([]int, len(pieces))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		pa, pb := &pieces[a], &pieces[b]
		if c := cmp.Compare(conditionRank(pb.Condition), conditionRank(pa.Condition)); c != 0 {
			return c
		}
		if pa.IsSlate() != pb.IsSlate() {
			if pa.IsSlate() {
				return -1
			}
			return 1
		}
		return 0
	})
	return order
}

// ── Backtracking ────────────────────────────────────────────────────

// Backtracking is the exhaustive branch-and-bound strategy. Given the same
// input and enough time it always returns the same placement.
type Backtracking struct {
	cfg       Config
	logger    *zap.Logger
	onImprove func(Progress)
}

func NewBacktracking(cfg Config, logger *zap.Logger, onImprove func(Progress)) *Backtracking {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backtracking{cfg: cfg, logger: logger, onImprove: onImprove}
}

func (b *Backtracking) Name() string { return StrategyBacktracking }

// searchContext is the working state of one backtracking run. Nothing in
// it outlives the run.
type searchContext struct {
	ctx     context.Context
	prob    *Problem
	order   []int   // order[i] = index into prob.Pieces of the i-th piece placed
	pieces  []Piece // prob.Pieces permuted by order
	grid    *Grid   // cells index pieces, not prob.Pieces
	scratch [][]int // per-depth buff buffers for slate placements

	remMax     []int  // memo: sum of maxLevel over artifacts at positions >= i; -1 = unset
	slateAfter []bool // a slate sits at some position >= i
	totalMax   int

	bestScore int // -1 until a complete placement is found
	bestGrid  *Grid
	optimal   bool

	nodes   int64
	poll    int64
	stopped bool
	start   time.Time

	onImprove func(Progress)
}

func newSearchContext(ctx context.Context, prob *Problem, poll int) *searchContext {
	order := placementOrder(prob.Pieces)
	n := len(order)
	sc := &searchContext{
		ctx:        ctx,
		prob:       prob,
		order:      order,
		pieces:     make([]Piece, n),
		grid:       NewGrid(prob.MaxSlots, prob.ActiveSlots),
		scratch:    make([][]int, n),
		remMax:     make([]int, n+1),
		slateAfter: make([]bool, n+1),
		totalMax:   MaxPossibleScore(prob.Pieces),
		bestScore:  -1,
		poll:       int64(max(1, poll)),
		start:      time.Now(),
	}
	for i, idx := range order {
		sc.pieces[i] = prob.Pieces[idx]
		sc.scratch[i] = make([]int, prob.MaxSlots)
	}
	for i := range sc.remMax {
		sc.remMax[i] = -1
	}
	for i := n - 1; i >= 0; i-- {
		sc.slateAfter[i] = sc.slateAfter[i+1] || sc.pieces[i].IsSlate()
	}
	return sc
}

// remainingMax is the memoized sum of maxLevel over artifacts not yet
// placed at depth i.
func (sc *searchContext) remainingMax(i int) int {
	if v := sc.remMax[i]; v >= 0 {
		return v
	}
	total := 0
	for j := i; j < len(sc.pieces); j++ {
		if sc.pieces[j].IsArtifact() {
			total += max(0, sc.pieces[j].MaxLevel)
		}
	}
	sc.remMax[i] = total
	return total
}

// upperBound is the best final score reachable from depth i. While a slate
// is still to be placed, already placed artifacts may still gain levels, so
// they are bounded by their maxLevel instead of their running score.
func (sc *searchContext) upperBound(i, running int) int {
	if sc.slateAfter[i] {
		return sc.totalMax
	}
	return running + sc.remainingMax(i)
}

// tick counts a node and polls for cancellation every poll nodes.
func (sc *searchContext) tick() bool {
	sc.nodes++
	if sc.nodes%sc.poll == 0 && sc.ctx.Err() != nil {
		sc.stopped = true
	}
	return sc.stopped
}

func (sc *searchContext) done() bool { return sc.stopped || sc.optimal }

// place tries every legal slot for piece i. buffs is the buff field of the
// current grid and running the score of the artifacts placed so far.
func (sc *searchContext) place(i int, buffs []int, running int) {
	if sc.tick() || sc.optimal {
		return
	}
	if sc.bestScore >= 0 && sc.upperBound(i, running) <= sc.bestScore {
		return
	}
	if i == len(sc.pieces) {
		if running > sc.bestScore {
			sc.record(running)
		}
		return
	}

	p := &sc.pieces[i]
	g := sc.grid
	for s := 0; s < g.Active; s++ {
		if !g.Empty(s) || !IsPlacementLegal(s, p.Condition, g) {
			continue
		}
		switch {
		case p.IsSlate() && p.Rotatable:
			for _, rot := range rotations {
				g.Cells[s] = Cell{Piece: i, Rot: rot}
				sc.placeSlate(i)
				if sc.done() {
					break
				}
			}
		case p.IsSlate():
			g.Cells[s] = Cell{Piece: i, Rot: p.Rotation}
			sc.placeSlate(i)
		default:
			g.Cells[s] = Cell{Piece: i}
			sc.place(i+1, buffs, running+artifactLevel(p, buffs[s]))
		}
		g.Cells[s] = emptyCell
		if sc.done() {
			return
		}
	}
}

// placeSlate recomputes the buff field after the slate at depth i moved and
// descends with a fully rescored grid.
func (sc *searchContext) placeSlate(i int) {
	buffs := sc.scratch[i]
	computeBuffsInto(sc.pieces, sc.grid, buffs)
	sc.place(i+1, buffs, scoreWithBuffs(sc.pieces, sc.grid, buffs))
}

func (sc *searchContext) record(score int) {
	sc.bestScore = score
	sc.bestGrid = sc.toProblemGrid(sc.grid)
	if score >= sc.totalMax {
		sc.optimal = true
	}
	if sc.onImprove != nil {
		sc.onImprove(Progress{
			Strategy:  StrategyBacktracking,
			Score:     score,
			Grid:      gridIDs(sc.prob, sc.bestGrid),
			ElapsedMs: time.Since(sc.start).Milliseconds(),
		})
	}
}

// toProblemGrid copies g with cell indices mapped back to prob.Pieces.
func (sc *searchContext) toProblemGrid(g *Grid) *Grid {
	out := g.Clone()
	for i, c := range out.Cells {
		if c.Piece >= 0 {
			out.Cells[i].Piece = sc.order[c.Piece]
		}
	}
	return out
}

// Run explores every legal total assignment, pruned by the score bound,
// until it finishes or ctx is done.
func (b *Backtracking) Run(ctx context.Context, prob *Problem) Result {
	sc := newSearchContext(ctx, prob, b.cfg.PollInterval)
	sc.onImprove = b.onImprove

	ordered := make([]string, len(sc.pieces))
	for i := range sc.pieces {
		ordered[i] = sc.pieces[i].InstanceID
	}
	b.logger.Debug("[order] placement order", zap.Strings("pieces", ordered))

	sc.place(0, make([]int, prob.MaxSlots), 0)

	res := newResult(StrategyBacktracking, prob)
	res.Nodes = sc.nodes
	res.TimedOut = sc.stopped
	if sc.bestScore >= 0 {
		res.setGrid(prob, sc.bestGrid, sc.bestScore)
	}
	b.logger.Info("[bnb] search finished",
		zap.Int("best", sc.bestScore),
		zap.Int64("nodes", sc.nodes),
		zap.Bool("timedOut", sc.stopped),
		zap.Bool("optimal", sc.optimal))
	return res
}

// ── Feasibility ─────────────────────────────────────────────────────

// FindFeasible returns the first complete legal placement in search order,
// ignoring score. ok is false when none exists or ctx ended first.
func FindFeasible(ctx context.Context, prob *Problem) (g *Grid, ok bool) {
	sc := newSearchContext(ctx, prob, DefaultConfig().PollInterval)
	if sc.firstFit(0) {
		return sc.toProblemGrid(sc.grid), true
	}
	return nil, false
}

func (sc *searchContext) firstFit(i int) bool {
	if sc.tick() {
		return false
	}
	if i == len(sc.pieces) {
		return true
	}
	p := &sc.pieces[i]
	g := sc.grid
	for s := 0; s < g.Active; s++ {
		if !g.Empty(s) || !IsPlacementLegal(s, p.Condition, g) {
			continue
		}
		g.Cells[s] = Cell{Piece: i, Rot: p.Rotation}
		if sc.firstFit(i + 1) {
			return true
		}
		g.Cells[s] = emptyCell
		if sc.stopped {
			return false
		}
	}
	return false
}
