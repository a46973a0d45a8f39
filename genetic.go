package main

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Evolutionary is the anytime genetic strategy. It is randomized: the same
// problem can yield different placements across runs unless Config.Seed is
// set.
type Evolutionary struct {
	cfg       Config
	logger    *zap.Logger
	onImprove func(Progress)
}

func NewEvolutionary(cfg Config, logger *zap.Logger, onImprove func(Progress)) *Evolutionary {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evolutionary{cfg: cfg, logger: logger, onImprove: onImprove}
}

func (e *Evolutionary) Name() string { return StrategyEvolutionary }

type genome struct {
	grid    *Grid
	fitness int
}

func (g genome) clone() genome {
	return genome{grid: g.grid.Clone(), fitness: g.fitness}
}

// evolution is the working state of one evolutionary run.
type evolution struct {
	cfg    Config
	prob   *Problem
	rng    *rand.Rand
	pieces []Piece
}

func newRNG(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func (ev *evolution) fitness(g *Grid) int {
	return ComputeScore(ev.pieces, g)
}

// randomGenome places pieces in random order, each into the first legal
// slot of a random slot permutation. Returns false if some piece found no
// slot.
func (ev *evolution) randomGenome() (genome, bool) {
	g := NewGrid(ev.prob.MaxSlots, ev.prob.ActiveSlots)
	for _, pi := range ev.rng.Perm(len(ev.pieces)) {
		p := &ev.pieces[pi]
		placed := false
		for _, s := range ev.rng.Perm(g.Active) {
			if g.Empty(s) && IsPlacementLegal(s, p.Condition, g) {
				g.Cells[s] = Cell{Piece: pi, Rot: ev.initialRotation(p)}
				placed = true
				break
			}
		}
		if !placed {
			return genome{}, false
		}
	}
	return genome{grid: g, fitness: ev.fitness(g)}, true
}

func (ev *evolution) initialRotation(p *Piece) Rotation {
	if p.IsSlate() && p.Rotatable {
		return rotations[ev.rng.IntN(len(rotations))]
	}
	if p.IsSlate() {
		return p.Rotation
	}
	return 0
}

// completeGenome retries randomGenome up to MaxGenomeAttempts times.
func (ev *evolution) completeGenome(ctx context.Context) (genome, bool) {
	for attempt := 0; attempt < ev.cfg.MaxGenomeAttempts; attempt++ {
		if g, ok := ev.randomGenome(); ok {
			return g, true
		}
		if attempt%64 == 63 && ctx.Err() != nil {
			break
		}
	}
	return genome{}, false
}

// tournament returns the fittest of TournamentSize random contenders.
func (ev *evolution) tournament(pop []genome) genome {
	best := pop[ev.rng.IntN(len(pop))]
	for k := 1; k < ev.cfg.TournamentSize; k++ {
		c := pop[ev.rng.IntN(len(pop))]
		if c.fitness > best.fitness {
			best = c
		}
	}
	return best
}

// crossover keeps the first half of a's placed pieces in place and adds
// b's remaining pieces at the first legal empty slot. If that leaves a
// piece out, the fitter parent is copied instead.
func (ev *evolution) crossover(a, b genome) genome {
	child := NewGrid(ev.prob.MaxSlots, ev.prob.ActiveSlots)
	included := make([]bool, len(ev.pieces))

	var occupied []int
	for s, c := range a.grid.Cells {
		if c.Piece >= 0 {
			occupied = append(occupied, s)
		}
	}
	for _, s := range occupied[:len(occupied)/2] {
		child.Cells[s] = a.grid.Cells[s]
		included[a.grid.Cells[s].Piece] = true
	}

	for _, c := range b.grid.Cells {
		if c.Piece < 0 || included[c.Piece] {
			continue
		}
		cond := ev.pieces[c.Piece].Condition
		for s := 0; s < child.Active; s++ {
			if child.Empty(s) && IsPlacementLegal(s, cond, child) {
				child.Cells[s] = c
				included[c.Piece] = true
				break
			}
		}
	}

	if child.Placed() < len(ev.pieces) {
		if b.fitness > a.fitness {
			return b.clone()
		}
		return a.clone()
	}
	return genome{grid: child, fitness: ev.fitness(child)}
}

// mutate swaps the pieces of two random occupied slots with probability
// MutationRate, keeping the swap only if both pieces stay legal.
func (ev *evolution) mutate(g *genome) {
	if ev.rng.Float64() >= ev.cfg.MutationRate {
		return
	}
	var occupied []int
	for s, c := range g.grid.Cells {
		if c.Piece >= 0 {
			occupied = append(occupied, s)
		}
	}
	if len(occupied) < 2 {
		return
	}
	i := ev.rng.IntN(len(occupied))
	j := ev.rng.IntN(len(occupied) - 1)
	if j >= i {
		j++
	}
	s1, s2 := occupied[i], occupied[j]
	cells := g.grid.Cells
	cells[s1], cells[s2] = cells[s2], cells[s1]
	if !IsPlacementLegal(s1, ev.pieces[cells[s1].Piece].Condition, g.grid) ||
		!IsPlacementLegal(s2, ev.pieces[cells[s2].Piece].Condition, g.grid) {
		cells[s1], cells[s2] = cells[s2], cells[s1]
		return
	}
	g.fitness = ev.fitness(g.grid)
}

// Run evolves generations until ctx is done, MaxGenerations is reached or
// a genome hits the maximum possible score. The best genome ever seen is
// returned.
func (e *Evolutionary) Run(ctx context.Context, prob *Problem) Result {
	start := time.Now()
	ev := &evolution{cfg: e.cfg, prob: prob, rng: newRNG(e.cfg.Seed), pieces: prob.Pieces}
	res := newResult(StrategyEvolutionary, prob)

	var best genome
	haveBest := false
	improve := func(g genome) {
		if haveBest && g.fitness <= best.fitness {
			return
		}
		best = g.clone()
		haveBest = true
		if e.onImprove != nil {
			e.onImprove(Progress{
				Strategy:  StrategyEvolutionary,
				Score:     best.fitness,
				Grid:      gridIDs(prob, best.grid),
				ElapsedMs: time.Since(start).Milliseconds(),
			})
		}
	}

	pop := make([]genome, 0, e.cfg.PopulationSize)
	for len(pop) < e.cfg.PopulationSize {
		if ctx.Err() != nil {
			res.TimedOut = true
			break
		}
		g, ok := ev.completeGenome(ctx)
		if !ok {
			break
		}
		pop = append(pop, g)
		improve(g)
	}
	if len(pop) == 0 {
		e.logger.Info("[ga] no complete genome", zap.Int("attempts", e.cfg.MaxGenomeAttempts))
		res.TimedOut = ctx.Err() != nil
		return res
	}

	gen := 0
	for ; ; gen++ {
		if best.fitness >= res.MaxScore {
			break
		}
		if e.cfg.MaxGenerations > 0 && gen >= e.cfg.MaxGenerations {
			break
		}
		if ctx.Err() != nil {
			res.TimedOut = true
			break
		}
		next := make([]genome, 0, len(pop))
		for len(next) < len(pop) {
			child := ev.crossover(ev.tournament(pop), ev.tournament(pop))
			ev.mutate(&child)
			next = append(next, child)
			improve(child)
		}
		pop = next
		if gen%100 == 0 {
			e.logger.Debug("[ga] generation", zap.Int("gen", gen), zap.Int("best", best.fitness))
		}
	}

	res.Generations = gen
	res.setGrid(prob, best.grid, best.fitness)
	e.logger.Info("[ga] search finished",
		zap.Int("best", best.fitness),
		zap.Int("generations", gen),
		zap.Int("population", len(pop)),
		zap.Bool("timedOut", res.TimedOut))
	return res
}
