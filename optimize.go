package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	StrategyBacktracking = "backtracking"
	StrategyEvolutionary = "evolutionary"
	StrategyPortfolio    = "portfolio"
)

var (
	ErrInvalidPiece    = errors.New("invalid piece")
	ErrInvalidProblem  = errors.New("invalid problem")
	ErrUnknownStrategy = errors.New("unknown strategy")
)

func strategyByName(name string) (string, error) {
	switch name {
	case StrategyBacktracking, StrategyEvolutionary, StrategyPortfolio:
		return name, nil
	case "bnb", "bt":
		return StrategyBacktracking, nil
	case "ga":
		return StrategyEvolutionary, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// Problem is one optimization input. Pieces is treated as read-only by
// every strategy.
type Problem struct {
	Pieces      []Piece
	ActiveSlots int
	MaxSlots    int
}

// Validate rejects malformed input before any search work begins.
func (p *Problem) Validate() error {
	if p.MaxSlots <= 0 {
		return fmt.Errorf("%w: maxSlots must be positive, got %d", ErrInvalidProblem, p.MaxSlots)
	}
	if p.MaxSlots > MaxSlotsLimit {
		return fmt.Errorf("%w: maxSlots %d exceeds the limit of %d", ErrInvalidProblem, p.MaxSlots, MaxSlotsLimit)
	}
	if p.ActiveSlots < 0 || p.ActiveSlots > p.MaxSlots {
		return fmt.Errorf("%w: activeSlots %d outside [0, %d]", ErrInvalidProblem, p.ActiveSlots, p.MaxSlots)
	}
	seen := make(map[string]bool, len(p.Pieces))
	for i := range p.Pieces {
		pc := &p.Pieces[i]
		if pc.InstanceID == "" {
			return fmt.Errorf("%w: piece %d (%s) has no instance id", ErrInvalidPiece, i, pc.ID)
		}
		if seen[pc.InstanceID] {
			return fmt.Errorf("%w: duplicate instance id %q", ErrInvalidPiece, pc.InstanceID)
		}
		seen[pc.InstanceID] = true
		if !pc.Condition.valid() {
			return fmt.Errorf("%w: %s: unknown condition %d", ErrInvalidPiece, pc.InstanceID, pc.Condition)
		}
		switch pc.Kind {
		case KindArtifact:
			if pc.BaseLevel < 0 || pc.MaxLevel < 0 {
				return fmt.Errorf("%w: %s: negative level (base=%d, max=%d)",
					ErrInvalidPiece, pc.InstanceID, pc.BaseLevel, pc.MaxLevel)
			}
		case KindSlate:
			if !pc.Rotation.valid() {
				return fmt.Errorf("%w: %s: rotation %d is not one of 0/90/180/270",
					ErrInvalidPiece, pc.InstanceID, pc.Rotation)
			}
			for j, b := range pc.Buffs {
				if b.Kind < BuffUnconditional || b.Kind > BuffBottomRowOnly {
					return fmt.Errorf("%w: %s: buff %d has unknown kind %d", ErrInvalidPiece, pc.InstanceID, j, b.Kind)
				}
			}
		default:
			return fmt.Errorf("%w: %s: unknown kind %d", ErrInvalidPiece, pc.InstanceID, pc.Kind)
		}
	}
	return nil
}

// Progress is emitted every time a strategy finds a strictly better
// placement. Scores are non-decreasing within one run.
type Progress struct {
	Strategy  string   `json:"strategy"`
	Score     int      `json:"score"`
	Grid      []string `json:"grid"`
	ElapsedMs int64    `json:"elapsedMs"`
}

// Result is the outcome of one run. BestGrid holds one instance id per
// slot ("" for empty) and Rotations the orientation of each placed slate.
type Result struct {
	RunID       string   `json:"runId"`
	Strategy    string   `json:"strategy"`
	BestGrid    []string `json:"bestGrid"`
	Rotations   []int    `json:"rotations"`
	BestScore   int      `json:"bestScore"`
	MaxScore    int      `json:"maxScore"`
	TimedOut    bool     `json:"timedOut"`
	Feasible    bool     `json:"feasible"`
	Nodes       int64    `json:"nodes,omitempty"`
	Generations int      `json:"generations,omitempty"`
	ElapsedMs   int64    `json:"elapsedMs"`

	grid *Grid // indexes Problem.Pieces
}

// Grid returns the best placement, or nil when none was found.
func (r *Result) Grid() *Grid { return r.grid }

func newResult(strategy string, prob *Problem) Result {
	return Result{
		Strategy:  strategy,
		BestGrid:  make([]string, prob.MaxSlots),
		Rotations: make([]int, prob.MaxSlots),
		MaxScore:  MaxPossibleScore(prob.Pieces),
	}
}

// setGrid records g (indexing prob.Pieces) as the result placement.
func (r *Result) setGrid(prob *Problem, g *Grid, score int) {
	r.grid = g
	r.BestScore = score
	r.Feasible = true
	for i, c := range g.Cells {
		if c.Piece < 0 {
			r.BestGrid[i] = ""
			r.Rotations[i] = 0
			continue
		}
		r.BestGrid[i] = prob.Pieces[c.Piece].InstanceID
		r.Rotations[i] = int(c.Rot)
	}
}

func gridIDs(prob *Problem, g *Grid) []string {
	ids := make([]string, len(g.Cells))
	for i, c := range g.Cells {
		if c.Piece >= 0 {
			ids[i] = prob.Pieces[c.Piece].InstanceID
		}
	}
	return ids
}

// PlacementStrategy is one interchangeable search algorithm. Run must
// return promptly once ctx is done, reporting its best placement so far.
type PlacementStrategy interface {
	Name() string
	Run(ctx context.Context, prob *Problem) Result
}

// Optimizer validates problems and runs a strategy under a deadline.
type Optimizer struct {
	cfg       Config
	logger    *zap.Logger
	onImprove func(Progress)
}

func NewOptimizer(cfg Config, logger *zap.Logger) *Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{cfg: cfg, logger: logger}
}

// OnImprove registers a callback for incumbent improvements. It runs on
// the search goroutine and must not block.
func (o *Optimizer) OnImprove(fn func(Progress)) { o.onImprove = fn }

func (o *Optimizer) strategy(name string) (PlacementStrategy, error) {
	name, err := strategyByName(name)
	if err != nil {
		return nil, err
	}
	switch name {
	case StrategyEvolutionary:
		return NewEvolutionary(o.cfg, o.logger, o.onImprove), nil
	case StrategyPortfolio:
		return &portfolio{opt: o}, nil
	}
	return NewBacktracking(o.cfg, o.logger, o.onImprove), nil
}

// Optimize validates prob and runs the named strategy until it completes
// or cfg.Deadline elapses. An empty name selects cfg.Strategy. Infeasible
// input and timeouts are reported in the Result, never as errors.
func (o *Optimizer) Optimize(ctx context.Context, prob *Problem, strategyName string) (Result, error) {
	if strategyName == "" {
		strategyName = o.cfg.Strategy
	}
	if err := prob.Validate(); err != nil {
		return Result{}, err
	}
	strat, err := o.strategy(strategyName)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	runID := uuid.NewString()
	o.logger.Info("[init] optimize",
		zap.String("run", runID),
		zap.String("strategy", strat.Name()),
		zap.Int("pieces", len(prob.Pieces)),
		zap.Int("activeSlots", prob.ActiveSlots),
		zap.Int("maxSlots", prob.MaxSlots),
		zap.Duration("deadline", o.cfg.Deadline))

	var res Result
	if reason := screenInfeasible(prob); reason != "" {
		o.logger.Info("[screen] infeasible before search", zap.String("run", runID), zap.String("reason", reason))
		res = newResult(strat.Name(), prob)
	} else {
		runCtx, cancel := context.WithTimeout(ctx, o.cfg.Deadline)
		res = strat.Run(runCtx, prob)
		cancel()
	}

	res.RunID = runID
	res.ElapsedMs = time.Since(start).Milliseconds()
	observeResult(&res, time.Since(start))
	o.logger.Info("[done] optimize",
		zap.String("run", runID),
		zap.String("strategy", res.Strategy),
		zap.Int("best", res.BestScore),
		zap.Int("max", res.MaxScore),
		zap.Bool("feasible", res.Feasible),
		zap.Bool("timedOut", res.TimedOut),
		zap.Int64("elapsedMs", res.ElapsedMs))
	return res, nil
}

// OptimizePlacement is the one-call form of Optimizer.Optimize using the
// default tuning with the given deadline.
func OptimizePlacement(ctx context.Context, pieces []Piece, activeSlots, maxSlots int,
	deadline time.Duration, strategy string) (Result, error) {
	cfg := DefaultConfig()
	cfg.Deadline = deadline
	prob := &Problem{Pieces: pieces, ActiveSlots: activeSlots, MaxSlots: maxSlots}
	return NewOptimizer(cfg, nil).Optimize(ctx, prob, strategy)
}

// screenInfeasible returns a reason when prob cannot possibly be placed,
// without searching.
func screenInfeasible(prob *Problem) string {
	if len(prob.Pieces) > prob.ActiveSlots {
		return fmt.Sprintf("%d pieces for %d active slots", len(prob.Pieces), prob.ActiveSlots)
	}
	empty := NewGrid(prob.MaxSlots, prob.ActiveSlots)
	for i := range prob.Pieces {
		if CountLegalSlots(&prob.Pieces[i], empty) == 0 {
			return fmt.Sprintf("%s (%s) has no legal slot", prob.Pieces[i].InstanceID, prob.Pieces[i].Condition)
		}
	}
	return ""
}

// portfolio runs backtracking and the evolutionary search side by side on
// the same deadline and keeps the better result. Each branch owns its own
// working state.
type portfolio struct {
	opt *Optimizer
}

func (p *portfolio) Name() string { return StrategyPortfolio }

func (p *portfolio) Run(ctx context.Context, prob *Problem) Result {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	reported := -1
	forward := func(pr Progress) {
		mu.Lock()
		defer mu.Unlock()
		if pr.Score > reported {
			reported = pr.Score
			if p.opt.onImprove != nil {
				p.opt.onImprove(pr)
			}
		}
	}

	var bt, ga Result
	var g errgroup.Group
	g.Go(func() error {
		bt = NewBacktracking(p.opt.cfg, p.opt.logger, forward).Run(ctx, prob)
		if !bt.TimedOut {
			// exhaustive search finished; nothing left for the GA to find
			cancel()
		}
		return nil
	})
	g.Go(func() error {
		ga = NewEvolutionary(p.opt.cfg, p.opt.logger, forward).Run(ctx, prob)
		return nil
	})
	_ = g.Wait()

	res := bt
	if bt.TimedOut {
		res = pickBetter(bt, ga)
		res.TimedOut = true
	}
	res.Strategy = StrategyPortfolio + "/" + res.Strategy
	return res
}

// pickBetter prefers a feasible result, then the higher score, then the
// first argument.
func pickBetter(a, b Result) Result {
	switch {
	case a.Feasible != b.Feasible:
		if b.Feasible {
			return b
		}
		return a
	case b.BestScore > a.BestScore:
		return b
	}
	return a
}
