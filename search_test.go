package main

import (
	"context"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPlacementOrder(t *testing.T) {
	pieces := []Piece{
		artifact("free", CondNone, 0, 1),
		slate("s-free", CondNone, false),
		artifact("inner", CondInterior, 0, 1),
		slate("s-edge", CondEdge, false),
		artifact("lonely", CondBothNeighborsEmpty, 0, 1),
		artifact("top", CondTopRow, 0, 1),
		slate("s-bottom", CondBottomRow, false),
	}
	assert.Equal(t, []int{4, 2, 6, 5, 3, 1, 0}, placementOrder(pieces))
}

func TestPlacementOrderIsStable(t *testing.T) {
	pieces := []Piece{
		artifact("a", CondEdge, 0, 1),
		artifact("b", CondEdge, 0, 1),
		artifact("c", CondEdge, 0, 1),
	}
	assert.Equal(t, []int{0, 1, 2}, placementOrder(pieces))
}

func TestSingleArtifactWithoutBuffs(t *testing.T) {
	res, err := OptimizePlacement(context.Background(),
		[]Piece{artifact("a1", CondNone, 0, 3)}, 6, 6, time.Second, StrategyBacktracking)
	require.NoError(t, err)

	assert.True(t, res.Feasible)
	assert.False(t, res.TimedOut)
	assert.Equal(t, 0, res.BestScore)
	assert.Equal(t, 1, res.Grid().Placed())
}

func TestSlateBuffsItsNeighbour(t *testing.T) {
	prob := slateAndNeighbour()
	res := runBacktracking(t, prob)

	verifyResult(t, prob, res)
	assert.Equal(t, 3, res.BestScore)
	assert.Equal(t, "s1", res.BestGrid[0])
	assert.Equal(t, "a1", res.BestGrid[1])
	assert.False(t, res.TimedOut)
}

func TestRotatableSlateTurnsTowardArtifact(t *testing.T) {
	// a one-row grid: the downward buff only lands after a quarter turn
	prob := &Problem{
		Pieces: []Piece{
			artifact("a1", CondNone, 0, 9),
			slate("s1", CondNone, true, buff(0, 1, 4)),
		},
		ActiveSlots: 6,
		MaxSlots:    6,
	}
	res := runBacktracking(t, prob)

	verifyResult(t, prob, res)
	assert.Equal(t, 4, res.BestScore)
	slot := slices.Index(res.BestGrid, "s1")
	require.GreaterOrEqual(t, slot, 0)
	assert.Contains(t, []int{90, 270}, res.Rotations[slot])
}

func TestTopRowCapacity(t *testing.T) {
	two := &Problem{
		Pieces: []Piece{
			artifact("t1", CondTopRow, 1, 1),
			artifact("t2", CondTopRow, 1, 1),
		},
		ActiveSlots: 6,
		MaxSlots:    6,
	}
	res := runBacktracking(t, two)
	verifyResult(t, two, res)
	assert.Equal(t, 2, res.BestScore)

	// seven fit the active slots and each has a top-row slot on its own;
	// only the top-row rule rules them out
	seven := &Problem{ActiveSlots: 12, MaxSlots: 12}
	for _, id := range []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7"} {
		seven.Pieces = append(seven.Pieces, artifact(id, CondTopRow, 1, 1))
	}
	require.Empty(t, screenInfeasible(seven))
	res, err := NewOptimizer(testConfig(), zaptest.NewLogger(t)).Optimize(context.Background(), seven, StrategyBacktracking)
	require.NoError(t, err)
	assert.False(t, res.Feasible)
	assert.False(t, res.TimedOut)
	assert.Nil(t, res.Grid())
	assert.Positive(t, res.Nodes)
}

func TestInfeasibleAfterExhaustiveSearch(t *testing.T) {
	// every piece has a legal slot on its own, but only six fit the top row
	prob := &Problem{ActiveSlots: 12, MaxSlots: 12}
	for _, id := range []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7"} {
		prob.Pieces = append(prob.Pieces, artifact(id, CondTopRow, 1, 2))
	}
	require.Empty(t, screenInfeasible(prob))

	res := runBacktracking(t, prob)
	assert.False(t, res.Feasible)
	assert.False(t, res.TimedOut)
	assert.Equal(t, 0, res.BestScore)
	assert.Equal(t, make([]string, 12), res.BestGrid)
	assert.Positive(t, res.Nodes)
}

func TestBottomRowArtifactOnPartialRow(t *testing.T) {
	prob := &Problem{
		Pieces:      []Piece{artifact("b", CondBottomRow, 0, 3)},
		ActiveSlots: 7,
		MaxSlots:    DefaultMaxSlots,
	}
	res := runBacktracking(t, prob)
	verifyResult(t, prob, res)
	placed := slices.Index(res.BestGrid, "b")
	assert.GreaterOrEqual(t, placed, 1)
	assert.LessOrEqual(t, placed, 6)
}

func TestBacktrackingIsDeterministic(t *testing.T) {
	prob := randomProblem(rand.New(rand.NewPCG(11, 13)))
	first := runBacktracking(t, prob)
	second := runBacktracking(t, prob)
	assert.Equal(t, first.BestGrid, second.BestGrid)
	assert.Equal(t, first.Rotations, second.Rotations)
	assert.Equal(t, first.BestScore, second.BestScore)
}

func TestBacktrackingDoesNotMutatePieces(t *testing.T) {
	prob := randomProblem(rand.New(rand.NewPCG(5, 8)))
	before := make([]Piece, len(prob.Pieces))
	copy(before, prob.Pieces)
	runBacktracking(t, prob)
	assert.Equal(t, before, prob.Pieces)
}

// bruteForce enumerates every total assignment in placement order, with
// conditions checked as each piece is placed, and returns the best score or
// -1 when none exists.
func bruteForce(prob *Problem) int {
	order := placementOrder(prob.Pieces)
	g := NewGrid(prob.MaxSlots, prob.ActiveSlots)
	best := -1
	var rec func(i int)
	rec = func(i int) {
		if i == len(order) {
			best = max(best, ComputeScore(prob.Pieces, g))
			return
		}
		p := &prob.Pieces[order[i]]
		rots := []Rotation{p.Rotation}
		if p.IsSlate() && p.Rotatable {
			rots = rotations[:]
		}
		for s := 0; s < g.Active; s++ {
			if !g.Empty(s) || !IsPlacementLegal(s, p.Condition, g) {
				continue
			}
			for _, r := range rots {
				g.Cells[s] = Cell{Piece: order[i], Rot: r}
				rec(i + 1)
			}
			g.Cells[s] = emptyCell
		}
	}
	rec(0)
	return best
}

var allConditions = []Condition{CondNone, CondNone, CondTopRow, CondBottomRow, CondEdge, CondInterior, CondBothNeighborsEmpty}

// randomProblem builds a small problem: at most 8 active slots, 2-3
// artifacts and 1-2 slates, at most one of them rotatable.
func randomProblem(rng *rand.Rand) *Problem {
	prob := &Problem{ActiveSlots: 6 + rng.IntN(3), MaxSlots: 12}
	for i := range 2 + rng.IntN(2) {
		base := rng.IntN(3)
		prob.Pieces = append(prob.Pieces, artifact(
			"a"+string(rune('0'+i)),
			allConditions[rng.IntN(len(allConditions))],
			base, base+rng.IntN(4)))
	}
	rotatableLeft := true
	for i := range 1 + rng.IntN(2) {
		s := slate("s"+string(rune('0'+i)), allConditions[rng.IntN(len(allConditions))], false)
		if rotatableLeft && rng.IntN(2) == 0 {
			s.Rotatable = true
			rotatableLeft = false
		} else {
			s.Rotation = rotations[rng.IntN(len(rotations))]
		}
		for range 1 + rng.IntN(3) {
			b := BuffEntry{
				DX:     rng.IntN(3) - 1,
				DY:     rng.IntN(3) - 1,
				Kind:   BuffKind(rng.IntN(3)),
				Amount: rng.IntN(5) - 1,
			}
			if rng.IntN(5) == 0 {
				b.LimitUnlock = true
			}
			s.Buffs = append(s.Buffs, b)
		}
		prob.Pieces = append(prob.Pieces, s)
	}
	// interleave so slates are not always last in input order
	rng.Shuffle(len(prob.Pieces), func(i, j int) {
		prob.Pieces[i], prob.Pieces[j] = prob.Pieces[j], prob.Pieces[i]
	})
	return prob
}

func TestBacktrackingMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewPCG(2024, 7))
	for i := range 40 {
		prob := randomProblem(rng)
		want := bruteForce(prob)
		res := runBacktracking(t, prob)

		require.False(t, res.TimedOut, "problem %d", i)
		if want < 0 {
			assert.False(t, res.Feasible, "problem %d", i)
			continue
		}
		assert.Equal(t, want, res.BestScore, "problem %d", i)
		verifyResult(t, prob, res)
	}
}

func TestArtifactPlacedBeforeSlateStillGainsBuff(t *testing.T) {
	// the interior artifact is placed first; only a later slate can lift it
	prob := &Problem{
		Pieces: []Piece{
			slate("s1", CondNone, false, buff(0, -1, 3)),
			artifact("a1", CondInterior, 0, 3),
		},
		ActiveSlots: 18,
		MaxSlots:    18,
	}
	require.Equal(t, []int{1, 0}, placementOrder(prob.Pieces))
	res := runBacktracking(t, prob)
	verifyResult(t, prob, res)
	assert.Equal(t, 3, res.BestScore)
}

func TestOnImproveScoresIncrease(t *testing.T) {
	prob := randomProblem(rand.New(rand.NewPCG(99, 1)))
	var scores []int
	b := NewBacktracking(testConfig(), zaptest.NewLogger(t), func(p Progress) {
		assert.Equal(t, StrategyBacktracking, p.Strategy)
		assert.Len(t, p.Grid, prob.MaxSlots)
		scores = append(scores, p.Score)
	})
	res := b.Run(context.Background(), prob)
	if !res.Feasible {
		assert.Empty(t, scores)
		return
	}
	require.NotEmpty(t, scores)
	for i := 1; i < len(scores); i++ {
		assert.Greater(t, scores[i], scores[i-1])
	}
	assert.Equal(t, res.BestScore, scores[len(scores)-1])
}

// hardProblem cannot be searched exhaustively in test time and its maximum
// score is out of reach, so the search never stops early.
func hardProblem() *Problem {
	prob := &Problem{ActiveSlots: DefaultMaxSlots, MaxSlots: DefaultMaxSlots}
	for i := range 20 {
		prob.Pieces = append(prob.Pieces, artifact("a"+string(rune('A'+i)), CondNone, 0, 10))
	}
	for i := range 8 {
		prob.Pieces = append(prob.Pieces, slate("s"+string(rune('A'+i)), CondNone, true, buff(1, 0, 1), buff(0, 1, 1)))
	}
	return prob
}

func TestBacktrackingStopsAtDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.Deadline = 50 * time.Millisecond
	prob := hardProblem()

	start := time.Now()
	res, err := NewOptimizer(cfg, zaptest.NewLogger(t)).Optimize(context.Background(), prob, StrategyBacktracking)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, res.TimedOut)
	assert.True(t, res.Feasible)
	verifyResult(t, prob, res)
}

func TestBacktrackingWithCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := testConfig()
	cfg.PollInterval = 1

	res := NewBacktracking(cfg, zaptest.NewLogger(t), nil).Run(ctx, hardProblem())
	assert.True(t, res.TimedOut)
	assert.False(t, res.Feasible)
	assert.Equal(t, int64(1), res.Nodes)
}

func TestFindFeasible(t *testing.T) {
	prob := slateAndNeighbour()
	g, ok := FindFeasible(context.Background(), prob)
	require.True(t, ok)
	assert.Equal(t, 2, g.Placed())

	crowded := &Problem{ActiveSlots: 12, MaxSlots: 12}
	for _, id := range []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7"} {
		crowded.Pieces = append(crowded.Pieces, artifact(id, CondTopRow, 0, 1))
	}
	g, ok = FindFeasible(context.Background(), crowded)
	assert.False(t, ok)
	assert.Nil(t, g)
}
