package main

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func artifact(id string, cond Condition, base, maxLevel int) Piece {
	return Piece{InstanceID: id, ID: id, Kind: KindArtifact, Condition: cond, BaseLevel: base, MaxLevel: maxLevel}
}

func slate(id string, cond Condition, rotatable bool, buffs ...BuffEntry) Piece {
	return Piece{InstanceID: id, ID: id, Kind: KindSlate, Condition: cond, Rotatable: rotatable, Buffs: buffs}
}

func buff(dx, dy, amount int) BuffEntry {
	return BuffEntry{DX: dx, DY: dy, Kind: BuffUnconditional, Amount: amount}
}

func put(g *Grid, slot, piece int, rot Rotation) {
	g.Cells[slot] = Cell{Piece: piece, Rot: rot}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Deadline = 5 * time.Second
	cfg.PollInterval = 64
	cfg.Seed = 1
	cfg.MaxGenerations = 200
	return cfg
}

func runBacktracking(t *testing.T, prob *Problem) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return NewBacktracking(testConfig(), zaptest.NewLogger(t), nil).Run(ctx, prob)
}

// slateAndNeighbour is a slate buffing its right neighbour by 2 and one
// artifact that can take the buff.
func slateAndNeighbour() *Problem {
	return &Problem{
		Pieces: []Piece{
			slate("s1", CondNone, false, buff(1, 0, 2)),
			artifact("a1", CondNone, 1, 5),
		},
		ActiveSlots: 6,
		MaxSlots:    6,
	}
}

// verifyResult checks that res describes a complete legal placement whose
// score matches a fresh recomputation.
func verifyResult(t *testing.T, prob *Problem, res Result) {
	t.Helper()
	if !res.Feasible {
		t.Fatalf("result not feasible")
	}
	g := res.Grid()
	if g == nil {
		t.Fatalf("feasible result without grid")
	}
	if len(res.BestGrid) != prob.MaxSlots {
		t.Errorf("bestGrid has %d slots, want %d", len(res.BestGrid), prob.MaxSlots)
	}

	seen := make([]int, len(prob.Pieces))
	for s, c := range g.Cells {
		if c.Piece < 0 {
			if res.BestGrid[s] != "" {
				t.Errorf("slot %d: empty cell reported as %q", s, res.BestGrid[s])
			}
			continue
		}
		p := &prob.Pieces[c.Piece]
		seen[c.Piece]++
		if s >= prob.ActiveSlots {
			t.Errorf("slot %d: %s placed beyond active slots %d", s, p.InstanceID, prob.ActiveSlots)
		}
		if res.BestGrid[s] != p.InstanceID {
			t.Errorf("slot %d: bestGrid %q, want %q", s, res.BestGrid[s], p.InstanceID)
		}
		// bothNeighborsEmpty only holds when the piece was placed
		if p.Condition != CondBothNeighborsEmpty && !IsPlacementLegal(s, p.Condition, g) {
			t.Errorf("slot %d: %s violates %s", s, p.InstanceID, p.Condition)
		}
		if p.IsSlate() && !p.Rotatable && c.Rot != p.Rotation {
			t.Errorf("slot %d: fixed slate %s rotated to %d", s, p.InstanceID, c.Rot)
		}
	}
	for i, n := range seen {
		if n != 1 {
			t.Errorf("piece %s placed %d times", prob.Pieces[i].InstanceID, n)
		}
	}
	if got := ComputeScore(prob.Pieces, g); got != res.BestScore {
		t.Errorf("bestScore %d, recomputed %d", res.BestScore, got)
	}
	if res.BestScore > res.MaxScore {
		t.Errorf("bestScore %d exceeds maximum %d", res.BestScore, res.MaxScore)
	}
}
