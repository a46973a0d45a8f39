package main

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribeGrid(t *testing.T) {
	prob := slateAndNeighbour()
	res := runBacktracking(t, prob)

	details := DescribeGrid(prob.Pieces, res.Grid())
	require.Len(t, details, 2)

	assert.Equal(t, SlotDetail{Slot: 0, InstanceID: "s1", ID: "s1", Kind: "slate", ConditionMet: true}, details[0])
	assert.Equal(t, SlotDetail{
		Slot: 1, Col: 1, InstanceID: "a1", ID: "a1", Kind: "artifact",
		Buff: 2, Level: 3, MaxLevel: 5, ConditionMet: true,
	}, details[1])

	total := 0
	for _, d := range details {
		total += d.Level
	}
	assert.Equal(t, res.BestScore, total)
	assert.Nil(t, DescribeGrid(prob.Pieces, nil))
}

func TestFormatResult(t *testing.T) {
	prob := slateAndNeighbour()
	res := runBacktracking(t, prob)

	out := FormatResult(prob, &res)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "score: 3 / 5")
	assert.Equal(t, "s1 | a1 | -- | -- | -- | --", lines[1])
	assert.Contains(t, lines[2], "slate")
	assert.Contains(t, lines[3], "3/5 (+2)")
}

func TestFormatResultWithoutPlacement(t *testing.T) {
	res := Result{Strategy: StrategyBacktracking}
	out := FormatResult(slateAndNeighbour(), &res)
	assert.Contains(t, out, "no complete placement found")
}

func TestFormatGridMarksInactiveSlots(t *testing.T) {
	prob := &Problem{
		Pieces:      []Piece{slate("s1", CondNone, true, buff(1, 0, 1))},
		ActiveSlots: 8,
		MaxSlots:    12,
	}
	g := NewGrid(12, 8)
	put(g, 7, 0, 270)

	assert.Equal(t,
		"-- | -- | -- | -- | -- | --\n-- | s1@270 | xx | xx | xx | xx\n",
		FormatGrid(prob, g))
}

func TestCheckProblem(t *testing.T) {
	rep := CheckProblem(context.Background(), slateAndNeighbour())
	assert.True(t, rep.Feasible)
	assert.Empty(t, rep.Reason)
	require.Len(t, rep.Pieces, 2)
	assert.Equal(t, 6, rep.Pieces[0].LegalSlots)
	assert.Equal(t, 2, rep.Grid().Placed())

	inner := &Problem{Pieces: []Piece{artifact("in", CondInterior, 0, 1)}, ActiveSlots: 6, MaxSlots: 6}
	rep = CheckProblem(context.Background(), inner)
	assert.False(t, rep.Feasible)
	assert.Equal(t, 0, rep.Pieces[0].LegalSlots)
	assert.Contains(t, rep.Reason, "no legal slot")
	assert.Nil(t, rep.Grid())

	crowded := &Problem{ActiveSlots: 12, MaxSlots: 12}
	for _, id := range []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7"} {
		crowded.Pieces = append(crowded.Pieces, artifact(id, CondTopRow, 0, 1))
	}
	rep = CheckProblem(context.Background(), crowded)
	assert.False(t, rep.Feasible)
	assert.False(t, rep.TimedOut)
	assert.Equal(t, "no complete placement satisfies every condition", rep.Reason)
}
