package main

import (
	"fmt"
	"strings"
)

// SlotDetail is the per-slot breakdown of a placement.
type SlotDetail struct {
	Slot         int    `json:"slot"`
	Row          int    `json:"row"`
	Col          int    `json:"col"`
	InstanceID   string `json:"instanceId"`
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Rotation     int    `json:"rotation,omitempty"`
	Buff         int    `json:"buff"`
	Level        int    `json:"level"`    // artifacts: clamped effective level
	MaxLevel     int    `json:"maxLevel"` // artifacts only
	Maxed        bool   `json:"maxed"`
	ConditionMet bool   `json:"conditionMet"`
}

// DescribeGrid returns one detail per occupied slot of g. The sum of the
// artifact levels equals ComputeScore(pieces, g).
func DescribeGrid(pieces []Piece, g *Grid) []SlotDetail {
	if g == nil {
		return nil
	}
	buffs := ComputeBuffs(pieces, g)
	var out []SlotDetail
	for s, c := range g.Cells {
		if c.Piece < 0 {
			continue
		}
		p := &pieces[c.Piece]
		row, col := SlotPosition(s)
		d := SlotDetail{
			Slot:         s,
			Row:          row,
			Col:          col,
			InstanceID:   p.InstanceID,
			ID:           p.ID,
			Kind:         p.Kind.String(),
			Buff:         buffs[s],
			ConditionMet: IsPlacementLegal(s, p.Condition, g),
		}
		if p.IsSlate() {
			d.Rotation = int(c.Rot)
		} else {
			d.Level = artifactLevel(p, buffs[s])
			d.MaxLevel = p.MaxLevel
			d.Maxed = p.MaxLevel > 0 && p.BaseLevel+buffs[s] >= p.MaxLevel
		}
		out = append(out, d)
	}
	return out
}

// FormatResult renders a result as a text grid followed by the per-slot
// breakdown.
func FormatResult(prob *Problem, res *Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "strategy: %s  score: %d / %d  feasible: %t  timedOut: %t\n",
		res.Strategy, res.BestScore, res.MaxScore, res.Feasible, res.TimedOut)
	g := res.Grid()
	if g == nil {
		b.WriteString("no complete placement found\n")
		return b.String()
	}

	b.WriteString(FormatGrid(prob, g))

	for _, d := range DescribeGrid(prob.Pieces, g) {
		if d.Kind == KindSlate.String() {
			fmt.Fprintf(&b, "[%2d] slate    %-24s rot=%d\n", d.Slot, d.ID, d.Rotation)
			continue
		}
		mark := ""
		if d.Maxed {
			mark = " max"
		}
		if !d.ConditionMet {
			mark += " !cond"
		}
		fmt.Fprintf(&b, "[%2d] artifact %-24s %d/%d (%+d)%s\n", d.Slot, d.ID, d.Level, d.MaxLevel, d.Buff, mark)
	}
	return b.String()
}

// FormatGrid renders g row by row; "--" is an empty slot and "xx" an
// inactive one.
func FormatGrid(prob *Problem, g *Grid) string {
	var b strings.Builder
	for row := 0; row < g.Rows(); row++ {
		cells := make([]string, GridWidth)
		for col := 0; col < GridWidth; col++ {
			s := row*GridWidth + col
			switch {
			case s >= g.Active:
				cells[col] = "xx"
			case g.Empty(s):
				cells[col] = "--"
			default:
				cells[col] = cellLabel(&prob.Pieces[g.Cells[s].Piece], g.Cells[s])
			}
		}
		fmt.Fprintf(&b, "%s\n", strings.Join(cells, " | "))
	}
	return b.String()
}

func cellLabel(p *Piece, c Cell) string {
	label := p.ID
	if label == "" {
		label = p.InstanceID
	}
	if p.IsSlate() && c.Rot != 0 {
		label = fmt.Sprintf("%s@%d", label, c.Rot)
	}
	return label
}
