package main

// ── Rotation ──

// rotateOffset applies a slate rotation to a buff offset.
func rotateOffset(dx, dy int, r Rotation) (int, int) {
	switch r {
	case 90:
		return -dy, dx
	case 180:
		return -dx, -dy
	case 270:
		return dy, -dx
	}
	return dx, dy
}

// buffTarget returns the slot a buff entry lands on for a slate at slot
// with rotation r, or false when it falls outside the active grid.
func buffTarget(slot int, b BuffEntry, r Rotation, g *Grid) (int, bool) {
	row, col := SlotPosition(slot)
	dx, dy := rotateOffset(b.DX, b.DY, r)
	tr, tc := row+dy, col+dx
	if tr < 0 || tr >= g.Rows() || tc < 0 || tc >= GridWidth {
		return 0, false
	}
	ti := tr*GridWidth + tc
	if ti < 0 || ti >= g.Active {
		return 0, false
	}
	return ti, true
}

// ── Buff propagation ──

// ComputeBuffs returns the summed slate bonus for every slot of g.
func ComputeBuffs(pieces []Piece, g *Grid) []int {
	buffs := make([]int, len(g.Cells))
	computeBuffsInto(pieces, g, buffs)
	return buffs
}

// computeBuffsInto is ComputeBuffs writing into a caller-owned buffer of
// len(g.Cells).
func computeBuffsInto(pieces []Piece, g *Grid, buffs []int) {
	for i := range buffs {
		buffs[i] = 0
	}
	for slot, cell := range g.Cells {
		if cell.Piece < 0 {
			continue
		}
		p := &pieces[cell.Piece]
		if !p.IsSlate() {
			continue
		}
		for _, b := range p.Buffs {
			ti, ok := buffTarget(slot, b, cell.Rot, g)
			if !ok {
				continue
			}
			switch b.Kind {
			case BuffEdgeOnly:
				if !IsPlacementLegal(ti, CondEdge, g) {
					continue
				}
			case BuffBottomRowOnly:
				if !IsPlacementLegal(ti, CondBottomRow, g) {
					continue
				}
			}
			buffs[ti] += b.value()
		}
	}
}

// ── Scoring ──

// artifactLevel is the clamped effective level of an artifact carrying buff.
func artifactLevel(p *Piece, buff int) int {
	return max(0, min(p.BaseLevel+buff, p.MaxLevel))
}

// ComputeScore sums the effective level of every placed artifact.
func ComputeScore(pieces []Piece, g *Grid) int {
	return scoreWithBuffs(pieces, g, ComputeBuffs(pieces, g))
}

func scoreWithBuffs(pieces []Piece, g *Grid, buffs []int) int {
	score := 0
	for slot, cell := range g.Cells {
		if cell.Piece < 0 {
			continue
		}
		p := &pieces[cell.Piece]
		if p.IsArtifact() {
			score += artifactLevel(p, buffs[slot])
		}
	}
	return score
}

// MaxPossibleScore is the sum of maxLevel over every artifact, the ceiling no
// placement can exceed.
func MaxPossibleScore(pieces []Piece) int {
	total := 0
	for i := range pieces {
		if pieces[i].IsArtifact() {
			total += max(0, pieces[i].MaxLevel)
		}
	}
	return total
}
