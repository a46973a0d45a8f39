package main

// SlotPosition maps a linear slot index to its row and column.
func SlotPosition(index int) (row, col int) {
	return index / GridWidth, index % GridWidth
}

// IsPlacementLegal reports whether a piece with the given condition may sit
// at index in g. bottomRow uses the linear "no active slot below" rule so a
// partially filled last row is handled; bothNeighborsEmpty treats the grid
// walls as empty.
func IsPlacementLegal(index int, cond Condition, g *Grid) bool {
	row, col := SlotPosition(index)
	switch cond {
	case CondTopRow:
		return row == 0
	case CondBottomRow:
		return index+GridWidth >= g.Active
	case CondEdge:
		return isEdge(row, col, g.Rows())
	case CondInterior:
		return !isEdge(row, col, g.Rows())
	case CondBothNeighborsEmpty:
		leftEmpty := col == 0 || g.Empty(index-1)
		rightEmpty := col == GridWidth-1 || index+1 >= len(g.Cells) || g.Empty(index+1)
		return leftEmpty && rightEmpty
	}
	return true
}

func isEdge(row, col, totalRows int) bool {
	return row == 0 || row == totalRows-1 || col == 0 || col == GridWidth-1
}

// CountLegalSlots returns how many empty active slots of g would accept p.
func CountLegalSlots(p *Piece, g *Grid) int {
	n := 0
	for s := 0; s < g.Active; s++ {
		if g.Empty(s) && IsPlacementLegal(s, p.Condition, g) {
			n++
		}
	}
	return n
}

// ActiveSlots adds unlocked slot extensions to the base count, clamped to
// [0, maxSlots].
func ActiveSlots(base int, unlocked []int, maxSlots int) int {
	total := base
	for _, u := range unlocked {
		total += u
	}
	return max(0, min(maxSlots, total))
}
