package main

import "context"

// PieceSlots is how many slots of the empty grid accept one piece.
type PieceSlots struct {
	InstanceID string `json:"instanceId"`
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Condition  string `json:"condition"`
	LegalSlots int    `json:"legalSlots"`
}

// CheckReport answers whether a problem has any complete placement at all.
type CheckReport struct {
	Feasible bool         `json:"feasible"`
	TimedOut bool         `json:"timedOut"`
	Reason   string       `json:"reason,omitempty"`
	Pieces   []PieceSlots `json:"pieces"`

	grid *Grid
}

// Grid is the first complete placement found, or nil.
func (r *CheckReport) Grid() *Grid { return r.grid }

// CheckProblem counts legal slots per piece and searches for the first
// complete placement, ignoring score. prob must already be valid.
func CheckProblem(ctx context.Context, prob *Problem) CheckReport {
	var rep CheckReport
	empty := NewGrid(prob.MaxSlots, prob.ActiveSlots)
	for i := range prob.Pieces {
		p := &prob.Pieces[i]
		rep.Pieces = append(rep.Pieces, PieceSlots{
			InstanceID: p.InstanceID,
			ID:         p.ID,
			Kind:       p.Kind.String(),
			Condition:  p.Condition.String(),
			LegalSlots: CountLegalSlots(p, empty),
		})
	}
	if reason := screenInfeasible(prob); reason != "" {
		rep.Reason = reason
		return rep
	}
	g, ok := FindFeasible(ctx, prob)
	switch {
	case ok:
		rep.Feasible = true
		rep.grid = g
	case ctx.Err() != nil:
		rep.TimedOut = true
		rep.Reason = "deadline reached before a placement was found"
	default:
		rep.Reason = "no complete placement satisfies every condition"
	}
	return rep
}
