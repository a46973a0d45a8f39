package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// ParseProblem decodes a problem document. Pieces may be given as one
// "pieces" array or as separate "artifacts" and "slates" arrays. The slot
// count is "activeSlots", or "baseSlots" plus the "extensions" list. The
// result is validated before it is returned.
func ParseProblem(doc string) (*ProblemFile, error) {
	if !gjson.Valid(doc) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidProblem)
	}
	root := gjson.Parse(doc)

	pf := &ProblemFile{Name: root.Get("name").String()}
	pf.MaxSlots = DefaultMaxSlots
	if v := root.Get("maxSlots"); v.Exists() {
		n, err := readInt(v, "maxSlots")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProblem, err)
		}
		pf.MaxSlots = n
	}

	switch {
	case root.Get("activeSlots").Exists():
		n, err := readInt(root.Get("activeSlots"), "activeSlots")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProblem, err)
		}
		pf.ActiveSlots = n
	case root.Get("baseSlots").Exists():
		base, err := readInt(root.Get("baseSlots"), "baseSlots")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProblem, err)
		}
		var ext []int
		var extErr error
		root.Get("extensions").ForEach(func(_, e gjson.Result) bool {
			n, err := readInt(e, "extensions")
			if err != nil {
				extErr = err
				return false
			}
			ext = append(ext, n)
			return true
		})
		if extErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProblem, extErr)
		}
		pf.ActiveSlots = ActiveSlots(base, ext, pf.MaxSlots)
	default:
		pf.ActiveSlots = pf.MaxSlots
	}

	var parseErr error
	add := func(v gjson.Result, kind *PieceKind) bool {
		p, err := parsePiece(v, kind)
		if err != nil {
			parseErr = fmt.Errorf("piece %d: %w", len(pf.Pieces), err)
			return false
		}
		pf.Pieces = append(pf.Pieces, p)
		return true
	}
	artifact, slate := KindArtifact, KindSlate
	root.Get("pieces").ForEach(func(_, v gjson.Result) bool { return add(v, nil) })
	if parseErr == nil {
		root.Get("artifacts").ForEach(func(_, v gjson.Result) bool { return add(v, &artifact) })
	}
	if parseErr == nil {
		root.Get("slates").ForEach(func(_, v gjson.Result) bool { return add(v, &slate) })
	}
	if parseErr != nil {
		return nil, parseErr
	}

	if err := pf.Validate(); err != nil {
		return nil, err
	}
	return pf, nil
}

// parsePiece decodes one piece. forced, when set, is the kind implied by
// the array the piece came from. The kind is settled here and never
// re-derived later.
func parsePiece(v gjson.Result, forced *PieceKind) (Piece, error) {
	p := Piece{
		ID:         v.Get("id").String(),
		InstanceID: v.Get("instanceId").String(),
	}
	if p.InstanceID == "" {
		p.InstanceID = uuid.NewString()
	}

	kind, err := pieceKind(v, forced)
	if err != nil {
		return p, err
	}
	p.Kind = kind

	cond, err := readCondition(v.Get("condition"))
	if err != nil {
		return p, fmt.Errorf("%w: %s: %v", ErrInvalidPiece, p.ID, err)
	}
	p.Condition = cond

	if kind == KindArtifact {
		if p.BaseLevel, err = readIntAlias(v, "baseLevel", "level"); err != nil {
			return p, fmt.Errorf("%w: %s: %v", ErrInvalidPiece, p.ID, err)
		}
		if p.MaxLevel, err = readIntAlias(v, "maxLevel", "maxUpgrade"); err != nil {
			return p, fmt.Errorf("%w: %s: %v", ErrInvalidPiece, p.ID, err)
		}
		imp := v.Get("importance")
		if !imp.Exists() {
			imp = v.Get("priority")
		}
		p.Importance = imp.Float()
		return p, nil
	}

	p.Rotatable = toBool(v.Get("rotatable"))
	rot, err := readIntAlias(v, "rotation")
	if err != nil {
		return p, fmt.Errorf("%w: %s: %v", ErrInvalidPiece, p.ID, err)
	}
	p.Rotation = Rotation(rot)

	buffs := v.Get("buffs")
	if !buffs.Exists() {
		buffs = v.Get("buffcoords")
	}
	var buffErr error
	buffs.ForEach(func(_, b gjson.Result) bool {
		entry, err := parseBuff(b)
		if err != nil {
			buffErr = fmt.Errorf("%w: %s: buff %d: %v", ErrInvalidPiece, p.ID, len(p.Buffs), err)
			return false
		}
		p.Buffs = append(p.Buffs, entry)
		return true
	})
	return p, buffErr
}

func pieceKind(v gjson.Result, forced *PieceKind) (PieceKind, error) {
	if forced != nil {
		return *forced, nil
	}
	if k := v.Get("kind"); k.Exists() {
		switch strings.ToLower(k.String()) {
		case "artifact":
			return KindArtifact, nil
		case "slate":
			return KindSlate, nil
		}
		return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidPiece, k.String())
	}
	if a := v.Get("isArtifact"); a.Exists() {
		if toBool(a) {
			return KindArtifact, nil
		}
		return KindSlate, nil
	}
	// catalog ids carry the kind as a prefix ("aritifact_" is the catalog's spelling)
	id := v.Get("id").String()
	switch {
	case strings.HasPrefix(id, "slate_"):
		return KindSlate, nil
	case strings.HasPrefix(id, "aritifact_"), strings.HasPrefix(id, "artifact_"):
		return KindArtifact, nil
	case v.Get("buffs").Exists(), v.Get("buffcoords").Exists():
		return KindSlate, nil
	}
	return 0, fmt.Errorf("%w: cannot tell whether %q is an artifact or a slate", ErrInvalidPiece, id)
}

// readCondition accepts a string or a list whose first element is the
// condition. Missing means none.
func readCondition(v gjson.Result) (Condition, error) {
	name := ""
	switch {
	case !v.Exists(), v.Type == gjson.Null:
	case v.IsArray():
		if arr := v.Array(); len(arr) > 0 {
			name = arr[0].String()
		}
	case v.Type == gjson.String:
		name = v.String()
	default:
		return CondNone, fmt.Errorf("condition must be a string or list, got %s", v.Raw)
	}
	c, ok := parseCondition(strings.TrimSpace(name))
	if !ok {
		return CondNone, fmt.Errorf("unknown condition %q", name)
	}
	return c, nil
}

func parseBuff(b gjson.Result) (BuffEntry, error) {
	var e BuffEntry
	var err error
	if e.DX, err = readIntAlias(b, "dx", "x"); err != nil {
		return e, err
	}
	if e.DY, err = readIntAlias(b, "dy", "y"); err != nil {
		return e, err
	}
	kind := b.Get("kind")
	if !kind.Exists() {
		kind = b.Get("type")
	}
	k, ok := parseBuffKind(kind.String())
	if !ok {
		return e, fmt.Errorf("unknown buff type %q", kind.String())
	}
	e.Kind = k

	amount := b.Get("amount")
	if !amount.Exists() {
		amount = b.Get("value")
	}
	switch {
	case !amount.Exists(), amount.Type == gjson.Null:
	case amount.Type == gjson.String && amount.String() == "limitUnlock":
		e.LimitUnlock = true
	case amount.Type == gjson.String:
		n, err := strconv.Atoi(strings.TrimSpace(amount.String()))
		if err != nil {
			return e, fmt.Errorf("amount %q is not an integer", amount.String())
		}
		e.Amount = n
	default:
		n, err := readInt(amount, "amount")
		if err != nil {
			return e, err
		}
		e.Amount = n
	}
	return e, nil
}

// readIntAlias reads the first present key as an integer; missing is 0.
func readIntAlias(v gjson.Result, keys ...string) (int, error) {
	for _, k := range keys {
		if f := v.Get(k); f.Exists() && f.Type != gjson.Null {
			return readInt(f, k)
		}
	}
	return 0, nil
}

func readInt(v gjson.Result, name string) (int, error) {
	if v.Type != gjson.Number {
		return 0, fmt.Errorf("%s must be a number, got %s", name, v.Raw)
	}
	if v.Num != math.Trunc(v.Num) {
		return 0, fmt.Errorf("%s must be an integer, got %s", name, v.Raw)
	}
	return int(v.Int()), nil
}

func toBool(v gjson.Result) bool {
	switch v.Type {
	case gjson.True:
		return true
	case gjson.Number:
		return v.Int() != 0
	case gjson.String:
		return v.String() == "true" || v.String() == "1"
	}
	return false
}
