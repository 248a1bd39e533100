package vclock

// Ctx pairs a version clock with an optional hint: the node id a write was
// originally intended for, when it was stored on a substitute because the
// natural owner was dead at write time (hinted handoff).
type Ctx struct {
	Version Clock
	Hint    string // empty string means "no hint"
}

// NewCtx returns an empty context with no hint.
func NewCtx() Ctx {
	return Ctx{Version: New()}
}

// HasHint reports whether c carries a handoff hint.
func (c Ctx) HasHint() bool {
	return c.Hint != ""
}

// WithoutHint returns a copy of c with the hint cleared. Used when a
// coordinator-get reply strips a hint that was meant for the asker, not the
// one being asked.
func (c Ctx) WithoutHint() Ctx {
	return Ctx{Version: c.Version}
}

// CompareCtx delegates to Compare over the two contexts' versions.
func CompareCtx(c1, c2 Ctx) Relation {
	return Compare(c1.Version, c2.Version)
}

// CombineCtx combines two contexts: if one strictly precedes the
// other, the later one (version and hint together) wins outright; if
// concurrent, the clocks combine and the hint is taken left-biased (c1's
// hint if it has one, else c2's).
func CombineCtx(c1, c2 Ctx) Ctx {
	switch CompareCtx(c1, c2) {
	case Before:
		return c2
	case After:
		return c1
	default:
		hint := c1.Hint
		if hint == "" {
			hint = c2.Hint
		}
		return Ctx{Version: Combine(c1.Version, c2.Version), Hint: hint}
	}
}
