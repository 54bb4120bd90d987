package state

import (
	"slices"

	"github.com/randalmurphal/convograph/pkg/flowgraph"
)

// Child is the constraint on sub-state pointer types usable with Projection.
type Child[C any] interface {
	*C
	Base() *Common
}

// Projection is the one-way, whitelisted mapping between State and a
// workflow's sub-state C.
//
// In reuses the stored sub-state for C's workflow (or fresh() when none is
// stored), clears last turn's outputs, and copies down the auth flags, user
// id, session token, utterance and suggestions.
//
// Out stores the finished sub-state under its workflow name and copies up
// the output text, output JSON, widget and error. Nothing else crosses.
func Projection[C SubState, PC Child[C]](fresh func() C) flowgraph.Projection[State, C] {
	return flowgraph.Projection[State, C]{
		In: func(p State) C {
			c, ok := Lookup[C](p.SubStates)
			if !ok {
				c = fresh()
			}
			base := PC(&c).Base()
			base.OutputText = ""
			base.OutputJSON = nil
			base.Widget = nil
			base.Error = nil

			base.Query = p.UserMessage
			base.UserID = p.UserID
			base.SessionToken = p.SessionToken
			base.IsAuthenticated = p.IsAuthenticated
			base.AuthRequired = p.AuthRequired
			base.Suggestions = slices.Clone(p.Suggestions)
			return c
		},
		Out: func(p State, c C) State {
			base := PC(&c).Base()
			p.OutputText = base.OutputText
			p.OutputJSON = base.OutputJSON
			p.Widget = base.Widget
			p.Error = base.Error
			p.SubStates = p.SubStates.With(c)
			return p
		},
	}
}
