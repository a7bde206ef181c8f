package usecases

import (
	"regexp"
	"slices"
	"strings"

	"github.com/korope-ng/korope/internal/core/domain"
)

// ReversedRouteNote is shown with every route derived by reversing a
// recorded trip.
const ReversedRouteNote = "Note: this route was reversed from a trip recorded in the opposite direction. " +
	"Stops, landmarks and one-way streets may differ on the way back."

var fromToPattern = regexp.MustCompile(`From (.+?) to (.+?):`)

var endpointSwapper = strings.NewReplacer("(start)", "(destination)", "(destination)", "(start)")

// ReverseInstruction swaps the endpoints named in an instruction.
// Reversing twice yields the original text.
func ReverseInstruction(s string) string {
	s = fromToPattern.ReplaceAllString(s, "From $2 to $1:")
	return endpointSwapper.Replace(s)
}

// ReverseRoute returns r travelled in the opposite direction: endpoints are
// swapped, steps run last to first with their own endpoints swapped, and
// step landmarks are listed in reverse.
func ReverseRoute(r domain.Route) domain.Route {
	out := r
	out.Start, out.End = r.End, r.Start
	out.Modes = slices.Clone(r.Modes)

	steps := slices.Clone(r.Steps)
	slices.SortStableFunc(steps, func(a, b domain.RouteStep) int { return a.Order - b.Order })

	n := len(steps)
	out.Steps = make([]domain.RouteStep, n)
	for i, st := range steps {
		rs := st
		rs.Order = n - i
		rs.From, rs.To = st.To, st.From
		rs.Instruction = ReverseInstruction(st.Instruction)
		rs.Landmarks = slices.Clone(st.Landmarks)
		slices.Reverse(rs.Landmarks)
		rs.Fare = nil
		out.Steps[n-1-i] = rs
	}
	return out
}
