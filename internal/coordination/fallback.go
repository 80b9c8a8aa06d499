package coordination

import (
	"fmt"
	"slices"
	"strings"
)

// strugglingVelocityRatio flags teams below this fraction of mean velocity.
const strugglingVelocityRatio = 0.5

// minDonorAgents is the home headcount a team must exceed to lend an agent.
const minDonorAgents = 2

func meanVelocity(health []TeamHealth) float64 {
	if len(health) == 0 {
		return 0
	}
	sum := 0.0
	for _, h := range health {
		sum += h.Velocity
	}
	return sum / float64(len(health))
}

func isStruggling(h TeamHealth, mean float64) bool {
	return h.BlockedCount > 0 || (mean > 0 && h.Velocity < strugglingVelocityRatio*mean)
}

// struggling returns ids of teams with blocked work or velocity under half
// the mean, in input order.
func struggling(health []TeamHealth) []string {
	mean := meanVelocity(health)
	var out []string
	for _, h := range health {
		if isStruggling(h, mean) {
			out = append(out, h.TeamID)
		}
	}
	return out
}

// fallbackAnalysis summarizes health and dependencies without an analyst.
func fallbackAnalysis(health []TeamHealth, deps []Dependency) string {
	var sb strings.Builder
	weak := struggling(health)
	if len(weak) == 0 {
		sb.WriteString("All teams are healthy.\n")
	} else {
		fmt.Fprintf(&sb, "Struggling teams: %s.\n", strings.Join(weak, ", "))
	}

	open := 0
	for _, d := range deps {
		if d.Open() {
			open++
		}
	}
	fmt.Fprintf(&sb, "Cross-team dependencies: %d (%d open).\n", len(deps), open)

	for _, h := range health {
		fmt.Fprintf(&sb, "- %s: velocity %.1f, wip %d, blocked %d, agents %d\n",
			h.TeamID, h.Velocity, h.WIPCount, h.BlockedCount, h.AgentCount)
	}
	return sb.String()
}

// fallbackPlan proposes at most one borrow, from the healthiest team with
// more than two home agents present to the most blocked struggling team,
// plus one recommendation per struggling team. The result is in the same
// line format a planner returns.
func fallbackPlan(health []TeamHealth, deps []Dependency) string {
	mean := meanVelocity(health)

	var needy, donors []TeamHealth
	for _, h := range health {
		if isStruggling(h, mean) {
			needy = append(needy, h)
		} else if len(h.HomeAgents) > minDonorAgents {
			donors = append(donors, h)
		}
	}

	var lines []string
	if len(needy) > 0 && len(donors) > 0 {
		slices.SortStableFunc(needy, func(a, b TeamHealth) int {
			if a.BlockedCount != b.BlockedCount {
				return b.BlockedCount - a.BlockedCount
			}
			return compareFloat(a.Velocity, b.Velocity)
		})
		slices.SortStableFunc(donors, func(a, b TeamHealth) int {
			if a.BlockedCount != b.BlockedCount {
				return a.BlockedCount - b.BlockedCount
			}
			return compareFloat(b.Velocity, a.Velocity)
		})

		to, from := needy[0], donors[0]
		agents := slices.Clone(from.HomeAgents)
		slices.Sort(agents)
		b := Borrow{
			AgentID:  agents[len(agents)-1],
			FromTeam: from.TeamID,
			ToTeam:   to.TeamID,
			Reason:   fmt.Sprintf("%s has %d blocked cards and velocity %.1f", to.TeamID, to.BlockedCount, to.Velocity),
		}
		lines = append(lines, b.String())
	}

	for _, h := range health {
		if !isStruggling(h, mean) {
			continue
		}
		switch {
		case h.BlockedCount > 0:
			lines = append(lines, fmt.Sprintf("RECOMMEND: %s should unblock %d cards before pulling new work", h.TeamID, h.BlockedCount))
		default:
			lines = append(lines, fmt.Sprintf("RECOMMEND: %s should reduce WIP to recover velocity", h.TeamID))
		}
	}

	for _, d := range deps {
		if d.Open() {
			lines = append(lines, fmt.Sprintf("RECOMMEND: %s and %s should sync on card %s", d.SourceTeam, d.TargetTeam, d.CardID))
		}
	}
	return strings.Join(lines, "\n")
}

// fallbackCheckin returns recommendations for a mid-sprint check-in.
func fallbackCheckin(health []TeamHealth) []string {
	mean := meanVelocity(health)
	var out []string
	for _, h := range health {
		switch {
		case h.BlockedCount > 0:
			out = append(out, fmt.Sprintf("%s has %d blocked cards; swarm on unblocking", h.TeamID, h.BlockedCount))
		case mean > 0 && h.Velocity < strugglingVelocityRatio*mean:
			out = append(out, fmt.Sprintf("%s is trailing velocity; finish in-progress work first", h.TeamID))
		}
	}
	return out
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
