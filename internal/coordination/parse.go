package coordination

import (
	"regexp"
	"strings"
)

// MaxFallbackRecommendations caps recommendations salvaged from an
// unstructured plan.
const MaxFallbackRecommendations = 10

// minRecommendationLen is the shortest line kept as a salvaged recommendation.
const minRecommendationLen = 10

var (
	borrowLine    = regexp.MustCompile(`(?i)^BORROW:\s*(\S+)\s+from\s+(\S+)\s+to\s+(\S+?)(?:\s+because\s+(.+))?$`)
	recommendLine = regexp.MustCompile(`(?i)^RECOMMEND:\s*(.+)$`)
	listMarker    = regexp.MustCompile(`^(?:[-*•]+|\d+[.)])\s*`)
)

// ParsePlan extracts BORROW and RECOMMEND lines from a planner response.
// Other lines are ignored. When the response has no structured lines at
// all, every non-trivial line becomes a recommendation, up to
// MaxFallbackRecommendations.
func ParsePlan(text string) (borrows []Borrow, recommendations []string) {
	lines := strings.Split(text, "\n")
	for _, raw := range lines {
		line := strings.TrimSpace(listMarker.ReplaceAllString(strings.TrimSpace(raw), ""))
		if m := borrowLine.FindStringSubmatch(line); m != nil {
			borrows = append(borrows, Borrow{
				AgentID:  m[1],
				FromTeam: m[2],
				ToTeam:   m[3],
				Reason:   strings.TrimSpace(m[4]),
			})
			continue
		}
		if m := recommendLine.FindStringSubmatch(line); m != nil {
			if rec := strings.TrimSpace(m[1]); rec != "" {
				recommendations = append(recommendations, rec)
			}
		}
	}

	if len(borrows) > 0 || len(recommendations) > 0 {
		return borrows, recommendations
	}
	return nil, salvage(lines)
}

// salvage keeps non-trivial lines of an unstructured response.
func salvage(lines []string) []string {
	var out []string
	for _, raw := range lines {
		line := strings.TrimSpace(listMarker.ReplaceAllString(strings.TrimSpace(raw), ""))
		line = strings.TrimLeft(line, "# ")
		if len(line) < minRecommendationLen {
			continue
		}
		out = append(out, line)
		if len(out) == MaxFallbackRecommendations {
			break
		}
	}
	return out
}
