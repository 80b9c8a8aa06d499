// Package sprint provides an offline [team.SprintRunner].
//
// Each sprint a [Runner] reads its agents' inboxes, clears blocked cards
// whose dependency was delivered since the last sprint, refines backlog
// into ready work, and lets every agent on the current roster pull and
// finish cards up to a per-agent quota. Cards that declare an open
// dependency on another team are parked in blocked instead of finished.
//
// The runner needs no external services, so experiments and tests run
// deterministically. Agents that carry a model can optionally be asked to
// produce a work note for each card before it is finished.
package sprint
