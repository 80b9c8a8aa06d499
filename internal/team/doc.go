// Package team provides multi-team sprint orchestration.
//
// The central type is [Orchestrator], which owns team setup and the
// per-sprint cycle:
//
//   - [Orchestrator.SetupTeams] partitions agents into disjoint rosters,
//     creates one kanban board and one [SprintRunner] per team, and opens a
//     "team-<id>" channel per team plus a shared "portfolio" channel.
//   - [Orchestrator.RunSprint] returns loaned agents, runs a coordination
//     cycle when due and applies its borrows, distributes portfolio stories,
//     then runs every team's sprint concurrently.
//   - [Orchestrator.Run] drives sprints 1..N.
//
// # Membership
//
// A [Registry] is the only record of which agent works on which team.
// Rosters are derived from it on read, so a borrow is a single atomic
// update of one record. An agent's home team is remembered across nested
// borrows until [Orchestrator.ReturnBorrowedAgents] sends it back.
//
// # Failure Isolation
//
// Each team sprint runs in its own goroutine behind a panic catcher. A team
// whose runner errors or panics is logged, listed in
// [SprintReport.Failed], and contributes no result; the other teams are
// unaffected.
package team
