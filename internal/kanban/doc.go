// Package kanban implements WIP-limited team boards over a shared card store.
//
// A [Board] is a team-scoped (or global) view over a [CardStore]. WIP
// limits apply to in_progress and review only. Moving a card into a full
// column fails with an error matching errors.ErrWIPLimitExceeded;
// [Board.PullReadyTask] instead returns nil when in_progress is full, since
// running out of capacity is an expected outcome for a puller.
//
// Cross-team dependencies are recorded in card metadata under
// [MetaDependsOnTeam] and read back by the coordination loop.
package kanban
