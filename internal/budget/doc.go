// Package budget timeboxes coordination overhead against a fixed
// wall-clock experiment length.
//
// A [Tracker] reserves a fraction of the experiment for overhead steps
// (coordination, distribution, check-in), carves off an iteration-zero share
// for setup and splits the rest evenly per sprint and by step weight. Every
// finished step is debited with [Tracker.Record]; the remaining budget never
// goes negative and step timeouts never drop below the configured floor.
package budget
