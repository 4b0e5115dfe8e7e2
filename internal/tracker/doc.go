// Package tracker implements the work-interval state machine: opening a
// timed interval on a task, closing it exactly once, and absorbing the
// races that multiple devices of one user can produce.
//
// Conflicts born from the multi-device setup (double close, a
// reconnecting device closing an interval a sibling has since taken
// over) resolve as silent no-ops returning the current authoritative
// state. Surfacing them as errors would just trigger client retry
// storms against state that is already correct.
package tracker
