// Package report computes productivity aggregates from raw work
// intervals: a dense, zero-filled daily series of completed time and
// the set of calendar dates a user has worked on.
//
// Dates are calendar days in the caller's timezone, derived from each
// task's creation instant. A bucket sums the closed intervals of the
// tasks created that day, wherever the actual work landed on the clock.
package report
