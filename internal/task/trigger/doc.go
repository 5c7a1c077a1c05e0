// Package trigger computes fire times for cron triggers.
//
// Expressions are parsed with robfig/cron and evaluated in the trigger's
// location. The package never runs anything; the scheduler loop asks it for
// the next instant after a reference time.
package trigger
