// Package scheduler fires registered jobs when their cron triggers come due.
//
// A single loop goroutine owns every trigger's next fire time. It sleeps until
// the earliest one, fires due triggers in (fire time, job key, trigger key)
// order and hands each execution to the task engine, so a slow job never holds
// up other triggers. Listeners are notified through the listener bus; their
// failures are logged and never affect scheduling.
package scheduler
