// Package jobs holds the job types the cronwire binary ships with.
//
// Both are configured through the job data map:
//
//	log:   message, level (trace|debug|info|warn|error, default info)
//	shell: command, dir (optional), shell (optional, default sh)
package jobs
