// Package storage keeps an append-only audit trail of job firings.
//
// Drivers:
//   - file: JSON Lines, no dependencies
//   - sqlite: modernc.org/sqlite, built with -tags sqlite
//
// Nothing stored here is read back into the scheduler. Job state does not
// survive a restart.
package storage
