// Package logs reads the daemon log file for `tsusu logs`.
//
// Reads are offset based so a follower can resume where the previous read
// stopped. A file that shrinks below the saved offset is treated as rotated
// and read again from the start.
package logs
