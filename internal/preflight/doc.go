// Package preflight checks that the directories the daemon needs are usable
// before anything tries to bind. `tsusu status` renders the results so a
// broken environment is visible without reading the daemon log.
package preflight
