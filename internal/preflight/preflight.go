package preflight

import (
	"tsusu/internal/config"
	"tsusu/internal/rundir"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the environment checks for cfg and the resolved runtime
// paths.
func RunAll(cfg *config.Config, paths rundir.Paths) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log dir", cfg.Paths.LogDir))
	}
	results = append(results, CheckRuntimeDir("Runtime dir", paths.Dir))
	results = append(results, CheckSocketPath("Socket", paths.Socket))
	return results
}
