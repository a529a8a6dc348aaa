package main

import "github.com/cepler-io/cepler/internal/statedb"

// diffSymbol renders a FileDiff the way `git status --short` marks changes:
// "+" added, "-" removed, "~" changed.
func diffSymbol(d statedb.FileDiff) string {
	switch {
	case d.Added:
		return "+"
	case d.CurrentState == nil:
		return "-"
	default:
		return "~"
	}
}
