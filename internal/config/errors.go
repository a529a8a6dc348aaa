package config

import "fmt"

// UpstreamNotFoundError is returned when an environment's `passed` key
// names an environment absent from the configuration (spec §3's
// EnvironmentConfig invariant).
type UpstreamNotFoundError struct {
	Environment string
	Upstream    string
}

func (e *UpstreamNotFoundError) Error() string {
	return fmt.Sprintf("config: environment %q: passed %q is not defined", e.Environment, e.Upstream)
}

// CyclicPassedError is returned when `passed` relations form a cycle
// (spec §9, "reject cycles at config load").
type CyclicPassedError struct {
	Environment string
}

func (e *CyclicPassedError) Error() string {
	return fmt.Sprintf("config: cyclic passed relation involving %q", e.Environment)
}
