package workspace

import "fmt"

// EnvNotFoundError is returned when an operation names an environment
// absent from the loaded configuration.
type EnvNotFoundError struct {
	Environment string
}

func (e *EnvNotFoundError) Error() string {
	return fmt.Sprintf("workspace: environment %q is not defined", e.Environment)
}

// UpstreamNotDeployedError is returned by Check when the environment's
// upstream has never been recorded (spec §4.3: "Previous environment …
// not deployed yet").
type UpstreamNotDeployedError struct {
	Environment string
}

func (e *UpstreamNotDeployedError) Error() string {
	return fmt.Sprintf("workspace: previous environment %q not deployed yet", e.Environment)
}
