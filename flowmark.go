// Package flowmark exposes long-running, stateful workflow instances over
// HTTP. Inbound requests are correlated to an instance via a cookie, matched
// to a waiting receive point by URI template and method, and used to resume
// the instance until it produces a response or goes idle again.
package flowmark

const (
	// Name is the service name reported in logs and health output
	Name = "flowmark"

	// Version is the release version of the module
	Version = "0.3.0"
)
