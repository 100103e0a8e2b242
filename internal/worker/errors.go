package worker

import "fmt"

// AuthFailure signals that the coordinator persistently rejected this
// node's signed requests as unauthorized: stop offering work, surface
// to the user. Run returns it so cmd/worker can map it to a distinct
// exit code.
type AuthFailure struct {
	Route string
	Err   error
}

func (a *AuthFailure) Error() string {
	return fmt.Sprintf("worker: persistent authentication failure on %s: %v", a.Route, a.Err)
}

func (a *AuthFailure) Unwrap() error { return a.Err }
