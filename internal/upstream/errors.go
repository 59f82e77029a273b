package upstream

import "fmt"

// ConnectivityError means the endpoint could not be reached at all.
type ConnectivityError struct {
	Endpoint string
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("cannot reach %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// StatusError carries a non-2xx reply from the endpoint.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream http %d", e.Status)
	}
	return fmt.Sprintf("upstream http %d: %s", e.Status, e.Body)
}
