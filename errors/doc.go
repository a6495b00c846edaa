// Package errors provides structured errors for the parts of sketchlink that
// fail loudly: transport construction and the generation job client.
//
// Channel delivery problems (malformed payloads, sends after close) are not
// errors in this sense. They are dropped and logged, never returned.
//
// # Categories
//
//   - Transient: retry may succeed (timeouts, unreachable backend)
//   - Permanent: retry will not help (upload or submission rejected)
//   - Internal: bugs and recovered panics
//
// # Usage
//
//	err := errors.Upload("backend returned no image name", errors.WithTaskID(id))
//
//	if errors.Is(err, errors.ErrCodeTimeout) {
//	    // job did not finish within the poll budget
//	}
package errors
