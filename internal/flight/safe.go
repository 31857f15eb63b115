package flight

import (
	"fmt"
)

// runSafely executes fn and converts panics into returned errors tagged with scope.
// It guards the detached goroutine of every call so a panicking loader settles
// its waiters instead of crashing the process.
func runSafely[V any](scope string, fn func() (V, error)) (value V, err error) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		var zero V
		value = zero
		err = fmt.Errorf("%s: panic recovered: %v", scope, recovered)
	}()

	return fn()
}
