package safe

import (
	"fmt"
	"runtime"

	"github.com/ganeshkbhat/lifeline/log"
)

func Stack() string {
	buf := make([]byte, 2<<20)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

func Recover(logger log.Logger) {
	if r := recover(); r != nil {
		logger.Error("safe: panic recover: %v\n%s", r, Stack())
	}
}

// RecoverError converts a recovered panic into an error so the caller
// can treat a panicking callback like a failing one.
func RecoverError(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("safe: panic recover: %v\n%s", r, Stack())
	}
}

func Go(logger log.Logger, f func()) {
	go func() {
		defer Recover(logger)
		f()
	}()
}
