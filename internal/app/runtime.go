package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

const testModeEnv = "STOCKLEDGER_TEST_MODE"

// testMode caches the flag: 0 unread, 1 off, 2 on.
var testMode atomic.Int32

// InTestMode reports whether binaries should skip dialing their backends.
// Any value strconv.ParseBool accepts as true enables it.
func InTestMode() bool {
	if testMode.Load() == 0 {
		RefreshTestMode()
	}
	return testMode.Load() == 2
}

// RefreshTestMode re-reads the environment after it changed.
func RefreshTestMode() {
	on, err := strconv.ParseBool(os.Getenv(testModeEnv))
	if err == nil && on {
		testMode.Store(2)
		return
	}
	testMode.Store(1)
}
