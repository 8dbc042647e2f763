package app

import (
	"os"
	"sync"
)

// TestModeEnv makes both binaries return before dialing Postgres or Redis when
// set to "1". The blank-imported testing package sets it.
const TestModeEnv = "ODYSSEY_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	return os.Getenv(TestModeEnv) == "1"
})

// InTestMode reports the value of TestModeEnv when it was first consulted.
func InTestMode() bool {
	return testMode()
}
