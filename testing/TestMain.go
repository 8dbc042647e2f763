package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

// testTokenSecret satisfies the HS256 key size floor for packages that load config.
const testTokenSecret = "odyssey-test-secret-0123456789abcdef"

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("ODYSSEY_TEST_MODE", "1")
		if os.Getenv("TOKEN_SECRET") == "" {
			_ = os.Setenv("TOKEN_SECRET", testTokenSecret)
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
