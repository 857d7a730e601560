package startup

import (
	"os"
	"time"

	"github.com/baatchit/internal/logger"
)

// retry повторяет fn с экспоненциальной паузой (2s..30s) до maxWait, затем завершает процесс.
func retry(what string, maxWait time.Duration, logPrefix string, fn func() error) {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		err := fn()
		if err == nil {
			return
		}
		if time.Now().After(deadline) {
			logger.Errorf("%s%s (gave up after %v): %v", logPrefix, what, maxWait, err)
			os.Exit(1)
		}
		logger.Errorf("%s%s failed, retry in %v: %v", logPrefix, what, backoff, err)
		time.Sleep(backoff)
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
