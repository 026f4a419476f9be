package syncfeed

import (
	"time"

	"admissions-workers/internal/common/config"
)

type Config struct {
	Timeout time.Duration
}

// LoadConfig defaults to a minute: a cycle may fetch, write and reload.
func LoadConfig(wc config.WorkerConfig) *Config {
	timeout := time.Duration(wc.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Config{Timeout: timeout}
}
