package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP API server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeImporter runs the batch importer worker pool.
	ServiceModeImporter ServiceMode = "importer"
	// ServiceModeBroadcaster runs the periodic progress broadcaster.
	ServiceModeBroadcaster ServiceMode = "broadcaster"
	// ServiceModeWatchdog runs the stuck-job watchdog.
	ServiceModeWatchdog ServiceMode = "watchdog"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeImporter,
		ServiceModeBroadcaster,
		ServiceModeWatchdog,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeImporter, ServiceModeBroadcaster, ServiceModeWatchdog:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, importer, broadcaster, watchdog)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// UploadConfig contains file intake configuration.
type UploadConfig struct {
	// DataDir is the directory where accepted workbooks are stored until the
	// importer has processed them.
	DataDir string `env:"UPLOAD_DATA_DIR" envDefault:"./data/uploads"`

	// MaxFileBytes is the maximum accepted workbook size.
	MaxFileBytes int64 `env:"UPLOAD_MAX_FILE_BYTES" envDefault:"104857600"` // 100 MiB
}

// Sanitize applies guardrails to upload configuration values.
func (u *UploadConfig) Sanitize() {
	if u.DataDir == "" {
		u.DataDir = "./data/uploads"
	}
	if u.MaxFileBytes < 1024 {
		u.MaxFileBytes = 1024
	}
}

// ImporterConfig contains batch importer configuration.
type ImporterConfig struct {
	// Concurrency is the number of worker goroutines, and therefore the
	// maximum number of jobs processed simultaneously.
	Concurrency int `env:"IMPORTER_CONCURRENCY" envDefault:"2"`

	// BatchSize is the number of rows read, validated, and persisted per batch.
	// Heartbeats and counter updates happen once per batch, so cancellation
	// latency is bounded by this value.
	BatchSize int `env:"IMPORTER_BATCH_SIZE" envDefault:"500"`

	// FatalErrorThreshold fails the whole job when its error count exceeds
	// this value after all sheets are processed. Zero disables the threshold:
	// jobs complete regardless of how many rows were rejected.
	FatalErrorThreshold int `env:"IMPORTER_FATAL_ERROR_THRESHOLD" envDefault:"0"`
}

// Sanitize applies guardrails to importer configuration values.
func (i *ImporterConfig) Sanitize() {
	if i.Concurrency < 1 {
		i.Concurrency = 1
	}
	if i.Concurrency > 32 {
		i.Concurrency = 32
	}
	if i.BatchSize < 1 {
		i.BatchSize = 1
	}
	if i.BatchSize > 10000 {
		i.BatchSize = 10000
	}
	if i.FatalErrorThreshold < 0 {
		i.FatalErrorThreshold = 0
	}
}

// BroadcasterConfig contains progress broadcaster configuration.
type BroadcasterConfig struct {
	// Interval is the broadcast tick interval.
	Interval time.Duration `env:"BROADCASTER_INTERVAL" envDefault:"2s"`
}

// Sanitize applies guardrails to broadcaster configuration values.
func (b *BroadcasterConfig) Sanitize() {
	if b.Interval < 500*time.Millisecond {
		b.Interval = 500 * time.Millisecond
	}
	if b.Interval > time.Minute {
		b.Interval = time.Minute
	}
}

// WatchdogConfig contains stuck-job watchdog configuration.
type WatchdogConfig struct {
	// Interval is the watchdog tick interval.
	Interval time.Duration `env:"WATCHDOG_INTERVAL" envDefault:"1m"`

	// HeartbeatGrace is how stale a processing job's heartbeat may be before
	// the job is marked stuck. Must exceed the importer's batch cadence by a
	// wide margin to avoid false positives.
	HeartbeatGrace time.Duration `env:"WATCHDOG_HEARTBEAT_GRACE" envDefault:"5m"`

	// StuckTimeout is the absolute heartbeat age after which a stuck job is
	// force-failed instead of waiting for the worker to resume.
	StuckTimeout time.Duration `env:"WATCHDOG_STUCK_TIMEOUT" envDefault:"30m"`

	// BatchSize is the maximum number of jobs transitioned per sweep.
	// Batching prevents long locks on large tables.
	BatchSize int `env:"WATCHDOG_BATCH_SIZE" envDefault:"100"`
}

// Sanitize applies guardrails to watchdog configuration values.
func (w *WatchdogConfig) Sanitize() {
	if w.Interval < 10*time.Second {
		w.Interval = 10 * time.Second
	}
	if w.HeartbeatGrace < time.Minute {
		w.HeartbeatGrace = time.Minute
	}
	if w.StuckTimeout < w.HeartbeatGrace*2 {
		w.StuckTimeout = w.HeartbeatGrace * 2
	}
	if w.BatchSize < 1 {
		w.BatchSize = 1
	}
	if w.BatchSize > 10000 {
		w.BatchSize = 10000
	}
}
