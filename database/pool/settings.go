package pool

import (
	"errors"
	"fmt"
	"time"
)

// Default settings.
const (
	DefaultMaxSize                = 8
	DefaultMinSize                = DefaultMaxSize / 2
	DefaultIdleTimeout            = 60 * time.Second
	DefaultCleanupInterval        = 20 * time.Second
	DefaultMaxRetryWait           = 50 * time.Millisecond
	DefaultMaxCheckOutTime        = 2 * time.Second
	DefaultNewConnectionThreshold = 500 * time.Millisecond
)

// ErrInvalidSettings is returned for inconsistent pool settings.
var ErrInvalidSettings = errors.New("pool: invalid settings")

// Settings configures a pool.
type Settings struct {
	MinSize int `yaml:"min_size"`
	MaxSize int `yaml:"max_size"`

	// IdleTimeout is how long a returned connection may stay idle before
	// the cleanup destroys it.
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// MaxRetryWait bounds the random wait between check out attempts.
	MaxRetryWait time.Duration `yaml:"max_retry_wait"`

	// MaxCheckOutTime is how long a request waits for a connection.
	MaxCheckOutTime time.Duration `yaml:"max_check_out_time"`

	// NewConnectionThreshold is how long a request waits for an idle
	// connection before a new one is created.
	NewConnectionThreshold time.Duration `yaml:"new_connection_threshold"`

	// FineGrainedStatistics records the pool state on every request.
	FineGrainedStatistics bool `yaml:"fine_grained_statistics"`
}

// DefaultSettings returns the default pool settings.
func DefaultSettings() Settings {
	return Settings{
		MinSize:                DefaultMinSize,
		MaxSize:                DefaultMaxSize,
		IdleTimeout:            DefaultIdleTimeout,
		CleanupInterval:        DefaultCleanupInterval,
		MaxRetryWait:           DefaultMaxRetryWait,
		MaxCheckOutTime:        DefaultMaxCheckOutTime,
		NewConnectionThreshold: DefaultNewConnectionThreshold,
	}
}

// SetMinSize sets the minimum size, between 0 and the maximum size.
func (s *Settings) SetMinSize(n int) error {
	if n < 0 || n > s.MaxSize {
		return fmt.Errorf("%w: minimum size %d must be between 0 and the maximum size %d", ErrInvalidSettings, n, s.MaxSize)
	}
	s.MinSize = n
	return nil
}

// SetMaxSize sets the maximum size, at least 1 and the minimum size.
func (s *Settings) SetMaxSize(n int) error {
	if n < 1 || n < s.MinSize {
		return fmt.Errorf("%w: maximum size %d must be at least 1 and the minimum size %d", ErrInvalidSettings, n, s.MinSize)
	}
	s.MaxSize = n
	return nil
}

// SetMaxCheckOutTime sets the maximum check out time.
func (s *Settings) SetMaxCheckOutTime(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: negative maximum check out time", ErrInvalidSettings)
	}
	s.MaxCheckOutTime = d
	return nil
}

// SetNewConnectionThreshold sets the new connection threshold, below the
// maximum check out time.
func (s *Settings) SetNewConnectionThreshold(d time.Duration) error {
	if d < 0 || d >= s.MaxCheckOutTime {
		return fmt.Errorf("%w: new connection threshold %s must be between 0 and the maximum check out time %s",
			ErrInvalidSettings, d, s.MaxCheckOutTime)
	}
	s.NewConnectionThreshold = d
	return nil
}

// Validate checks the settings as the setters do.
func (s Settings) Validate() error {
	switch {
	case s.MaxSize < 1:
		return fmt.Errorf("%w: maximum size %d", ErrInvalidSettings, s.MaxSize)
	case s.MinSize < 0 || s.MinSize > s.MaxSize:
		return fmt.Errorf("%w: minimum size %d with maximum %d", ErrInvalidSettings, s.MinSize, s.MaxSize)
	case s.MaxCheckOutTime < 0:
		return fmt.Errorf("%w: negative maximum check out time", ErrInvalidSettings)
	case s.NewConnectionThreshold < 0 || s.MaxCheckOutTime > 0 && s.NewConnectionThreshold >= s.MaxCheckOutTime:
		return fmt.Errorf("%w: new connection threshold %s", ErrInvalidSettings, s.NewConnectionThreshold)
	case s.CleanupInterval <= 0:
		return fmt.Errorf("%w: cleanup interval %s", ErrInvalidSettings, s.CleanupInterval)
	case s.IdleTimeout < 0 || s.MaxRetryWait < 0:
		return fmt.Errorf("%w: negative duration", ErrInvalidSettings)
	}
	return nil
}
