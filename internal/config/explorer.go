package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical explorer defaults file.
const DefaultConfigPath = "config/explorer.defaults.json"

// Defaults applied by the Get* accessors when a field is omitted.
const (
	DefaultGoalSpacing      = 0.1
	DefaultRowWidth         = 1.5
	DefaultPadding          = 0.5
	DefaultMaxWaypoints     = 250000
	DefaultGlobalFrame      = "gps"
	DefaultBaseFrame        = "base_link"
	DefaultTickInterval     = 2 * time.Second
	DefaultTransformTimeout = 10 * time.Second
	DefaultTransformRetry   = time.Second
	DefaultServerTimeout    = 30 * time.Second
)

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ExplorerConfig holds startup settings for the exploration server. Fields
// are pointers so a partial file only overrides what it names.
type ExplorerConfig struct {
	// Sweep geometry
	GoalSpacing *float64 `json:"goal_spacing,omitempty"`
	RowWidth    *float64 `json:"row_width,omitempty"`
	Padding     *float64 `json:"padding,omitempty"`

	// MaxWaypoints caps the size of a single plan.
	MaxWaypoints *int `json:"max_waypoints,omitempty"`

	// Frames. GlobalFrame is replaced by each task's boundary frame.
	GlobalFrame *string `json:"global_frame,omitempty"`
	BaseFrame   *string `json:"base_frame,omitempty"`

	// Timing, as duration strings like "2s"
	TickInterval     *string `json:"tick_interval,omitempty"`
	TransformTimeout *string `json:"transform_timeout,omitempty"`
	TransformRetry   *string `json:"transform_retry,omitempty"`
	ServerTimeout    *string `json:"server_timeout,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyExplorerConfig returns a config with every field unset.
func EmptyExplorerConfig() *ExplorerConfig {
	return &ExplorerConfig{}
}

// DefaultExplorerConfig returns a config with every field set to its default.
func DefaultExplorerConfig() *ExplorerConfig {
	return &ExplorerConfig{
		GoalSpacing:      ptrFloat64(DefaultGoalSpacing),
		RowWidth:         ptrFloat64(DefaultRowWidth),
		Padding:          ptrFloat64(DefaultPadding),
		MaxWaypoints:     ptrInt(DefaultMaxWaypoints),
		GlobalFrame:      ptrString(DefaultGlobalFrame),
		BaseFrame:        ptrString(DefaultBaseFrame),
		TickInterval:     ptrString(DefaultTickInterval.String()),
		TransformTimeout: ptrString(DefaultTransformTimeout.String()),
		TransformRetry:   ptrString(DefaultTransformRetry.String()),
		ServerTimeout:    ptrString(DefaultServerTimeout.String()),
	}
}

// Load reads an ExplorerConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Omitted fields
// fall back to defaults through the Get* methods.
func Load(path string) (*ExplorerConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyExplorerConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching parent
// directories so it works from package test directories. Panics on failure.
func MustLoadDefaultConfig() *ExplorerConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks value ranges and that durations parse.
//
// Padding must also stay below half the shortest boundary side, but that
// depends on each task's boundary and is left to the caller.
func (c *ExplorerConfig) Validate() error {
	if c.GoalSpacing != nil && !(*c.GoalSpacing > 0) {
		return &ConfigError{Field: "goal_spacing", Message: fmt.Sprintf("must be positive, got %g", *c.GoalSpacing)}
	}
	if c.RowWidth != nil && !(*c.RowWidth > 0) {
		return &ConfigError{Field: "row_width", Message: fmt.Sprintf("must be positive, got %g", *c.RowWidth)}
	}
	if c.Padding != nil && !(*c.Padding >= 0) {
		return &ConfigError{Field: "padding", Message: fmt.Sprintf("must be non-negative, got %g", *c.Padding)}
	}
	if c.MaxWaypoints != nil && *c.MaxWaypoints < 1 {
		return &ConfigError{Field: "max_waypoints", Message: fmt.Sprintf("must be at least 1, got %d", *c.MaxWaypoints)}
	}
	if c.GetRowWidth() <= c.GetPadding() {
		return &ConfigError{
			Field:   "row_width",
			Message: fmt.Sprintf("must exceed padding (%g <= %g)", c.GetRowWidth(), c.GetPadding()),
		}
	}
	if c.GlobalFrame != nil && *c.GlobalFrame == "" {
		return &ConfigError{Field: "global_frame", Message: "must not be empty"}
	}
	if c.BaseFrame != nil && *c.BaseFrame == "" {
		return &ConfigError{Field: "base_frame", Message: "must not be empty"}
	}

	durations := []struct {
		field string
		value *string
	}{
		{"tick_interval", c.TickInterval},
		{"transform_timeout", c.TransformTimeout},
		{"transform_retry", c.TransformRetry},
		{"server_timeout", c.ServerTimeout},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.value)
		if err != nil {
			return &ConfigError{Field: d.field, Message: fmt.Sprintf("invalid duration %q: %v", *d.value, err)}
		}
		if parsed <= 0 {
			return &ConfigError{Field: d.field, Message: fmt.Sprintf("must be positive, got %s", parsed)}
		}
	}
	return nil
}

// GetGoalSpacing returns goal_spacing or the default.
func (c *ExplorerConfig) GetGoalSpacing() float64 {
	if c.GoalSpacing == nil {
		return DefaultGoalSpacing
	}
	return *c.GoalSpacing
}

// GetRowWidth returns row_width or the default.
func (c *ExplorerConfig) GetRowWidth() float64 {
	if c.RowWidth == nil {
		return DefaultRowWidth
	}
	return *c.RowWidth
}

// GetPadding returns padding or the default.
func (c *ExplorerConfig) GetPadding() float64 {
	if c.Padding == nil {
		return DefaultPadding
	}
	return *c.Padding
}

// GetMaxWaypoints returns max_waypoints or the default.
func (c *ExplorerConfig) GetMaxWaypoints() int {
	if c.MaxWaypoints == nil || *c.MaxWaypoints < 1 {
		return DefaultMaxWaypoints
	}
	return *c.MaxWaypoints
}

// GetGlobalFrame returns global_frame or the default.
func (c *ExplorerConfig) GetGlobalFrame() string {
	if c.GlobalFrame == nil || *c.GlobalFrame == "" {
		return DefaultGlobalFrame
	}
	return *c.GlobalFrame
}

// GetBaseFrame returns base_frame or the default.
func (c *ExplorerConfig) GetBaseFrame() string {
	if c.BaseFrame == nil || *c.BaseFrame == "" {
		return DefaultBaseFrame
	}
	return *c.BaseFrame
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil || d <= 0 {
		return def // default on parse error
	}
	return d
}

// GetTickInterval returns the control loop period.
func (c *ExplorerConfig) GetTickInterval() time.Duration {
	return durationOr(c.TickInterval, DefaultTickInterval)
}

// GetTransformTimeout returns how long a position lookup may wait.
func (c *ExplorerConfig) GetTransformTimeout() time.Duration {
	return durationOr(c.TransformTimeout, DefaultTransformTimeout)
}

// GetTransformRetry returns the delay between lookup attempts.
func (c *ExplorerConfig) GetTransformRetry() time.Duration {
	return durationOr(c.TransformRetry, DefaultTransformRetry)
}

// GetServerTimeout returns how long to wait for the motion server at task start.
func (c *ExplorerConfig) GetServerTimeout() time.Duration {
	return durationOr(c.ServerTimeout, DefaultServerTimeout)
}
