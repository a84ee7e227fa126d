// Package config defines the data structures related to configuration and
// includes functions for loading and validating the config.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/interestplan/mortgage-agent/pkg/constants"
	"github.com/interestplan/mortgage-agent/pkg/guard"
	"github.com/spf13/viper"
)

// Configuration holds all configuration for mortgage-agent.
type Configuration struct {
	Limits    LimitsConfig    `yaml:"limits,omitempty"`
	RateLimit RateLimitConfig `yaml:"rateLimit,omitempty"`
	Cache     CacheConfig     `yaml:"cache,omitempty"`
	Server    ServerConfig    `yaml:"server,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
}

// LimitsConfig holds the guardrail maxima enforced before any computation.
type LimitsConfig struct {
	MaxPrincipal         float64 `yaml:"maxPrincipal,omitempty"`
	MaxAnnualRatePercent float64 `yaml:"maxAnnualRatePercent,omitempty"`
	MaxTermMonths        int     `yaml:"maxTermMonths,omitempty"`
	MaxPrepayRatio       float64 `yaml:"maxPrepayRatio,omitempty"`
	MaxScheduleRows      int     `yaml:"maxScheduleRows,omitempty"`
	MaxExportBytes       string  `yaml:"maxExportBytes,omitempty"` // human-friendly, e.g. "2M"
}

// RateLimitConfig holds the two sliding-window budgets, each counted over a
// trailing 60-second window.
type RateLimitConfig struct {
	DefaultPerMinute int `yaml:"defaultPerMinute,omitempty"`
	ExportPerMinute  int `yaml:"exportPerMinute,omitempty"`
}

// CacheConfig selects and parameterizes the result cache backend.
type CacheConfig struct {
	Backend      string `yaml:"backend,omitempty"` // memory, redis
	RedisAddress string `yaml:"redisAddress,omitempty"`
	TTL          string `yaml:"ttl,omitempty"`
}

// ServerConfig holds HTTP server options.
type ServerConfig struct {
	Address string `yaml:"address,omitempty"`
}

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	Level      string `yaml:"level,omitempty"`      // debug, info, warn, error
	Format     string `yaml:"format,omitempty"`     // json, console
	OutputFile string `yaml:"outputFile,omitempty"` // optional file output
}

// LoadConfiguration takes a file path as input and loads the YAML-formatted
// configuration there. A missing file yields the defaults without error.
func LoadConfiguration(configPath string) (*Configuration, error) {
	viper.SetConfigFile(configPath)
	viper.AutomaticEnv()

	viper.SetConfigType("yml")

	var configuration Configuration
	if err := viper.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			configuration.applyDefaults()
			return &configuration, nil
		}
		return nil, fmt.Errorf("error reading config file, %s", err)
	}

	if err := viper.Unmarshal(&configuration); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %s", err)
	}

	configuration.applyDefaults()
	return &configuration, nil
}

func (conf *Configuration) applyDefaults() {
	if conf.Limits.MaxPrincipal == 0 {
		conf.Limits.MaxPrincipal = constants.DefaultMaxPrincipal
	}
	if conf.Limits.MaxAnnualRatePercent == 0 {
		conf.Limits.MaxAnnualRatePercent = constants.DefaultMaxAnnualRatePercent
	}
	if conf.Limits.MaxTermMonths == 0 {
		conf.Limits.MaxTermMonths = constants.DefaultMaxTermMonths
	}
	if conf.Limits.MaxPrepayRatio == 0 {
		conf.Limits.MaxPrepayRatio = constants.DefaultMaxPrepayRatio
	}
	if conf.Limits.MaxScheduleRows == 0 {
		conf.Limits.MaxScheduleRows = constants.DefaultMaxScheduleRows
	}
	if conf.RateLimit.DefaultPerMinute == 0 {
		conf.RateLimit.DefaultPerMinute = constants.DefaultRateLimitPerMinute
	}
	if conf.RateLimit.ExportPerMinute == 0 {
		conf.RateLimit.ExportPerMinute = constants.DefaultExportRateLimitPerMinute
	}
	if conf.Cache.Backend == "" {
		conf.Cache.Backend = "memory"
	}
	if conf.Server.Address == "" {
		conf.Server.Address = constants.DefaultServerAddress
	}
}

// GuardLimits converts the configured limits into the guard package's form,
// parsing the human-friendly export size.
func (conf *Configuration) GuardLimits() (guard.Limits, error) {
	exportBytes := constants.DefaultMaxExportBytes
	if conf.Limits.MaxExportBytes != "" {
		parsed, err := ParseSize(conf.Limits.MaxExportBytes)
		if err != nil {
			return guard.Limits{}, err
		}
		exportBytes = parsed
	}

	return guard.Limits{
		MaxPrincipal:         conf.Limits.MaxPrincipal,
		MaxAnnualRatePercent: conf.Limits.MaxAnnualRatePercent,
		MaxTermMonths:        conf.Limits.MaxTermMonths,
		MaxPrepayRatio:       conf.Limits.MaxPrepayRatio,
		MaxScheduleRows:      conf.Limits.MaxScheduleRows,
		MaxExportBytes:       exportBytes,
	}, nil
}

// CacheTTL parses the configured cache entry lifetime.
func (conf *Configuration) CacheTTL() (time.Duration, error) {
	if conf.Cache.TTL == "" {
		return time.Duration(constants.DefaultCacheTTLMinutes) * time.Minute, nil
	}
	ttl, err := time.ParseDuration(conf.Cache.TTL)
	if err != nil {
		return 0, fmt.Errorf("invalid cache ttl %q: %w", conf.Cache.TTL, err)
	}
	return ttl, nil
}

// ValidateConfiguration checks the loaded configuration for suspicious
// values and returns human-readable warnings.
func (conf *Configuration) ValidateConfiguration() []string {
	var warnings []string

	if conf.Limits.MaxPrepayRatio > 1 {
		warnings = append(warnings, fmt.Sprintf("maxPrepayRatio %.2f exceeds 1.0; prepayments above the full principal will never pass the balance check", conf.Limits.MaxPrepayRatio))
	}
	if conf.Limits.MaxTermMonths > constants.DefaultMaxTermMonths {
		warnings = append(warnings, fmt.Sprintf("maxTermMonths %d exceeds %d; schedule generation cost grows linearly with the term", conf.Limits.MaxTermMonths, constants.DefaultMaxTermMonths))
	}
	if conf.RateLimit.ExportPerMinute > conf.RateLimit.DefaultPerMinute {
		warnings = append(warnings, "export rate budget exceeds the default budget; exports are the more expensive path")
	}
	if conf.Cache.Backend == "redis" && conf.Cache.RedisAddress == "" {
		warnings = append(warnings, "cache backend is redis but no redisAddress is configured; falling back to memory")
	}

	return warnings
}

// ParseSize converts a human-friendly byte string (e.g., "256K", "10M") into bytes.
func ParseSize(value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return constants.DefaultMaxExportBytes, nil
	}

	upper := strings.ToUpper(trimmed)
	idx := len(upper)
	for idx > 0 && !unicode.IsDigit(rune(upper[idx-1])) {
		idx--
	}
	if idx == 0 {
		return 0, fmt.Errorf("invalid size: %s", value)
	}
	numPart := strings.TrimSpace(upper[:idx])
	unitPart := strings.TrimSpace(upper[idx:])

	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value %q: %w", value, err)
	}

	var multiplier int64
	switch unitPart {
	case "", "B":
		multiplier = 1
	case "K", "KB":
		multiplier = 1024
	case "M", "MB":
		multiplier = 1024 * 1024
	case "G", "GB":
		multiplier = 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("unsupported size unit %q", unitPart)
	}

	result := n * multiplier
	if result < 0 {
		return 0, fmt.Errorf("size overflow for value %s", value)
	}
	return result, nil
}
