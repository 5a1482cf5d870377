package tracker

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config controls capture, batching and delivery.
type Config struct {
	Endpoint         string        `yaml:"endpoint" validate:"required,url"`
	BatchSize        int           `yaml:"batch_size" validate:"gte=1,lte=500"`
	FlushInterval    time.Duration `yaml:"flush_interval" validate:"gte=0"`
	ScrollThresholds []int         `yaml:"scroll_thresholds" validate:"dive,gt=0,lte=100"`
	ScrollDebounce   time.Duration `yaml:"scroll_debounce" validate:"gte=0"`
	IgnoreSelectors  []string      `yaml:"ignore_selectors"`

	// MaxQueueSize bounds the in-memory queue; the oldest events are dropped
	// once it is full.
	MaxQueueSize int `yaml:"max_queue_size" validate:"gtefield=BatchSize"`
	// MaxRetries is the number of failed sends after which an event is dropped.
	MaxRetries int `yaml:"max_retries" validate:"gte=1"`

	RetryInitialInterval time.Duration `yaml:"retry_initial_interval" validate:"gt=0"`
	RetryMaxInterval     time.Duration `yaml:"retry_max_interval" validate:"gtefield=RetryInitialInterval"`

	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
	BeaconTimeout  time.Duration `yaml:"beacon_timeout" validate:"gt=0"`
}

// DefaultConfig returns the stock settings for the given ingestion endpoint.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:             endpoint,
		BatchSize:            50,
		FlushInterval:        10 * time.Second,
		ScrollThresholds:     []int{25, 50, 75, 90},
		ScrollDebounce:       100 * time.Millisecond,
		IgnoreSelectors:      []string{"[data-no-track]", ".no-track", "script", "style"},
		MaxQueueSize:         1000,
		MaxRetries:           5,
		RetryInitialInterval: 2 * time.Second,
		RetryMaxInterval:     2 * time.Minute,
		RequestTimeout:       10 * time.Second,
		BeaconTimeout:        2 * time.Second,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the config and normalizes the scroll thresholds to
// ascending, de-duplicated order.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid tracker config: %w", err)
	}
	for _, sel := range c.IgnoreSelectors {
		if _, err := parseSelectorList(sel); err != nil {
			return fmt.Errorf("invalid tracker config: ignore selector %q: %w", sel, err)
		}
	}

	seen := make(map[int]bool, len(c.ScrollThresholds))
	thresholds := make([]int, 0, len(c.ScrollThresholds))
	for _, th := range c.ScrollThresholds {
		if !seen[th] {
			seen[th] = true
			thresholds = append(thresholds, th)
		}
	}
	sort.Ints(thresholds)
	c.ScrollThresholds = thresholds
	return nil
}

// LoadConfig reads a YAML file on top of DefaultConfig and validates it.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig("")

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read tracker config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse tracker config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
