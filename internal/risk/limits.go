// Package risk implements pre-trade validation, the daily-loss circuit
// breaker and the layered protective monitors.
package risk

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"vigil/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Limits is operator-owned configuration. It is never mutated at
// runtime except through the profile file watcher (the operator path).
type Limits struct {
	MinConfidence            float64            `yaml:"min_confidence"`
	MaxPositionFraction      float64            `yaml:"max_position_fraction"`
	MaxTotalExposureFraction float64            `yaml:"max_total_exposure_fraction"`
	DefaultMaxLeverage       float64            `yaml:"default_max_leverage"`
	MaxLeverage              map[string]float64 `yaml:"max_leverage"`
	DailyLossPct             float64            `yaml:"daily_loss_pct"`
	DailyLossAbs             float64            `yaml:"daily_loss_abs"`
	DefaultStopLossPct       float64            `yaml:"default_stop_loss_pct"`
	EmergencyLossPct         float64            `yaml:"emergency_loss_pct"`
	Layer2PollMS             int                `yaml:"layer2_poll_ms"`
	Layer3PollMS             int                `yaml:"layer3_poll_ms"`
}

// DefaultLimits mirror the documented defaults; a missing profile file
// is a configuration error, but individual zero fields fall back here.
func DefaultLimits() Limits {
	return Limits{
		MinConfidence:            0.60,
		MaxPositionFraction:      0.10,
		MaxTotalExposureFraction: 0.50,
		DefaultMaxLeverage:       5,
		DailyLossPct:             0.07,
		DefaultStopLossPct:       0.02,
		EmergencyLossPct:         0.15,
		Layer2PollMS:             2000,
		Layer3PollMS:             1000,
	}
}

func (l *Limits) applyDefaults() {
	d := DefaultLimits()
	if l.MinConfidence <= 0 {
		l.MinConfidence = d.MinConfidence
	}
	if l.MaxPositionFraction <= 0 {
		l.MaxPositionFraction = d.MaxPositionFraction
	}
	if l.MaxTotalExposureFraction <= 0 {
		l.MaxTotalExposureFraction = d.MaxTotalExposureFraction
	}
	if l.DefaultMaxLeverage <= 0 {
		l.DefaultMaxLeverage = d.DefaultMaxLeverage
	}
	if l.DailyLossPct <= 0 && l.DailyLossAbs <= 0 {
		l.DailyLossPct = d.DailyLossPct
	}
	if l.DefaultStopLossPct <= 0 {
		l.DefaultStopLossPct = d.DefaultStopLossPct
	}
	if l.EmergencyLossPct <= 0 {
		l.EmergencyLossPct = d.EmergencyLossPct
	}
	if l.Layer2PollMS <= 0 {
		l.Layer2PollMS = d.Layer2PollMS
	}
	if l.Layer3PollMS <= 0 {
		l.Layer3PollMS = d.Layer3PollMS
	}
}

// LeverageBound returns the instrument bound, falling back to the
// default when the instrument has no explicit entry.
func (l Limits) LeverageBound(symbol string) float64 {
	if b, ok := l.MaxLeverage[strings.ToUpper(strings.TrimSpace(symbol))]; ok && b > 0 {
		return b
	}
	return l.DefaultMaxLeverage
}

func (l Limits) Layer2Interval() time.Duration {
	return time.Duration(l.Layer2PollMS) * time.Millisecond
}

func (l Limits) Layer3Interval() time.Duration {
	return time.Duration(l.Layer3PollMS) * time.Millisecond
}

// LimitsProvider holds the current limits and hot-reloads them when the
// profile file changes on disk.
type LimitsProvider struct {
	mu     sync.RWMutex
	limits Limits
	path   string
}

// NewLimitsProvider loads the YAML profile at path.
func NewLimitsProvider(path string) (*LimitsProvider, error) {
	limits, err := loadLimits(path)
	if err != nil {
		return nil, err
	}
	return &LimitsProvider{limits: limits, path: path}, nil
}

// StaticLimits wraps fixed limits, for tests and embedded use.
func StaticLimits(l Limits) *LimitsProvider {
	l.applyDefaults()
	return &LimitsProvider{limits: l}
}

func loadLimits(path string) (Limits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Limits{}, fmt.Errorf("read limits profile: %w", err)
	}
	var l Limits
	if err := yaml.Unmarshal(data, &l); err != nil {
		return Limits{}, fmt.Errorf("parse limits profile (%s): %w", path, err)
	}
	l.applyDefaults()
	return l, nil
}

// Current returns a copy of the active limits.
func (p *LimitsProvider) Current() Limits {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.limits
}

// Watch reloads the profile on file change. Reload failures keep the
// previous limits; trading never runs without a valid limit set.
func (p *LimitsProvider) Watch() error {
	if p.path == "" {
		return fmt.Errorf("limits provider has no backing file")
	}
	v := viper.New()
	v.SetConfigFile(p.path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watch limits profile: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		limits, err := loadLimits(p.path)
		if err != nil {
			logger.Errorf("risk: limits reload failed (%s): %v", evt.Name, err)
			return
		}
		p.mu.Lock()
		p.limits = limits
		p.mu.Unlock()
		logger.Infof("risk: limits profile reloaded from %s", p.path)
	})
	v.WatchConfig()
	return nil
}
