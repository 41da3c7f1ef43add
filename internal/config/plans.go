package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PlanConfig is the per-plan limits table. Keys are lowercase plan tags.
type PlanConfig struct {
	Plans map[string]PlanLimits `mapstructure:"plans"`
}

// PlanLimits holds daily limits per feature key and the features a plan
// cannot use at all.
type PlanLimits struct {
	Limits map[string]int64 `mapstructure:"limits"`
	Locked []string         `mapstructure:"locked"`
}

func DefaultPlanConfig() PlanConfig {
	return PlanConfig{
		Plans: map[string]PlanLimits{
			"free": {
				Limits: map[string]int64{
					"idea_generate":      10,
					"title_generate":     10,
					"tag_generate":       20,
					"channel_sync":       3,
					"thumbnail_generate": 0,
					"competitor_search":  0,
				},
				Locked: []string{"competitor_search"},
			},
			"pro": {
				Limits: map[string]int64{
					"idea_generate":      200,
					"title_generate":     200,
					"tag_generate":       500,
					"channel_sync":       50,
					"thumbnail_generate": 50,
					"competitor_search":  100,
				},
			},
		},
	}
}

type PlanConfigHolder struct {
	current atomic.Value // holds PlanConfig
}

// NewStaticPlanConfigHolder wraps a fixed table without file watching.
func NewStaticPlanConfigHolder(cfg PlanConfig) *PlanConfigHolder {
	holder := &PlanConfigHolder{}
	holder.current.Store(normalizePlanConfig(cfg))
	return holder
}

// NewPlanConfigHolder loads plans.yml from the usual search paths and keeps
// it hot reloaded. A missing file falls back to DefaultPlanConfig.
func NewPlanConfigHolder(log *zap.Logger) (*PlanConfigHolder, error) {
	v := viper.New()
	v.SetConfigName("plans")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/creatorquota")
	v.AddConfigPath(".")
	return loadPlanConfig(v, log)
}

// LoadPlanConfigFile loads a specific plans file and watches it.
func LoadPlanConfigFile(path string, log *zap.Logger) (*PlanConfigHolder, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return loadPlanConfig(v, log)
}

func loadPlanConfig(v *viper.Viper, log *zap.Logger) (*PlanConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("plan.config")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info("plans config not found, using defaults")
		return NewStaticPlanConfigHolder(DefaultPlanConfig()), nil
	}

	var cfg PlanConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := validatePlanConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PlanConfigHolder{}
	holder.current.Store(normalizePlanConfig(cfg))

	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PlanConfig
		if err := v.Unmarshal(&updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validatePlanConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(normalizePlanConfig(updated))
		log.Info("reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func (h *PlanConfigHolder) Get() PlanConfig {
	return h.current.Load().(PlanConfig)
}

func validatePlanConfig(cfg PlanConfig) error {
	if len(cfg.Plans) == 0 {
		return errors.New("plans cannot be empty")
	}
	if _, ok := cfg.Plans["free"]; !ok {
		return errors.New("plans.free is required")
	}
	for plan, limits := range cfg.Plans {
		for feature, limit := range limits.Limits {
			if limit < 0 {
				return fmt.Errorf("plans.%s.limits.%s must not be negative", plan, feature)
			}
		}
	}
	return nil
}

func normalizePlanConfig(cfg PlanConfig) PlanConfig {
	out := PlanConfig{Plans: make(map[string]PlanLimits, len(cfg.Plans))}
	for plan, limits := range cfg.Plans {
		normalized := PlanLimits{Limits: make(map[string]int64, len(limits.Limits))}
		for feature, limit := range limits.Limits {
			normalized.Limits[strings.ToLower(strings.TrimSpace(feature))] = limit
		}
		for _, feature := range limits.Locked {
			feature = strings.ToLower(strings.TrimSpace(feature))
			if feature != "" {
				normalized.Locked = append(normalized.Locked, feature)
			}
		}
		out.Plans[strings.ToLower(strings.TrimSpace(plan))] = normalized
	}
	return out
}
