package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// CommissionConfig carries the referral payout rates in basis points.
// Tier1 pays the direct referrer, Tier2 pays the referrer's referrer.
type CommissionConfig struct {
	Tier1Bps int64 `mapstructure:"tier1_bps"`
	Tier2Bps int64 `mapstructure:"tier2_bps"`
}

func DefaultCommissionConfig() CommissionConfig {
	return CommissionConfig{
		Tier1Bps: 1000, // 10%
		Tier2Bps: 200,  // 2%
	}
}

type CommissionConfigHolder struct {
	current atomic.Value // holds CommissionConfig
}

func NewCommissionConfigHolder() (*CommissionConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("commission")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/attribution/config") // Volume-mounted config
	v.AddConfigPath("/etc/attribution")            // System config
	v.AddConfigPath(".")                           // Current directory (dev mode)

	v.SetEnvPrefix("ATTRIBUTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := readCommissionConfig(v)
	if err := validateCommissionConfig(cfg); err != nil {
		return nil, err
	}

	holder := &CommissionConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := readCommissionConfig(v)
		if err := validateCommissionConfig(updated); err != nil {
			log.Printf("[commission-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[commission-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// readCommissionConfig merges configured rates over the defaults. A file
// that omits a key keeps that key's default instead of zeroing the payout;
// an explicit 0 is honored as a deliberate disable.
func readCommissionConfig(v *viper.Viper) CommissionConfig {
	cfg := DefaultCommissionConfig()
	if v.IsSet("commission.tier1_bps") {
		cfg.Tier1Bps = v.GetInt64("commission.tier1_bps")
	}
	if v.IsSet("commission.tier2_bps") {
		cfg.Tier2Bps = v.GetInt64("commission.tier2_bps")
	}
	return cfg
}

// NewStaticCommissionHolder returns a holder pinned to the given rates.
// Used by tests and tools that must not touch the filesystem.
func NewStaticCommissionHolder(cfg CommissionConfig) *CommissionConfigHolder {
	holder := &CommissionConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

// ProvideCommissionHolder is the fx constructor for the commission holder.
func ProvideCommissionHolder() (*CommissionConfigHolder, error) {
	return NewCommissionConfigHolder()
}

func (h *CommissionConfigHolder) Get() CommissionConfig {
	return h.current.Load().(CommissionConfig)
}

func validateCommissionConfig(cfg CommissionConfig) error {
	if cfg.Tier1Bps < 0 || cfg.Tier1Bps > 10_000 {
		return errors.New("commission.tier1_bps out of range")
	}
	if cfg.Tier2Bps < 0 || cfg.Tier2Bps > 10_000 {
		return errors.New("commission.tier2_bps out of range")
	}
	return nil
}
