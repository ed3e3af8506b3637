package config

import (
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BackendSetting carries per-service routing overrides used when a question
// is dispatched. Keys in services.yml are either "namespace" or
// "namespace/name"; the more specific entry wins.
type BackendSetting struct {
	Project   string   `mapstructure:"project"`
	AskerName string   `mapstructure:"askerName"`
	Brokers   []string `mapstructure:"brokers"`
}

// ServicesConfig is the content of the optional services.yml file.
type ServicesConfig struct {
	Backends map[string]BackendSetting `mapstructure:"backends"`
}

// ServicesConfigHolder keeps the current services config and hot-reloads it
// when the file changes on disk.
type ServicesConfigHolder struct {
	current  atomic.Value // holds ServicesConfig
	defaults Config
	log      *zap.Logger
}

func NewServicesConfigHolder(cfg Config, log *zap.Logger) (*ServicesConfigHolder, error) {
	h := &ServicesConfigHolder{defaults: cfg, log: log.Named("config.services")}

	v := viper.New()
	v.SetConfigName("services")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/twined")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TWINED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		h.current.Store(ServicesConfig{})
		return h, nil
	}

	var sc ServicesConfig
	if err := v.Unmarshal(&sc); err != nil {
		return nil, err
	}
	h.current.Store(sc)

	v.OnConfigChange(func(fsnotify.Event) {
		var next ServicesConfig
		if err := v.Unmarshal(&next); err != nil {
			h.log.Warn("ignoring invalid services config update", zap.Error(err))
			return
		}
		h.current.Store(next)
		h.log.Info("reloaded services config", zap.Int("backends", len(next.Backends)))
	})
	v.WatchConfig()

	return h, nil
}

// Backend resolves the routing settings for a service, falling back from
// "namespace/name" to "namespace" to the process defaults.
func (h *ServicesConfigHolder) Backend(namespace, name string) BackendSetting {
	setting := BackendSetting{
		Project:   h.defaults.DefaultProject,
		AskerName: h.defaults.AskerName,
		Brokers:   h.defaults.KafkaBrokers,
	}
	sc, _ := h.current.Load().(ServicesConfig)
	if sc.Backends == nil {
		return setting
	}
	for _, key := range []string{namespace, namespace + "/" + name} {
		override, ok := sc.Backends[key]
		if !ok {
			continue
		}
		if override.Project != "" {
			setting.Project = override.Project
		}
		if override.AskerName != "" {
			setting.AskerName = override.AskerName
		}
		if len(override.Brokers) > 0 {
			setting.Brokers = override.Brokers
		}
	}
	return setting
}
