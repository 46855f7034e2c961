package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch loads the configuration and re-decodes it whenever the backing file
// changes. onChange receives only configurations that pass validation; an
// invalid edit is logged and the previous configuration stays in effect.
// Only settings that are safe to swap at runtime (log level and format) should
// be applied from onChange.
func Watch(configPath string, onChange func(*Config)) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	if v.ConfigFileUsed() == "" {
		return cfg, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(v)
		if err != nil {
			slog.Warn("config reload rejected", "file", e.Name, "error", err)
			return
		}
		slog.Info("config reloaded", "file", e.Name)
		onChange(next)
	})
	v.WatchConfig()

	return cfg, nil
}
