package config

import "strings"

// Normalize applies post-validation normalization.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	// bare paths are serial ports
	if strings.HasPrefix(cfg.Device.URL, "/") {
		cfg.Device.URL = "serial://" + cfg.Device.URL
	}
	cfg.Service.Type = strings.TrimSpace(cfg.Service.Type)
	cfg.Service.ID = strings.TrimSpace(cfg.Service.ID)
	cfg.Client.Counter = strings.TrimSpace(cfg.Client.Counter)
	for k, v := range cfg.Service.Labels {
		if v == "" {
			delete(cfg.Service.Labels, k)
		}
	}
}
