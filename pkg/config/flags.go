package config

import (
	"flag"
	"os"
	"strings"

	"github.com/golang/glog"
)

var configPath = os.Getenv("PULSE_CONFIG")

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&configPath, "config", configPath, "YAML config file seeding flag defaults")
}

// PathFromArgs finds the value of -config in args before flags are
// parsed, falling back to PULSE_CONFIG.
func PathFromArgs(args []string) string {
	path := configPath
	for n := 0; n < len(args); n++ {
		arg := args[n]
		if arg == "--" {
			break
		}
		name := strings.TrimLeft(arg, "-")
		if len(arg)-len(name) == 0 || len(arg)-len(name) > 2 {
			continue
		}
		switch {
		case name == "config" && n+1 < len(args):
			path = args[n+1]
			n++
		case strings.HasPrefix(name, "config="):
			path = strings.TrimPrefix(name, "config=")
		}
	}
	return path
}

// Preload loads the config file named in args and seeds the defaults.
// It must be called after all SetupFlags and before flag.Parse so the
// command line overrides the file.
func Preload(args []string) (*Config, error) {
	path := PathFromArgs(args)
	if path == "" {
		return &Config{}, nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	glog.V(1).Infof("config: loaded %s", path)
	return cfg, nil
}

// MustPreload is Preload failing on error.
func MustPreload(args []string) *Config {
	cfg, err := Preload(args)
	if err != nil {
		glog.Exitf("config: %v", err)
	}
	return cfg
}
