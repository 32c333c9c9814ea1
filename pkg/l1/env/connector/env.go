// Package connector configures how clients reach counter services.
package connector

import (
	"flag"
	"fmt"
	"net/url"
	"os"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/comm/mqtt"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/comm/stream"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/comm/websocket"
)

// DefaultRegistryURL is the TCP listener of a local service.
const DefaultRegistryURL = "tcp://localhost:5310"

// Config selects the registry and optionally the service.
type Config struct {
	Ref l1.ControllerRef

	// RegistryURL is one of
	//
	//	mqtt://host:port/topic-prefix  broker, many services
	//	tcp://host:port                one service
	//	ws://host:port/l1              one service
	RegistryURL string
}

// registry describes a RegistryURL scheme.
type registry struct {
	direct bool
	open   func(u *url.URL) (l1.Connector, error)
}

var registries = map[string]registry{
	"tcp": {direct: true, open: func(u *url.URL) (l1.Connector, error) {
		return stream.NewConnector(u.Host), nil
	}},
	"ws": {direct: true, open: func(u *url.URL) (l1.Connector, error) {
		return websocket.NewConnector(u.String()), nil
	}},
	"mqtt": {open: func(u *url.URL) (l1.Connector, error) {
		return mqtt.NewConnector(u.String())
	}},
}

func init() {
	registries["wss"] = registries["ws"]
	registries["mqtts"] = registries["mqtt"]
}

var defaultConfig = Config{RegistryURL: DefaultRegistryURL}

func init() {
	for name, val := range map[string]*string{
		"PULSE_TYPE":         &defaultConfig.Ref.Type,
		"PULSE_ID":           &defaultConfig.Ref.ID,
		"PULSE_REGISTRY_URL": &defaultConfig.RegistryURL,
	} {
		if s := os.Getenv(name); s != "" {
			*val = s
		}
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Ref.Type, "counter-type", defaultConfig.Ref.Type, "Counter service type to connect.")
	flag.StringVar(&defaultConfig.Ref.ID, "counter-id", defaultConfig.Ref.ID, "Counter service ID to connect.")
	flag.StringVar(&defaultConfig.RegistryURL, "registry", defaultConfig.RegistryURL, "Registry URL (mqtt, tcp or ws).")
}

// Default is the config the flags write to.
func Default() *Config {
	return &defaultConfig
}

// NewConfig copies the default config.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

func (c *Config) registry() (registry, *url.URL, error) {
	u, err := url.Parse(c.RegistryURL)
	if err != nil {
		return registry{}, nil, fmt.Errorf("invalid registry URL: %w", err)
	}
	r, ok := registries[u.Scheme]
	if !ok {
		return registry{}, nil, fmt.Errorf("unknown registry URL scheme: %q", u.Scheme)
	}
	return r, u, nil
}

// IsDirect tells the registry URL points at a single service, which
// needs no TYPE/ID to connect.
func (c *Config) IsDirect() bool {
	r, _, err := c.registry()
	return err == nil && r.direct
}

// NewConnector opens the connector of the registry URL scheme.
func (c *Config) NewConnector() (l1.Connector, error) {
	r, u, err := c.registry()
	if err != nil {
		return nil, err
	}
	return r.open(u)
}
