// Package controller sets up the env of a counter service: its identity
// and the registrars through which clients reach it.
package controller

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/golang/glog"

	fx "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/framework"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/comm"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/comm/mqtt"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/comm/stream"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/comm/websocket"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/env"
)

// Config provides common options to setup an env for counter services.
type Config struct {
	Info l1.ControllerInfo

	// MQTTBrokerURL specifies the MQTT broker to use, empty disables MQTT.
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string
	// ListenAddr accepts direct TCP clients, empty disables it.
	ListenAddr string
	// WebsocketAddr accepts websocket clients, empty disables it.
	WebsocketAddr string
}

var defaultConfig = Config{
	MQTTBrokerURL: "",
	ListenAddr:    ":5310",
}

func init() {
	if val := os.Getenv("PULSE_MQTT_URL"); val != "" {
		defaultConfig.MQTTBrokerURL = val
	}
	if val := os.Getenv("PULSE_LISTEN"); val != "" {
		defaultConfig.ListenAddr = val
	}
	defaultConfig.Info.Ref.ID = env.MachineID()
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Info.Ref.Type, "type", defaultConfig.Info.Ref.Type, "Controller type")
	flag.StringVar(&defaultConfig.Info.Ref.ID, "id", defaultConfig.Info.Ref.ID, "Controller ID")
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL")
	flag.StringVar(&defaultConfig.ListenAddr, "listen", defaultConfig.ListenAddr, "TCP address accepting clients")
	flag.StringVar(&defaultConfig.WebsocketAddr, "ws-listen", defaultConfig.WebsocketAddr, "Websocket address accepting clients")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// SetControllerType should be called in init with basic info about the controller.
func SetControllerType(typ string, meta l1.ControllerMeta) {
	defaultConfig.Info.Ref.Type = typ
	defaultConfig.Info.Meta = meta
}

// Env is the env for counter services.
type Env struct {
	Config       *Config
	RegistryURLs []string
	Registrar    *comm.RegistrarMux
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// NewEnv opens the enabled registrars. Those already open are closed
// when a later one fails.
func (c *Config) NewEnv() (*Env, error) {
	if !c.Info.Ref.IsValid() {
		return nil, errors.New("counter type and id are required")
	}
	env := &Env{Config: c, Registrar: &comm.RegistrarMux{}}
	for _, open := range []func() (l1.Registrar, string, error){
		c.openMQTT, c.openTCP, c.openWebsocket,
	} {
		reg, url, err := open()
		if err != nil {
			env.Close()
			return nil, err
		}
		if reg != nil {
			env.Registrar.Add(reg)
			env.RegistryURLs = append(env.RegistryURLs, url)
		}
	}
	if len(env.Registrar.Registrars) == 0 {
		return nil, errors.New("no registrar enabled, set -mqtt, -listen or -ws-listen")
	}
	return env, nil
}

func (c *Config) openMQTT() (l1.Registrar, string, error) {
	if c.MQTTBrokerURL == "" {
		return nil, "", nil
	}
	reg, err := mqtt.NewRegistrar(c.MQTTBrokerURL, c.Info)
	if err != nil {
		return nil, "", fmt.Errorf("mqtt registrar: %w", err)
	}
	return reg, c.MQTTBrokerURL, nil
}

func (c *Config) openTCP() (l1.Registrar, string, error) {
	if c.ListenAddr == "" {
		return nil, "", nil
	}
	reg, err := stream.Listen(c.ListenAddr)
	if err != nil {
		return nil, "", fmt.Errorf("tcp registrar: %w", err)
	}
	return reg, "tcp://" + reg.Addr().String(), nil
}

func (c *Config) openWebsocket() (l1.Registrar, string, error) {
	if c.WebsocketAddr == "" {
		return nil, "", nil
	}
	reg, err := websocket.Listen(c.WebsocketAddr)
	if err != nil {
		return nil, "", fmt.Errorf("websocket registrar: %w", err)
	}
	return reg, "ws://" + reg.Listener.Addr().String() + reg.Path, nil
}

// Close releases registrars of an Env that is not going to run.
func (e *Env) Close() error {
	var errs fx.AggregatedError
	for _, reg := range e.Registrar.Registrars {
		if closer, ok := reg.(io.Closer); ok {
			errs.Add(closer.Close())
		}
	}
	return errs.Aggregate()
}

// MustNewEnv creates Env and fails on error.
func (c *Config) MustNewEnv() *Env {
	env, err := c.NewEnv()
	if err != nil {
		glog.Exit(err)
	}
	for _, u := range env.RegistryURLs {
		glog.Infof("registered %s at %s", c.Info.Ref.Name(), u)
	}
	return env
}

// AddToLoop adds controllers/runners to loop.
func (e *Env) AddToLoop(loop *fx.Loop) {
	loop.Add(e.Registrar)
	loop.Add(&comm.UnsupportedCommands{})
}
