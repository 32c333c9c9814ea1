package main

//go-build: CGO_ENABLED=0

import (
	"flag"
	"os"

	"github.com/golang/glog"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/config"
	fx "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/framework"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/sim"
)

var (
	listenAddr = ":5300"
	wsAddr     string
)

func init() {
	if val := os.Getenv("PULSE_SIM_LISTEN"); val != "" {
		listenAddr = val
	}
	flag.StringVar(&listenAddr, "listen", listenAddr, "TCP address serving the simulated device")
	flag.StringVar(&wsAddr, "ws-listen", wsAddr, "Websocket address serving the simulated device at "+sim.DefaultWebsocketPath)
	sim.SetupFlags()
	config.SetupFlags()
}

func main() {
	config.MustPreload(os.Args[1:])
	flag.Parse()
	defer glog.Flush()

	srv, err := sim.Listen(sim.NewConfig().NewDevice(), listenAddr, wsAddr)
	if err != nil {
		glog.Exit(err)
	}
	loop := fx.NewLoop().Add(srv)
	if err := fx.NewRunner().HandleSignals().Go(loop).Wait(); err != nil {
		glog.Error(err)
	}
}
