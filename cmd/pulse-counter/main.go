package main

//go-build: CGO_ENABLED=0

import (
	"flag"
	"os"

	"github.com/golang/glog"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/config"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/counter"
	fx "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/framework"
	l0env "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l0/env"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1"
	env "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/env/controller"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/sim"
)

func init() {
	env.SetControllerType("pulse-counter", l1.ControllerMeta{Description: "Pulse counter"})
	env.SetupFlags()
	l0env.SetupFlags()
	counter.SetupFlags()
	sim.SetupFlags()
	config.SetupFlags()
}

func main() {
	config.MustPreload(os.Args[1:])
	flag.Parse()
	defer glog.Flush()

	env := env.NewConfig().MustNewEnv()
	devConf := l0env.NewConfig()
	devConf.OnCountFinished = func(count uint32) {
		glog.V(1).Infof("device: count finished: %d", count)
	}
	dev := devConf.MustOpen()
	defer dev.Close()

	ctl := counter.NewConfig().NewController(dev, env.Registrar)
	loop := fx.NewLoop().Add(env, ctl)
	err := fx.NewRunner().HandleSignals().Go(loop).Wait()
	ctl.Wait()
	if err != nil {
		glog.Error(err)
	}
}
