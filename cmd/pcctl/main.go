package main

import (
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/cli/sh"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/config"
	env "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/env/connector"

	_ "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/cli/cmds/counter"
)

//go-build: CGO_ENABLED=0

func init() {
	env.SetupFlags()
	config.SetupFlags()
}

func main() {
	sh.Main()
}
