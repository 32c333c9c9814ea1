// Package counter adds pulse counter commands to the shell.
package counter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/cli/sh"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l0/node"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/msgs"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/record"
)

// ParseCount parses DURATION_MS [PIN [CHANNEL [DIRECTION [TIMEOUT_MS]]]].
// Without PIN the device defaults are used, without TIMEOUT_MS the
// service timeout. TIMEOUT_MS 0 polls until the device finishes.
func ParseCount(args []string) (*msgs.CountPulses, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("DURATION_MS required")
	}
	msg := &msgs.CountPulses{UseDefaults: len(args) < 2, UseDefaultTimeout: len(args) < 5}
	val, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid DURATION_MS: %w", err)
	}
	msg.DurationMs = uint32(val)
	if len(args) > 1 {
		pin, err := strconv.ParseInt(args[1], 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid PIN: %w", err)
		}
		msg.Pin = int32(pin)
	}
	if len(args) > 2 {
		val, err = strconv.ParseUint(args[2], 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid CHANNEL: %w", err)
		}
		msg.Channel = uint32(val)
	}
	if len(args) > 3 {
		if msg.Direction, err = record.ParseDirection(args[3]); err != nil {
			return nil, err
		}
	}
	if len(args) > 4 {
		val, err = strconv.ParseUint(args[4], 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid TIMEOUT_MS: %w", err)
		}
		msg.TimeoutMs = uint32(val)
	}
	return msg, nil
}

// ParseOverrides parses FIELD=VALUE pairs, a bare "volatile" (or -n)
// asks not to save the config.
func ParseOverrides(args []string) (overrides map[string]string, volatile bool, err error) {
	overrides = make(map[string]string)
	for _, arg := range args {
		if arg == "volatile" || arg == "-n" {
			volatile = true
			continue
		}
		kv := strings.SplitN(arg, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return nil, false, fmt.Errorf("invalid override %q, expect FIELD=VALUE", arg)
		}
		overrides[kv[0]] = kv[1]
	}
	if len(overrides) == 0 {
		return nil, false, fmt.Errorf("FIELD=VALUE required")
	}
	return
}

var (
	// CountCmd exposes CountPulses command.
	CountCmd = ishell.Cmd{
		Name:    "count",
		Aliases: []string{"cnt"},
		Help:    "DURATION_MS [PIN [CHANNEL [rising|falling|change [TIMEOUT_MS]]]]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			msg, err := ParseCount(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			sh.DoCommand(c, msg)
		}),
	}

	// StopCmd exposes StopCount command.
	StopCmd = ishell.Cmd{
		Name: "stop",
		Help: "abort the running count",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.DoCommand(c, &msgs.StopCount{})
		}),
	}

	// ConfigCmd exposes ConfigQuery command.
	ConfigCmd = ishell.Cmd{
		Name: "config",
		Help: "show the device config",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.DoCommand(c, &msgs.ConfigQuery{})
		}),
	}

	// ConfigSetCmd exposes UpdateConfig command.
	ConfigSetCmd = ishell.Cmd{
		Name: "config.set",
		Help: "FIELD=VALUE... [volatile], saved unless volatile",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			overrides, volatile, err := ParseOverrides(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			sh.DoCommand(c, &msgs.UpdateConfig{Overrides: overrides, Volatile: volatile})
		}),
	}

	// StateCmd exposes StateQuery command.
	StateCmd = ishell.Cmd{
		Name: "state",
		Help: "show the device state",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.DoCommand(c, &msgs.StateQuery{})
		}),
	}

	// StateSetCmd exposes UpdateState command.
	StateSetCmd = ishell.Cmd{
		Name: "state.set",
		Help: "FIELD=VALUE...",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			overrides, volatile, err := ParseOverrides(c.Args)
			if err == nil && volatile {
				err = fmt.Errorf("state is never saved, drop volatile")
			}
			if err != nil {
				c.Err(err)
				return
			}
			sh.DoCommand(c, &msgs.UpdateState{Overrides: overrides})
		}),
	}

	// PortsCmd lists local serial ports.
	PortsCmd = ishell.Cmd{
		Name: "ports",
		Help: "list serial ports of this host",
		Func: func(c *ishell.Context) {
			ports, err := node.ListPorts()
			if err != nil {
				c.Err(err)
				return
			}
			if sh.ShellFrom(c).OutputJSON {
				if ports == nil {
					ports = []node.PortInfo{}
				}
				out, err := json.Marshal(ports)
				if err != nil {
					c.Err(err)
					return
				}
				c.Println(string(out))
				return
			}
			if len(ports) == 0 {
				c.Println("No serial ports found")
				return
			}
			for _, p := range ports {
				if p.USB {
					c.Printf("%s USB %s:%s %s %s\n", p.Name, p.VID, p.PID, p.SerialNumber, p.Product)
				} else {
					c.Println(p.Name)
				}
			}
		},
	}
)

func init() {
	sh.AddCmds(
		&CountCmd,
		&StopCmd,
		&ConfigCmd,
		&ConfigSetCmd,
		&StateCmd,
		&StateSetCmd,
		&PortsCmd,
	)
}
