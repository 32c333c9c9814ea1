package sh

import (
	"encoding/json"
	"errors"

	"github.com/abiosoft/ishell"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1"
)

var errNoCounter = errors.New("no counter discovered")

// pendingCounter is implemented by connections tracking commands.
type pendingCounter interface {
	Pending() int
}

var (
	// DiscoverCmd lists reachable counter services.
	DiscoverCmd = ishell.Cmd{
		Name:    "discover",
		Aliases: []string{"list", "l"},
		Help:    "list counter services",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			_, found, err := s.DiscoverControllers(nil)
			if err != nil {
				c.Err(err)
				return
			}
			if s.OutputJSON {
				if found == nil {
					found = []l1.ControllerInfo{}
				}
				printJSON(c, found)
				return
			}
			if len(found) == 0 {
				c.Println("No counters found")
			}
			for _, info := range found {
				c.Println(FormatInfo(info))
			}
		},
	}

	// ConnectCmd connects to TYPE/ID, or to a discovered service.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[TYPE [ID]]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			ref, err := refFromArgs(s, c.Args)
			if err == nil {
				err = s.Connect(ref)
			}
			if err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd closes the connection.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "close the connection",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}

	// StatusCmd shows the connection.
	StatusCmd = ishell.Cmd{
		Name: "status",
		Help: "show the connected counter",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			st := struct {
				Counter string `json:"counter,omitempty"`
				Pending *int   `json:"pending,omitempty"`
			}{}
			if s.Loop != nil {
				st.Counter = s.Loop.Ref.Name()
				if p, ok := s.Loop.Conn.(pendingCounter); ok {
					n := p.Pending()
					st.Pending = &n
				}
			}
			switch {
			case s.OutputJSON:
				printJSON(c, st)
			case st.Counter == "":
				c.Println("not connected")
			case st.Pending != nil:
				c.Printf("%s, %d commands pending\n", st.Counter, *st.Pending)
			default:
				c.Println(st.Counter)
			}
		},
	}
)

func refFromArgs(s *Shell, args []string) (l1.ControllerRef, error) {
	if len(args) >= 2 {
		return l1.ControllerRef{Type: args[0], ID: args[1]}, nil
	}
	var filter func(l1.ControllerInfo) bool
	if len(args) == 1 {
		filter = func(info l1.ControllerInfo) bool { return info.Ref.Type == args[0] }
	}
	_, info, err := s.SelectController(filter)
	if err != nil {
		return l1.ControllerRef{}, err
	}
	if info == nil {
		return l1.ControllerRef{}, errNoCounter
	}
	return info.Ref, nil
}

func printJSON(c *ishell.Context, v interface{}) {
	out, err := json.Marshal(v)
	if err != nil {
		c.Err(err)
		return
	}
	c.Println(string(out))
}
