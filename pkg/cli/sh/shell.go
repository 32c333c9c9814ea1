package sh

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"reflect"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/config"
	fx "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/framework"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1"
	env "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/env/connector"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/msgs"
)

// Shell is the pcctl command shell. Commands run against one counter
// service connection at a time.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoConnect bool
	// Timeout bounds the wait for a reply, counts block for their duration.
	Timeout time.Duration

	Shell  *ishell.Shell
	Config *env.Config
	Loop   *ConnLoop
}

// ConnLoop is the connection to a service and the loop receiving its
// replies and events.
type ConnLoop struct {
	Ctx    context.Context
	Cancel func()
	Ref    l1.ControllerRef
	Loop   *fx.Loop
	Conn   l1.ControllerConn
}

// Close stops the loop and closes the connection.
func (l *ConnLoop) Close() error {
	l.Cancel()
	if closer, ok := l.Conn.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

// DefaultTimeout is the default wait for a reply.
const DefaultTimeout = time.Minute

var (
	evalOnly   bool
	outputJSON bool
	timeout    = DefaultTimeout

	commands = []*ishell.Cmd{
		&DiscoverCmd,
		&ConnectCmd,
		&DisconnectCmd,
		&StatusCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
	flag.DurationVar(&timeout, "timeout", timeout, "Wait for a command reply.")
}

// AddCmds registers commands, called from init of command packages.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *env.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,
		Timeout:     timeout,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected fails fn with "not connected" when there is no
// connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Loop == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

// FormatInfo renders a discovered service as TYPE/ID[: DESCRIPTION].
func FormatInfo(info l1.ControllerInfo) string {
	if desc := info.Meta.Description; desc != "" {
		return info.Ref.Name() + ": " + desc
	}
	return info.Ref.Name()
}

// FormatMsg prints a message as NAME {fields} or JSON.
func FormatMsg(msg fx.Message, asJSON bool) (string, error) {
	serializable, ok := msg.(msgs.SerializableMessage)
	if !ok {
		return fmt.Sprintf("%T", msg), nil
	}
	if asJSON {
		out, err := json.Marshal(serializable.Serializable())
		return string(out), err
	}
	if _, ok := msg.(*msgs.CommandOK); ok {
		return "OK", nil
	}
	return fmt.Sprintf("%s %s",
		reflect.Indirect(reflect.ValueOf(msg)).Type().Name(),
		serializable.Serializable().String()), nil
}

type expiringConn interface {
	DoCommandWithin(fx.Message, time.Duration) l1.CommandFuture
}

// Do runs a command and waits for the result.
func (s *Shell) Do(msg fx.Message) (fx.Message, error) {
	if s.Loop == nil {
		return nil, fmt.Errorf("not connected")
	}
	var f l1.CommandFuture
	if conn, ok := s.Loop.Conn.(expiringConn); ok {
		f = conn.DoCommandWithin(msg, s.Timeout)
	} else {
		f = s.Loop.Conn.DoCommand(msg)
	}
	ctx, cancel := context.WithTimeout(s.Loop.Ctx, s.Timeout+time.Second)
	defer cancel()
	res, err := l1.Await(ctx, f)
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("command timeout: %w", err)
	}
	return res, err
}

// DoCommand runs a command, waits for result and prints it.
func DoCommand(c *ishell.Context, msg fx.Message) error {
	s := ShellFrom(c)
	res, err := s.Do(msg)
	if err == nil {
		var out string
		if out, err = FormatMsg(res, s.OutputJSON); err == nil {
			c.Println(out)
		}
	}
	if err != nil {
		c.Err(err)
	}
	return err
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

// DiscoverControllers lists the services reachable with the configured
// connector, keeping those accepted by filter when it is not nil.
func (s *Shell) DiscoverControllers(filter func(l1.ControllerInfo) bool) (l1.Connector, []l1.ControllerInfo, error) {
	connector, err := s.Config.NewConnector()
	if err != nil {
		return nil, nil, err
	}
	found, err := connector.Discover(context.Background())
	if err != nil || filter == nil {
		return connector, found, err
	}
	kept := found[:0]
	for _, info := range found {
		if filter(info) {
			kept = append(kept, info)
		}
	}
	return connector, kept, nil
}

// SelectController discovers services and picks one, asking when more
// than one is found. A nil info means nothing was found.
func (s *Shell) SelectController(filter func(l1.ControllerInfo) bool) (l1.Connector, *l1.ControllerInfo, error) {
	connector, found, err := s.DiscoverControllers(filter)
	switch {
	case err != nil:
		return nil, nil, err
	case len(found) == 0:
		return connector, nil, nil
	case len(found) == 1:
		return connector, &found[0], nil
	case !s.Interactive:
		return nil, nil, fmt.Errorf("%d counters discovered, pick one with -counter-id", len(found))
	}
	choices := make([]string, len(found))
	for n, info := range found {
		choices[n] = FormatInfo(info)
	}
	return connector, &found[s.Shell.MultiChoice(choices, "Which counter?")], nil
}

// Connect replaces the current connection by one to ref.
func (s *Shell) Connect(ref l1.ControllerRef) error {
	connector, err := s.Config.NewConnector()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	conn, err := connector.Connect(ctx, ref)
	if err != nil {
		cancel()
		return err
	}
	cl := &ConnLoop{Ctx: ctx, Cancel: cancel, Ref: ref, Conn: conn, Loop: fx.NewLoop()}
	if adder, ok := conn.(fx.LoopAdder); ok {
		cl.Loop.Add(adder)
	}
	cl.Loop.AddController(fx.PrLvIdle, fx.ControlFunc(s.printEvents))
	s.Disconnect()
	s.Loop = cl
	go func() {
		if err := cl.Loop.Run(ctx); err != nil && err != context.Canceled {
			glog.Errorf("%s: %v", ref.Name(), err)
		}
	}()
	s.Shell.SetPrompt(ref.Name() + " > ")
	glog.V(1).Infof("connected to %s", ref.Name())
	return nil
}

// printEvents prints what the service publishes, e.g. CountFinished.
func (s *Shell) printEvents(cc fx.ControlContext) error {
	cc.Messages().ProcessMessages(fx.ProcessMessageFunc(func(mctx fx.MessageProcessingContext) {
		msg := mctx.CurrentMessage()
		if _, ok := msg.(*l1.CommandMsg); ok {
			return
		}
		mctx.MessageTaken()
		if !s.Interactive {
			return
		}
		out, err := FormatMsg(msg, s.OutputJSON)
		if err != nil {
			glog.Warningf("event %T: %v", msg, err)
			return
		}
		s.Shell.Printf("event: %s\n", out)
	}))
	return nil
}

// Disconnect closes the current connection if any.
func (s *Shell) Disconnect() {
	if s.Loop == nil {
		return
	}
	if err := s.Loop.Close(); err != nil {
		glog.V(1).Infof("disconnect %s: %v", s.Loop.Ref.Name(), err)
	}
	s.Loop = nil
	s.Shell.SetPrompt(unconnectedPrompt)
}

// autoConnectRef is the -counter ref, or the only service a direct
// connector finds. Brokers are not searched.
func (s *Shell) autoConnectRef() (l1.ControllerRef, bool) {
	if s.Config.Ref.IsValid() {
		return s.Config.Ref, true
	}
	if !s.Config.IsDirect() {
		return l1.ControllerRef{}, false
	}
	_, info, err := s.SelectController(nil)
	if err != nil || info == nil {
		return l1.ControllerRef{}, false
	}
	return info.Ref, true
}

func (s *Shell) autoConnect() {
	ref, ok := s.autoConnectRef()
	if !ok {
		return
	}
	if s.Interactive {
		s.Shell.Printf("Connecting %s ...\n", ref.Name())
	}
	if err := s.Connect(ref); err != nil {
		glog.Exitf("connect %s: %v", ref.Name(), err)
	}
}

// Run executes args as one command, or starts the interactive shell.
func (s *Shell) Run(args ...string) {
	if s.AutoConnect {
		s.autoConnect()
	}
	defer s.Disconnect()

	switch {
	case len(args) > 0:
		if err := s.Shell.Process(args...); err != nil {
			glog.Exit(err)
		}
	case s.Interactive:
		s.Shell.Run()
	default:
		glog.Exit("command expected")
	}
}

// Main is a helper to provide a single call in main.
// Flags of env and config are expected to be set up in init.
func Main() {
	config.MustPreload(os.Args[1:])
	flag.Parse()
	New(env.NewConfig()).WithAutoConnect(true).Run(flag.Args()...)
}
