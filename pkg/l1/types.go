// Package l1 is the service level: a counter service registers itself
// under TYPE/ID and clients discover it, connect and send commands.
package l1

import (
	"context"
	"fmt"
	"strings"

	fx "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/framework"
)

// ControllerRef names a service as TYPE/ID.
type ControllerRef struct {
	// Type is the service kind, pulse-counter for counters.
	Type string
	// ID tells services of one Type apart, the host machine ID by default.
	ID string
}

// Name is TYPE/ID.
func (r ControllerRef) Name() string { return r.Type + "/" + r.ID }

// IsValid requires both parts.
func (r ControllerRef) IsValid() bool { return r.Type != "" && r.ID != "" }

// ParseControllerRef is the reverse of Name.
func ParseControllerRef(name string) (ControllerRef, error) {
	var ref ControllerRef
	ref.Type, ref.ID, _ = strings.Cut(name, "/")
	if !ref.IsValid() {
		return ref, fmt.Errorf("invalid counter %q, expect TYPE/ID", name)
	}
	return ref, nil
}

// ControllerMeta is announced along with the ref.
type ControllerMeta struct {
	Description string            `json:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// ControllerInfo is what discovery returns.
type ControllerInfo struct {
	Ref  ControllerRef
	Meta ControllerMeta
}

// Registrar is the service side. Commands from clients are posted to the
// loop as CommandMsg, the controller answers with Command.Done.
type Registrar interface {
	// SendEvent broadcasts msg to every connected client.
	SendEvent(context.Context, fx.Message) error
}

// Command is a request from one client.
type Command interface {
	Msg() fx.Message
	// Done sends the reply, a nil reply is sent as CommandOK.
	Done(reply fx.Message) error
}

// CommandMsg carries a Command through the loop.
type CommandMsg struct {
	Command Command
}

// NewMessage implements fx.Message.
func (m *CommandMsg) NewMessage() fx.Message { return &CommandMsg{} }

// Connector is the client side.
type Connector interface {
	Discover(context.Context) ([]ControllerInfo, error)
	Connect(context.Context, ControllerRef) (ControllerConn, error)
}

// ControllerConn sends commands to one service.
type ControllerConn interface {
	DoCommand(fx.Message) CommandFuture
}

// Result is the reply to a command, Err is set for error replies.
type Result struct {
	Msg fx.Message
	Err error
}

// CommandFuture delivers exactly one Result.
type CommandFuture interface {
	ResultChan() <-chan Result
}

// Await waits for f or ctx.
func Await(ctx context.Context, f CommandFuture) (fx.Message, error) {
	select {
	case res := <-f.ResultChan():
		return res.Msg, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
