package framework

import (
	"context"
	"time"
)

// Message is anything posted into a Loop: L1 requests, device events,
// results of background work. NewMessage returns an empty value of the
// same type, used by decoders.
type Message interface {
	NewMessage() Message
}

// MessageHandler receives messages outside of the loop.
type MessageHandler interface {
	HandleMessage(context.Context, Message)
}

// HandleMessageFunc is the func form of MessageHandler.
type HandleMessageFunc func(context.Context, Message)

// HandleMessage implements MessageHandler.
func (f HandleMessageFunc) HandleMessage(ctx context.Context, msg Message) {
	f(ctx, msg)
}

// Controller runs once per loop iteration at its priority level.
type Controller interface {
	Control(ControlContext) error
}

// ControlFunc is the func form of Controller.
type ControlFunc func(ControlContext) error

// Control implements Controller.
func (f ControlFunc) Control(ctx ControlContext) error {
	return f(ctx)
}

// TimeSource provides the time of an iteration.
type TimeSource interface {
	Time() time.Time
}

// ControlContext is what a Controller sees during one iteration.
type ControlContext interface {
	TimeSource
	LoopControl

	Context() context.Context
	PriorityLevel() int
	// Messages holds what was posted before the iteration started,
	// minus what earlier controllers took.
	Messages() MessageStore
	// PostRun installs one-shot hooks after the controllers of the
	// current level. Hooks installed from a hook run next iteration.
	PostRun(hooks ...Controller)
}

// PriorityLevels is the number of priority levels, 0 runs first.
const PriorityLevels int = 16

// Priority levels.
const (
	PrLvTop    int = 0
	PrLvHigh   int = 4
	PrLvNormal int = 8
	PrLvLow    int = 12
	PrLvIdle   int = PriorityLevels - 1

	// PrLvSense is where device readings are collected.
	PrLvSense = PrLvHigh
	// PrLvControl is where requests are served.
	PrLvControl = PrLvNormal
	// PrLvAcuate is where device state is pushed out.
	PrLvAcuate = PrLvLow
	// PrLvPostProc runs after everything else but idle work.
	PrLvPostProc = PrLvIdle - 1
)

// LoopControl is the part of a Loop usable from any goroutine.
type LoopControl interface {
	// PreRunAt installs one-shot hooks before the controllers of a level.
	PreRunAt(priorityLevel int, controllers ...Controller)
	// PostRunAt installs one-shot hooks after the controllers of a level.
	PostRunAt(priorityLevel int, controllers ...Controller)
	// PostMessage queues msg for the next iteration.
	PostMessage(Message)
	// TriggerNext starts the next iteration without waiting for the
	// interval.
	TriggerNext()
}

// MessageStore is the message queue of an iteration.
type MessageStore interface {
	ProcessMessages(MessageProcessor)
	MessageAppender
}

// MessageAppender queues messages for the controllers still to run in
// the iteration.
type MessageAppender interface {
	AddMessages(msgs ...Message)
}

// MessageProcessor visits queued messages in order.
type MessageProcessor interface {
	ProcessMessage(MessageProcessingContext)
}

// ProcessMessageFunc is the func form of MessageProcessor.
type ProcessMessageFunc func(MessageProcessingContext)

// ProcessMessage implements MessageProcessor.
func (f ProcessMessageFunc) ProcessMessage(mc MessageProcessingContext) {
	f(mc)
}

// MessageProcessingContext is passed to a MessageProcessor per message.
type MessageProcessingContext interface {
	MessageAppender

	CurrentMessage() Message
	// MessageTaken removes the current message from the queue.
	MessageTaken()
	// StopProcessing ends the walk, remaining messages stay queued.
	StopProcessing()
}
