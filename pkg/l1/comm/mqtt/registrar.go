package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"

	fx "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/framework"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/comm"
)

// Registrar implements l1.Registrar using MQTT.
// The service announces itself with a retained TYPE/ID/meta topic which
// is cleared by the will when the connection drops.
type Registrar struct {
	Queue *Queue
	Info  l1.ControllerInfo

	metaJSON  []byte
	registrar comm.Registrar
	closeOnce sync.Once
}

// NewRegistrar creates a Registrar.
func NewRegistrar(brokerURL string, info l1.ControllerInfo) (*Registrar, error) {
	meta, err := json.Marshal(&info.Meta)
	if err != nil {
		return nil, err
	}
	opts, err := ParseURL(brokerURL)
	if err != nil {
		return nil, err
	}
	opts.Client.SetBinaryWill(opts.TopicPrefix+MetaTopic(info.Ref), nil, 1, true)
	if opts.Client.ClientID == "" {
		opts.Client.SetClientID("pulse-counter:" + info.Ref.Name())
	}
	r := &Registrar{
		Queue:    NewQueue(opts),
		Info:     info,
		metaJSON: meta,
	}
	r.Queue.OnConnect = func(*Queue) { r.onConnected() }
	r.registrar.Init(NewPacketReadWriter(r.Queue).ForController(info.Ref))
	return r, nil
}

// MetaTopic is the retained topic announcing the service.
func MetaTopic(ref l1.ControllerRef) string {
	return refTopic(ref, MetaSuffix)
}

// SendEvent implements Registrar.
func (r *Registrar) SendEvent(ctx context.Context, msg fx.Message) error {
	return r.registrar.SendEvent(ctx, msg)
}

// AddToLoop implements LoopAdder.
func (r *Registrar) AddToLoop(loop *fx.Loop) {
	loop.Add(&r.registrar)
	loop.AddRunnable(r)
}

// Run implements Runnable. The service stays announced while ctx is
// alive, then the retained meta is cleared.
func (r *Registrar) Run(ctx context.Context) error {
	r.Queue.Connect()
	<-ctx.Done()
	return r.Close()
}

// Close clears the announcement and disconnects, once.
func (r *Registrar) Close() error {
	r.closeOnce.Do(func() {
		glog.Infof("mqtt: unregister %s", r.Info.Ref.Name())
		r.Queue.PubWith(MetaTopic(r.Info.Ref), nil, 1, true).WaitTimeout(time.Second)
		r.Queue.Close()
	})
	return nil
}

// onConnected announces again, a broker restart loses retained topics
// of clean sessions.
func (r *Registrar) onConnected() {
	glog.Infof("mqtt: register %s", r.Info.Ref.Name())
	r.Queue.PubWith(MetaTopic(r.Info.Ref), r.metaJSON, 1, true)
}
