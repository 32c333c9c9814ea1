package main

import (
	"flag"
	"os"
	"os/signal"
	"reflect"
	"syscall"

	"github.com/golang/glog"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/comm/mqtt"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/msgs"
)

var (
	mqttURL = "mqtt://localhost:1883/"
)

func init() {
	if val := os.Getenv("PULSE_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
}

func main() {
	flag.Set("logtostderr", "true")
	flag.Parse()
	defer glog.Flush()

	q, err := mqtt.NewQueueFromURL(mqttURL)
	if err != nil {
		glog.Exit(err)
	}
	if token := q.Connect(); token.Wait() && token.Error() != nil {
		glog.Exit(token.Error())
	}
	defer q.Close()

	q.Sub("#", mqtt.Handler(func(topic string, payload []byte) {
		if info, ok := mqtt.ParseMeta(topic, payload); ok {
			glog.Infof("%s: online %q %v", info.Ref.Name(), info.Meta.Description, info.Meta.Labels)
			return
		}
		if len(payload) == 0 {
			glog.Infof("%s: gone", topic)
			return
		}
		typed, err := msgs.DecodeTyped(payload)
		if err != nil {
			glog.Warningf("%s: bad message: %v", topic, err)
			return
		}
		msg, err := typed.Decode()
		if err != nil {
			glog.Warningf("%s: decode error: (type_id=%x) %v", topic, typed.TypeId, err)
			return
		}
		glog.Infof("%s: #%d [%s] %s", topic, typed.Sequence,
			reflect.Indirect(reflect.ValueOf(msg)).Type().Name(),
			msg.(msgs.SerializableMessage).Serializable().String())
	}))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}
