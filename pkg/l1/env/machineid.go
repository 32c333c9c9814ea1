// Package env provides host facts shared by service and client envs.
package env

import (
	"os"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

// AppID salts the machine ID so it isn't exposed as is.
const AppID = "pulse-counter"

// MachineID retrieves the unique ID identifying the machine, falling
// back to the host name.
func MachineID() string {
	id, err := machineid.ProtectedID(AppID)
	if err == nil {
		return id[:16]
	}
	glog.Warningf("machine id: %v", err)
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "unknown"
}
