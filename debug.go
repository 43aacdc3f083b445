package coap

import (
	"fmt"

	"github.com/astaxie/beego/logs"
)

var debugEnable bool
var healthMonitorEnable bool

// GLog is the package-level logger. Swap it with SetLogger to route
// trace output anywhere logs.BeeLogger supports (console, file, conn).
var GLog *logs.BeeLogger

func init() {
	debugEnable = false
	healthMonitorEnable = false
	GLog = logs.NewLogger(10000)
	GLog.SetLogger("console", `{"level":7}`)
	GLog.EnableFuncCallDepth(true)
	GLog.SetLogFuncCallDepth(3)
}

// Debug enables or disables TraceInfo output. TraceError output is not
// affected. Datagram receipt and transaction transitions are not traced.
func Debug(enable bool) {
	debugEnable = enable
}

// HealthMonitor enables the 4-byte "RUOK"/"IMOK" liveness short-circuit
// some CoAP gateways are probed with, suppressing trace output for it.
func HealthMonitor(enable bool) {
	healthMonitorEnable = enable
}

// SetLogger replaces the package-level logger.
func SetLogger(l *logs.BeeLogger) {
	if l != nil {
		GLog = l
	}
}

// TraceInfo logs at info level when Debug(true) is in effect.
func TraceInfo(format string, args ...interface{}) {
	if debugEnable {
		GLog.Info(fmt.Sprintf(format, args...))
	}
}

// TraceError always logs at error level, independent of Debug().
func TraceError(format string, args ...interface{}) {
	GLog.Error(fmt.Sprintf(format, args...))
}

// isHealthProbe reports whether data is the 4-byte "RUOK" liveness probe.
func isHealthProbe(data []byte) bool {
	return len(data) == 4 && data[0] == 'R' && data[1] == 'U' && data[2] == 'O' && data[3] == 'K'
}
