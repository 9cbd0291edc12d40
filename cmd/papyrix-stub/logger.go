package main

import (
	"fmt"
	"strings"

	"github.com/golang/glog"
)

// glogLogger adapts glog to the key-value Logger the stub and server take.
// Debug lines need -v=1.
type glogLogger struct{}

func (glogLogger) Debug(msg string, keysAndValues ...interface{}) {
	if glog.V(1) {
		glog.InfoDepth(1, formatKV(msg, keysAndValues))
	}
}

func (glogLogger) Info(msg string, keysAndValues ...interface{}) {
	glog.InfoDepth(1, formatKV(msg, keysAndValues))
}

func (glogLogger) Error(msg string, keysAndValues ...interface{}) {
	glog.ErrorDepth(1, formatKV(msg, keysAndValues))
}

// formatKV renders "msg k1=v1 k2=v2". Integers are shown in hex, the way
// addresses and sizes read best.
func formatKV(msg string, kv []interface{}) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		b.WriteByte(' ')
		b.WriteString(fmt.Sprint(kv[i]))
		b.WriteByte('=')
		if i+1 >= len(kv) {
			b.WriteString("MISSING")
			continue
		}
		switch v := kv[i+1].(type) {
		case uint32:
			fmt.Fprintf(&b, "0x%X", v)
		case error:
			fmt.Fprintf(&b, "%q", v.Error())
		default:
			fmt.Fprint(&b, v)
		}
	}
	return b.String()
}
