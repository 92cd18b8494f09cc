package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// wrapperPackages are skipped when resolving the reported caller.
var wrapperPackages = []string{"sirupsen/logrus", "fundingscan/logger."}

// callerHook points the reported caller at the first frame outside logrus
// and the logger wrappers in this package.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 24)
	n := runtime.Callers(6, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !isWrapperFrame(frame.Function) {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}

func isWrapperFrame(fn string) bool {
	for _, p := range wrapperPackages {
		if strings.Contains(fn, p) {
			return true
		}
	}
	return false
}
