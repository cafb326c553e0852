package xlog

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
)

// Logger is the printf style logger shared by every package:
//
//	var logger = xlog.GetLogger()
type Logger struct {
	level atomic.Int32
}

const (
	TRACE = iota
	DEBUG
	INFO
	WARNING
	ERROR
	FATAL
)

var levelNames = []string{"TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "FATAL"}

// AlertPrefix marks messages that need a human, e.g. a broken balance invariant.
const AlertPrefix = "[ALERT]"

var (
	_logger   *Logger
	alertHook atomic.Value // func(msg string)
)

func GetLogger() *Logger {
	if _logger != nil {
		return _logger
	}
	lvl := os.Getenv("WALLET_LOG_LVL")
	_logger = &Logger{}
	_logger.level.Store(int32(ParseLevel(lvl)))
	_logger.Infof("using xlog with %s, WALLET_LOG_LVL:%s", levelNames[_logger.GetLevel()], lvl)
	return _logger
}

// ParseLevel accepts full or abbreviated level names, defaulting to INFO.
func ParseLevel(s string) int {
	switch strings.ToUpper(s) {
	case "T", "TRC", "TRACE":
		return TRACE
	case "D", "DBG", "DEBUG":
		return DEBUG
	case "W", "WRN", "WARN", "WARNING":
		return WARNING
	case "E", "ERR", "ERROR":
		return ERROR
	case "F", "FTL", "FATAL":
		return FATAL
	}
	return INFO
}

func (s *Logger) SetLevel(level string) {
	for i, v := range levelNames {
		if v == strings.ToUpper(level) {
			s.level.Store(int32(i))
			s.Infof("set xlog level to %s", v)
			return
		}
	}

	s.Warningf("set xlog level to %s failed", level)
}

func (s *Logger) SetLevelNum(num int) {
	s.level.Store(int32(num))
}

func (s *Logger) GetLevel() int {
	return int(s.level.Load())
}

// CycleLevel moves one level down (more verbose), wrapping from TRACE back
// to ERROR. Bound to SIGUSR1 by the binaries.
func (s *Logger) CycleLevel() string {
	next := s.GetLevel() - 1
	if next < TRACE {
		next = ERROR
	}
	s.SetLevelNum(next)
	return levelNames[next]
}

func (s *Logger) enabled(level int) bool {
	return level >= s.GetLevel()
}

func (s *Logger) Trace(args ...interface{}) {
	if s.enabled(TRACE) {
		Zap.Debug("[TRC] "+argsToString(args...), FileField())
	}
}

func (s *Logger) Tracef(format string, args ...interface{}) {
	if s.enabled(TRACE) {
		Zap.Debug("[TRC] "+fmt.Sprintf(format, args...), FileField())
	}
}

func (s *Logger) Debug(args ...interface{}) {
	if s.enabled(DEBUG) {
		Zap.Debug("[DBG] "+argsToString(args...), FileField())
	}
}

func (s *Logger) Debugf(format string, args ...interface{}) {
	if s.enabled(DEBUG) {
		Zap.Debug("[DBG] "+fmt.Sprintf(format, args...), FileField())
	}
}

func (s *Logger) Info(args ...interface{}) {
	if s.enabled(INFO) {
		Zap.Info("[INF] "+argsToString(args...), FileField())
	}
}

func (s *Logger) Infof(format string, args ...interface{}) {
	if s.enabled(INFO) {
		Zap.Info("[INF] "+fmt.Sprintf(format, args...), FileField())
	}
}

func (s *Logger) Warning(args ...interface{}) {
	if s.enabled(WARNING) {
		Zap.Warn("[WRN] "+argsToString(args...), FileField())
	}
}

func (s *Logger) Warningf(format string, args ...interface{}) {
	if s.enabled(WARNING) {
		Zap.Warn("[WRN] "+fmt.Sprintf(format, args...), FileField())
	}
}

func (s *Logger) Error(args ...interface{}) {
	if s.enabled(ERROR) {
		Zap.Error("[ERR] "+argsToString(args...), FileField())
	}
}

func (s *Logger) Errorf(format string, args ...interface{}) {
	if s.enabled(ERROR) {
		Zap.Error("[ERR] "+fmt.Sprintf(format, args...), FileField())
	}
}

// Alertf is always written regardless of level, and handed to the alert hook.
func (s *Logger) Alertf(format string, args ...interface{}) {
	msg := AlertPrefix + " " + fmt.Sprintf(format, args...)
	Zap.Error(msg, FileField())
	if hook, ok := alertHook.Load().(func(string)); ok && hook != nil {
		hook(msg)
	}
}

// SetAlertHook registers fn to be called for every Alertf message.
func SetAlertHook(fn func(msg string)) {
	alertHook.Store(fn)
}

func (s *Logger) Fatal(args ...interface{}) {
	Zap.Fatal("[FTL] "+argsToString(args...), FileField())
	os.Exit(1)
}

func (s *Logger) Fatalf(format string, args ...interface{}) {
	Zap.Fatal("[FTL] "+fmt.Sprintf(format, args...), FileField())
	os.Exit(1)
}

// Write lets the logger act as an io.Writer for libraries that want one.
func (s *Logger) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	Zap.Info(strings.TrimRight(string(p), "\n"), FileField())
	return len(p), nil
}

func argsToString(args ...interface{}) string {
	return strings.TrimSuffix(fmt.Sprintln(args...), "\n")
}
