// Package xgorm routes gorm's sql log through xlog.
package xgorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ccwallet/pkg/xlog"

	gl "gorm.io/gorm/logger"
)

const (
	Silent = gl.Silent
	Error  = gl.Error
	Warn   = gl.Warn
	Info   = gl.Info
)

var xlogger = xlog.GetLogger()

type logger struct {
	gl.Config
}

// New returns a gorm logger writing to xlog. Record-not-found is never
// logged as an error because every lookup in the wallet handles it.
func New(config gl.Config) gl.Interface {
	config.IgnoreRecordNotFoundError = true
	return &logger{Config: config}
}

func (l *logger) LogMode(level gl.LogLevel) gl.Interface {
	nl := *l
	nl.LogLevel = level
	return &nl
}

func (l *logger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Info {
		xlogger.Infof(msg, data...)
	}
}

func (l *logger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Warn {
		xlogger.Warningf(msg, data...)
	}
}

func (l *logger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Error {
		xlogger.Errorf(msg, data...)
	}
}

// Trace prints the sql statement with its elapsed time and affected rows.
func (l *logger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= Silent {
		return
	}

	elapsed := time.Since(begin)
	ms := float64(elapsed.Nanoseconds()) / 1e6

	switch {
	case err != nil && l.LogLevel >= Error && !errors.Is(err, gl.ErrRecordNotFound):
		sql, rows := fc()
		xlogger.Errorf("sql failed, err:%s [%.3fms] [rows:%s] %s", err, ms, rowsString(rows), sql)
	case elapsed > l.SlowThreshold && l.SlowThreshold != 0 && l.LogLevel >= Warn:
		sql, rows := fc()
		xlogger.Warningf("SLOW SQL >= %v [%.3fms] [rows:%s] %s", l.SlowThreshold, ms, rowsString(rows), sql)
	case l.LogLevel >= Info:
		sql, rows := fc()
		xlogger.Debugf("[%.3fms] [rows:%s] %s", ms, rowsString(rows), sql)
	}
}

func rowsString(rows int64) string {
	if rows == -1 {
		return "-"
	}
	return fmt.Sprint(rows)
}
