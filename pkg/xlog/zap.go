package xlog

import (
	"flag"
	"fmt"
	"os"
	"path"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	Zap = zap.NewNop()

	EnvMode  = "development"
	EnvColor = false

	optsName    string
	optsLogPath string
)

func init() {
	if mode := os.Getenv("WALLET_LOG_MODE"); mode != "" {
		EnvMode = mode
	}

	color := os.Getenv("WALLET_LOG_COLOR")
	if color == "" && flag.Lookup("test.v") == nil {
		color = "true"
	}
	EnvColor = color != "" && color != "false" && color != "0"
}

// Init builds the zap logger for app name. Logs go to logPath (rotated by
// lumberjack) and to stdout.
func Init(name string, logPath string) {
	if name == "" {
		name = "wallet"
	}
	if logPath == "" {
		logPath = path.Join("logs", name+".log")
	}

	optsName = name
	optsLogPath = logPath

	Zap = NewZap(EnvMode != "release")
	Zap.Info("zap init succeed", FileField())
}

func NewZap(debug bool) *zap.Logger {
	rotate := &lumberjack.Logger{
		Filename:   optsLogPath,
		MaxSize:    128, // MB
		MaxAge:     30,  // days
		MaxBackups: 30,
	}
	console := &Console{Out: os.Stdout, Color: EnvColor}

	encoderConfig := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		TimeKey:        "time",
		NameKey:        "logger",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(timeLayout),
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if debug {
		level.SetLevel(zap.DebugLevel)
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.NewMultiWriteSyncer(zapcore.AddSync(rotate), zapcore.AddSync(console)),
		level,
	)

	return zap.New(core, zap.Development(), zap.Fields(zap.String("app", optsName)))
}

func FileField() zap.Field {
	return zap.String("file", FileWithLineNum())
}

// FileWithLineNum returns dir/file.go:line of the first caller outside the
// logging plumbing.
func FileWithLineNum() string {
	var (
		file string
		line int
	)

	for i := 1; i < 15; i++ {
		_, _file, _line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(_file, "/pkg/xlog/") ||
			strings.Contains(_file, "/pkg/model/xgorm/") ||
			strings.Contains(_file, "gorm.io/gorm") {
			continue
		}
		file, line = _file, _line
		break
	}

	ss := strings.Split(file, "/")
	if len(ss) > 1 {
		return fmt.Sprintf("%s/%s:%d", ss[len(ss)-2], ss[len(ss)-1], line)
	}
	return fmt.Sprintf("%s:%d", file, line)
}
