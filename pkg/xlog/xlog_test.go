package xlog_test

import (
	"bytes"
	"path"
	"strings"
	"testing"

	"ccwallet/pkg/xlog"

	"github.com/stretchr/testify/require"
)

func TestLog(t *testing.T) {
	xlog.Init("test", path.Join(t.TempDir(), "xlog-test.log"))
	logger := xlog.GetLogger()
	require.NotNil(t, logger)

	logger.SetLevel("trace")
	require.Equal(t, xlog.TRACE, logger.GetLevel())

	logger.Trace("this is trace")
	logger.Debug("this is debug")
	logger.Info("this is info")
	logger.Warning("this is warning")
	logger.Error("this is error")

	logger.SetLevel("nope")
	require.Equal(t, xlog.TRACE, logger.GetLevel())
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, xlog.TRACE, xlog.ParseLevel("trc"))
	require.Equal(t, xlog.WARNING, xlog.ParseLevel("warn"))
	require.Equal(t, xlog.ERROR, xlog.ParseLevel("E"))
	require.Equal(t, xlog.INFO, xlog.ParseLevel(""))
	require.Equal(t, xlog.INFO, xlog.ParseLevel("verbose"))
}

func TestCycleLevel(t *testing.T) {
	logger := xlog.GetLogger()
	logger.SetLevelNum(xlog.DEBUG)
	require.Equal(t, "TRACE", logger.CycleLevel())
	require.Equal(t, "ERROR", logger.CycleLevel())
	require.Equal(t, "WARNING", logger.CycleLevel())
}

func TestAlertHook(t *testing.T) {
	var got []string
	xlog.SetAlertHook(func(msg string) { got = append(got, msg) })
	defer xlog.SetAlertHook(nil)

	logger := xlog.GetLogger()
	logger.SetLevelNum(xlog.FATAL)
	logger.Alertf("frozen underflow uid:%d", 7)

	require.Len(t, got, 1)
	require.True(t, strings.HasPrefix(got[0], xlog.AlertPrefix))
	require.Contains(t, got[0], "uid:7")
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	c := &xlog.Console{Out: &buf}

	_, err := c.Write([]byte(`{"level":"info","time":"2024-03-01T10:20:30.000Z","app":"wallet","file":"ledger/ledger.go:42","msg":"[INF] hello","x-uid":7}` + "\n"))
	require.NoError(t, err)
	require.Equal(t, "[wallet] 2024/03/01 10:20:30 ledger/ledger.go:42 : [INF] hello { x-uid:7 }\n", buf.String())

	c.Color = true
	line := c.Format(map[string]interface{}{"level": "error", "msg": "boom"})
	require.True(t, strings.HasPrefix(line, "\033[1;31m"))
	require.True(t, strings.HasSuffix(line, "\033[0m"))
}
