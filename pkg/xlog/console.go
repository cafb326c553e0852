package xlog

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Console turns zap's json lines into one readable line each.
type Console struct {
	Out   io.Writer
	Color bool
}

func (c *Console) Write(p []byte) (int, error) {
	entry := map[string]interface{}{}
	if err := json.Unmarshal(p, &entry); err != nil {
		return len(p), nil
	}
	_, err := io.WriteString(c.Out, c.Format(entry)+"\n")
	return len(p), err
}

// Format renders one decoded entry. Extra fields prefixed with "x-" are
// appended in braces.
func (c *Console) Format(entry map[string]interface{}) string {
	var extra []string
	for k, v := range entry {
		if strings.HasPrefix(k, "x-") {
			extra = append(extra, k+":"+fmt.Sprint(v))
		}
	}
	sort.Strings(extra)

	tStr := fmt.Sprint(entry["time"])
	if t, err := time.Parse(timeLayout, tStr); err == nil {
		tStr = t.Format("2006/01/02 15:04:05")
	}

	fname, _ := entry["file"].(string)
	if len(fname) < 20 {
		fname += strings.Repeat(" ", 20-len(fname))
	} else if len(fname) > 20 {
		fname = fname[len(fname)-20:]
	}

	line := fmt.Sprintf("[%v] %s %s: %v", entry["app"], tStr, fname, entry["msg"])
	if len(extra) > 0 {
		line += " { " + strings.Join(extra, " ") + " }"
	}
	if c.Color {
		level, _ := entry["level"].(string)
		if pre, ok := levelColors[level]; ok {
			line = pre + line + colorReset
		}
	}
	return line
}
