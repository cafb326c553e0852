package xlog

const colorReset = "\033[0m"

// info stays uncoloured
var levelColors = map[string]string{
	"debug":  "\033[1;36m",
	"warn":   "\033[1;33m",
	"error":  "\033[1;31m",
	"dpanic": "\033[1;31m",
	"fatal":  "\033[1;31m",
}
