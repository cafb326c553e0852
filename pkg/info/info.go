// Package info holds build information, set with -ldflags at release time:
//
//	-X ccwallet/pkg/info.Version=1.2.0 -X ccwallet/pkg/info.GitRev=$(git rev-parse --short HEAD)
package info

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var (
	Version    = "0.0.0"
	Dist       = "1"
	GitRev     = "000000"
	BuildTime  = "2000-01-01_00:00:00"
	InstanceID = uuid.New().String()
)

var ErrInvalid = errors.New("invalid version")

// Release is Version and Dist as stored next to the schema, e.g. 1.2.0-3.
func Release() string {
	return Version + "-" + Dist
}

// ParseRelease splits a Release string.
func ParseRelease(s string) (ver, dist string, err error) {
	i := strings.LastIndex(s, "-")
	if i <= 0 || i == len(s)-1 {
		return "", "", ErrInvalid
	}
	return s[:i], s[i+1:], nil
}

func Summary() string {
	return fmt.Sprintf("ccwallet %s rev:%s built:%s instance:%s", Release(), GitRev, BuildTime, InstanceID)
}

// return A is newer than B
func IsNewerVersion(verA, distA, verB, distB string) (bool, error) {
	aa := strings.Split(verA, ".")
	bb := strings.Split(verB, ".")
	if len(aa) != 3 || len(bb) != 3 {
		return false, ErrInvalid
	}

	for i := 0; i < 3; i++ {
		a, b := parseInt64(aa[i]), parseInt64(bb[i])
		if a != b {
			return a > b, nil
		}
	}
	return parseInt64(distA) > parseInt64(distB), nil
}

func parseInt64(str string) int64 {
	res, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0
	}
	return res
}
