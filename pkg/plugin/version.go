package plugin

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseAPIVersion 解析 "major.minor"（minor 可省略）
func ParseAPIVersion(v string) (major, minor int, err error) {
	parts := strings.SplitN(strings.TrimSpace(v), ".", 3)
	if len(parts) == 0 || parts[0] == "" {
		return 0, 0, fmt.Errorf("empty api version")
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil || major < 0 {
		return 0, 0, fmt.Errorf("invalid api version %q", v)
	}
	if len(parts) > 1 {
		minor, err = strconv.Atoi(parts[1])
		if err != nil || minor < 0 {
			return 0, 0, fmt.Errorf("invalid api version %q", v)
		}
	}
	return major, minor, nil
}

// APICompatible 主版本号与当前 API 相同才兼容，无法解析视为不兼容
func APICompatible(v string) bool {
	want, _, _ := ParseAPIVersion(APIVersion)
	got, _, err := ParseAPIVersion(v)
	return err == nil && got == want
}
