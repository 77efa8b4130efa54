package util

import (
	"fmt"
	"io"
	"os"

	"github.com/common-nighthawk/go-figure"
	"github.com/mattn/go-isatty"
)

const (
	ColorReset  = "\x1b[0m"
	ColorRed    = "\x1b[1;31m"
	ColorGreen  = "\x1b[1;32m"
	ColorYellow = "\x1b[1;33m"
	ColorBlue   = "\x1b[1;34m"
	ColorCyan   = "\x1b[1;36m"
)

var colors = map[string]string{
	"red":    ColorRed,
	"green":  ColorGreen,
	"yellow": ColorYellow,
	"blue":   ColorBlue,
	"cyan":   ColorCyan,
}

// IsTerminal w 是否连接到终端
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// PrintBanner 输出 ASCII banner 与版本号，w 不是终端时不加颜色
func PrintBanner(w io.Writer, text, version, color string) {
	code, ok := colors[color]
	if !ok || !IsTerminal(w) {
		code = ""
	}
	reset := ""
	if code != "" {
		reset = ColorReset
	}
	for _, line := range figure.NewFigure(text, "", true).Slicify() {
		fmt.Fprintln(w, code+line+reset)
	}
	if version != "" {
		fmt.Fprintf(w, "%sv%s%s\n\n", code, version, reset)
	}
}
