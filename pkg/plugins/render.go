package plugins

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/uptop/pkg/plugin"
)

var (
	rendererMu sync.RWMutex
	renderer   = lipgloss.NewRenderer(os.Stdout)
)

// SetColorProfile 修改面板渲染的颜色能力，termenv.Ascii 输出纯文本
func SetColorProfile(p termenv.Profile) {
	rendererMu.Lock()
	renderer.SetColorProfile(p)
	rendererMu.Unlock()
}

func currentRenderer() *lipgloss.Renderer {
	rendererMu.RLock()
	defer rendererMu.RUnlock()
	return renderer
}

// rowLimit 各显示模式下最多展示的明细行数，-1 表示不限制
func rowLimit(mode plugin.DisplayMode) int {
	switch mode {
	case plugin.ModeMicro, plugin.ModeMinimized:
		return 0
	case plugin.ModeMedium:
		return 5
	default:
		return -1
	}
}

// box 渲染带标题的圆角边框面板；micro 模式只输出一行摘要
func box(title, summary string, rows []string, size plugin.Size, mode plugin.DisplayMode) string {
	r := currentRenderer()
	if mode == plugin.ModeMicro {
		return r.NewStyle().Bold(true).Render(title) + " " + summary
	}
	if n := rowLimit(mode); n >= 0 && len(rows) > n {
		rows = rows[:n]
	}

	lines := make([]string, 0, len(rows)+2)
	lines = append(lines, r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Render(title))
	lines = append(lines, summary)
	lines = append(lines, rows...)

	st := r.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Padding(0, 1)
	if size.Width > 4 {
		st = st.Width(size.Width - 2)
	}
	if size.Height > 2 {
		st = st.MaxHeight(size.Height)
	}
	return st.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func invalidData(title string, size plugin.Size, mode plugin.DisplayMode) string {
	return box(title, "no data", nil, size, mode)
}

// bar 百分比进度条
func bar(percent float64, width int) string {
	if width <= 0 {
		width = 10
	}
	filled := int(percent / 100 * float64(width))
	filled = max(0, min(width, filled))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// humanBytes 以 1024 为基数的可读字节数
func humanBytes(b float64) string {
	const unit = 1024.0
	units := []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}
	i := 0
	for b >= unit && i < len(units)-1 {
		b /= unit
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%.0f %s", b, units[i])
	}
	return fmt.Sprintf("%.1f %s", b, units[i])
}

func humanRate(bps float64) string {
	return humanBytes(bps) + "/s"
}
