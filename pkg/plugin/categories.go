package plugin

import (
	"context"
	"reflect"
	"time"

	"github.com/uptop/pkg/collector"
)

// DisplayMode 面板信息密度
type DisplayMode string

const (
	ModeMicro     DisplayMode = "micro"
	ModeMinimized DisplayMode = "minimized"
	ModeMedium    DisplayMode = "medium"
	ModeMaximized DisplayMode = "maximized"
)

// Size 渲染区域大小（字符）
type Size struct {
	Width  int
	Height int
}

// Pane 面板插件：采集一份数据并渲染
type Pane interface {
	Plugin
	CollectData(ctx context.Context) (collector.Record, error)
	Render(data collector.Record, size Size, mode DisplayMode) string
	Schema() reflect.Type
	DefaultInterval() time.Duration
}

// ProviderSource 可选：面板背后有可交给调度器的数据源
type ProviderSource interface {
	Provider() collector.Provider
}

// Collector 采集插件：为目标面板的某一行/对象补充字段
type Collector interface {
	Plugin
	TargetPane() string
	Collect(ctx context.Context, target any) (map[string]any, error)
}

// Snapshot 一次全量采集的快照，交给 Formatter 输出
type Snapshot struct {
	ID        string                      `json:"id" yaml:"id"`
	Timestamp time.Time                   `json:"timestamp" yaml:"timestamp"`
	Hostname  string                      `json:"hostname" yaml:"hostname"`
	Panes     map[string]collector.Record `json:"panes" yaml:"panes"`
	Errors    map[string]string           `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Formatter 输出格式插件
type Formatter interface {
	Plugin
	FormatName() string
	CLIFlag() string
	FileExtension() string
	Format(s Snapshot) (string, error)
}

// ActionContext 执行动作时的上下文（当前面板与选中对象）
type ActionContext struct {
	Pane      string
	Selection map[string]any
}

// ActionResult 动作执行结果
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Action 动作插件
type Action interface {
	Plugin
	KeyboardShortcut() string
	RequiresConfirmation() bool
	CanExecute(actx ActionContext) bool
	Execute(ctx context.Context, actx ActionContext) (ActionResult, error)
}
