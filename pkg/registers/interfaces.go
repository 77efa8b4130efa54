package registers

import (
	"context"

	"github.com/uptop/pkg/plugin"
	"github.com/uptop/pkg/registry"
	"github.com/uptop/pkg/scheduler"
)

// Agent 顶层接口：封装插件注册表与采集调度器的生命周期
// 新增面板只需提供 plugin.Factory 并加入 Builtin 表或插件目录
type Agent interface {
	Prepare(ctx context.Context, panes ...string) error                     // 初始化插件并把面板数据源交给调度器
	Start(ctx context.Context) error                                        // 启动周期采集
	Snapshot(ctx context.Context, panes ...string) (plugin.Snapshot, error) // 一次性全量采集
	Shutdown(ctx context.Context) error                                     // 优雅停止
	Registry() *registry.Registry
	Scheduler() *scheduler.Scheduler
}
