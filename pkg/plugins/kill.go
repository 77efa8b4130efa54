package plugins

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/uptop/pkg/logger"
	"github.com/uptop/pkg/plugin"
	"github.com/uptop/pkg/providers"
)

// KillProcess 动作插件：向选中进程发送 SIGTERM
type KillProcess struct {
	plugin.Base

	mu        sync.RWMutex
	log       *zap.Logger
	terminate func(ctx context.Context, pid int32) error
}

func NewKillProcess() (*KillProcess, error) {
	return &KillProcess{
		log:       logger.Named("kill_process"),
		terminate: terminateProcess,
	}, nil
}

// KillProcessFactory 结束进程插件定义
func KillProcessFactory() plugin.Factory {
	return plugin.Define(plugin.Metadata{
		Name:        "kill_process",
		DisplayName: "Kill Process",
		Category:    plugin.CategoryAction,
		Version:     builtinVersion,
		APIVersion:  plugin.APIVersion,
		Enabled:     true,
		Description: "Send SIGTERM to the selected process",
		Author:      builtinAuthor,
	}, NewKillProcess)
}

// Inject 接收宿主的 logger
func (a *KillProcess) Inject(deps plugin.Dependencies) error {
	if l, ok := deps["logger"].(*zap.Logger); ok && l != nil {
		a.mu.Lock()
		a.log = l.Named("kill_process")
		a.mu.Unlock()
	}
	return nil
}

func (a *KillProcess) KeyboardShortcut() string   { return "k" }
func (a *KillProcess) RequiresConfirmation() bool { return true }

// CanExecute 只在进程面板选中了有效且不是自身的 pid 时可用
func (a *KillProcess) CanExecute(actx plugin.ActionContext) bool {
	if actx.Pane != providers.NameProcesses {
		return false
	}
	pid, ok := pidOf(actx.Selection)
	return ok && int(pid) != os.Getpid()
}

func (a *KillProcess) Execute(ctx context.Context, actx plugin.ActionContext) (plugin.ActionResult, error) {
	if !a.CanExecute(actx) {
		return plugin.ActionResult{Success: false, Message: "no process selected"}, nil
	}
	pid, _ := pidOf(actx.Selection)

	a.mu.RLock()
	log := a.log
	a.mu.RUnlock()

	err := a.terminate(ctx, pid)
	switch {
	case err == nil:
		log.Info("sent SIGTERM", zap.Int32("pid", pid))
		return plugin.ActionResult{Success: true, Message: fmt.Sprintf("sent SIGTERM to process %d", pid)}, nil
	case errors.Is(err, process.ErrorProcessNotRunning):
		return plugin.ActionResult{Success: false, Message: fmt.Sprintf("process %d not found", pid)}, nil
	case errors.Is(err, fs.ErrPermission):
		log.Warn("permission denied terminating process", zap.Int32("pid", pid))
		return plugin.ActionResult{Success: false, Message: fmt.Sprintf("permission denied for process %d", pid)}, nil
	default:
		return plugin.ActionResult{Success: false, Message: err.Error()}, fmt.Errorf("terminate process %d: %w", pid, err)
	}
}

func terminateProcess(ctx context.Context, pid int32) error {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return err
	}
	return proc.TerminateWithContext(ctx)
}
