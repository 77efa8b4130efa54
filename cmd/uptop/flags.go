package uptop

import (
	"github.com/spf13/cobra"

	"github.com/uptop/pkg/config"
)

var defaultCfg = config.NewDefaultConfig()

func initServerFlags(root *cobra.Command) {
	f := root.PersistentFlags()

	f.Bool("server.enable", defaultCfg.Server.Enable, "-> Enable HTTP server (是否启动HTTP服务)")
	f.String("server.addr", defaultCfg.Server.Addr, "-> HTTP listening address (HTTP监听地址)")
	f.Duration("server.read_timeout", defaultCfg.Server.ReadTimeout, "-> Read timeout duration (读取超时时间)")
	f.Duration("server.write_timeout", defaultCfg.Server.WriteTimeout, "-> Write timeout duration (写入超时时间)")
	f.Duration("server.idle_timeout", defaultCfg.Server.IdleTimeout, "-> Idle connection timeout duration (空闲连接超时时间)")
}

func initSchedulerFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	prefix := "scheduler."

	f.Duration(prefix+"interval", defaultCfg.Scheduler.Interval, "-> Default collection interval (默认采集间隔)")
	f.Duration(prefix+"timeout", defaultCfg.Scheduler.Timeout, "-> Default collection timeout (默认采集超时)")
	f.Int(prefix+"buffer_size", defaultCfg.Scheduler.BufferSize, "-> Results kept per provider (每个数据源保留条数)")
	f.Duration(prefix+"buffer_max_age", defaultCfg.Scheduler.BufferMaxAge, "-> Max age of buffered results, 0 keeps forever (结果保留时长)")
	f.Float64(prefix+"stale_multiplier", defaultCfg.Scheduler.StaleMultiplier, "-> Stale after interval*multiplier without success (过期倍数)")
	f.Duration(prefix+"stop_timeout", defaultCfg.Scheduler.StopTimeout, "-> Graceful stop timeout (停止等待时间)")
	f.Bool(prefix+"retry.enabled", defaultCfg.Scheduler.Retry.Enabled, "-> Retry failed collections (是否重试)")
	f.Int(prefix+"retry.max_retries", defaultCfg.Scheduler.Retry.MaxRetries, "-> Max attempts per cycle (最大尝试次数)")
	f.Duration(prefix+"retry.base_delay", defaultCfg.Scheduler.Retry.BaseDelay, "-> Base retry delay (重试基础间隔)")
}

func initPluginFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	prefix := "plugins."

	f.String(prefix+"directory", defaultCfg.Plugins.Directory, "-> Plugin directory (插件目录)")
	f.Bool(prefix+"strict", defaultCfg.Plugins.Strict, "-> Abort on the first plugin failure (严格模式)")
	f.StringSlice(prefix+"disabled", defaultCfg.Plugins.Disabled, "-> Plugins to disable (禁用的插件)")
}

func initLogFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	prefix := "log."

	f.String(
		prefix+"level",
		defaultCfg.Log.Level,
		"-> Log level [debug,info,warn,error] | 日志级别")
	f.String(
		prefix+"format",
		defaultCfg.Log.Format,
		"-> Log format [console,json] | 日志格式")
	f.String(
		prefix+"path",
		defaultCfg.Log.Path,
		"-> Log file storage path | 日志路径")
	f.Int(
		prefix+"max_size",
		defaultCfg.Log.MaxSize,
		"-> Max size of single log file (MB) | 单文件最大MB")
	f.Int(
		prefix+"max_age",
		defaultCfg.Log.MaxAge,
		"-> Maximum retention days of log files | 保存天数")
}
