package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var valid = validator.New()

// EnvPrefix 环境变量前缀（UPTOP_SCHEDULER_INTERVAL -> scheduler.interval）
const EnvPrefix = "UPTOP"

// Config 全局配置结构体
type Config struct {
	Server    ServerConfig          `yaml:"server" mapstructure:"server" comment:"HTTP服务配置"`
	Scheduler SchedulerConfig       `yaml:"scheduler" mapstructure:"scheduler" comment:"采集调度配置"`
	Plugins   PluginsConfig         `yaml:"plugins" mapstructure:"plugins" comment:"插件配置"`
	Panes     map[string]PaneConfig `yaml:"panes" mapstructure:"panes" validate:"dive" comment:"各面板覆盖配置"`
	CLI       CLIConfig             `yaml:"cli" mapstructure:"cli" comment:"命令行输出配置"`
	Log       ZapLogConfig          `yaml:"log" mapstructure:"log" comment:"日志配置"`
}

// ServerConfig HTTP服务配置（超时统一为time.Duration，支持"30s"解析）
type ServerConfig struct {
	Enable       bool          `yaml:"enable" mapstructure:"enable" comment:"是否启动HTTP服务"`
	Addr         string        `yaml:"addr" mapstructure:"addr" validate:"required,hostname_port" comment:"HTTP监听地址（格式：ip:port）"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" validate:"gt=0" comment:"读取超时时间"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" validate:"gt=0" comment:"写入超时时间"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"gt=0" comment:"空闲连接超时时间"`
}

// SchedulerConfig 采集调度配置，注册数据源时的默认值
type SchedulerConfig struct {
	Interval        time.Duration `yaml:"interval" mapstructure:"interval" validate:"gt=0" comment:"外部插件数据源的默认采集间隔"`
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gt=0" comment:"外部插件数据源的默认单次采集超时"`
	BufferSize      int           `yaml:"buffer_size" mapstructure:"buffer_size" validate:"gt=0" comment:"每个数据源保留的结果条数"`
	BufferMaxAge    time.Duration `yaml:"buffer_max_age" mapstructure:"buffer_max_age" validate:"gte=0" comment:"结果保留时长，0表示不过期"`
	StaleMultiplier float64       `yaml:"stale_multiplier" mapstructure:"stale_multiplier" validate:"gt=0" comment:"超过 interval*倍数 未成功即判定为过期"`
	StopTimeout     time.Duration `yaml:"stop_timeout" mapstructure:"stop_timeout" validate:"gt=0" comment:"停止调度等待时间"`
	Retry           RetryConfig   `yaml:"retry" mapstructure:"retry" comment:"重试配置"`
}

// RetryConfig 重试配置
type RetryConfig struct {
	Enabled    bool          `yaml:"enabled" mapstructure:"enabled" comment:"是否启用重试"`
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries" validate:"gte=1,lte=10" comment:"最大尝试次数"`
	BaseDelay  time.Duration `yaml:"base_delay" mapstructure:"base_delay" validate:"gte=0" comment:"重试基础间隔（线性递增）"`
}

// PluginsConfig 插件发现与初始化配置
type PluginsConfig struct {
	Directory string                    `yaml:"directory" mapstructure:"directory" comment:"插件目录"`
	Strict    bool                      `yaml:"strict" mapstructure:"strict" comment:"严格模式：任何插件加载失败即中止"`
	Disabled  []string                  `yaml:"disabled" mapstructure:"disabled" validate:"dive,required" comment:"禁用的插件名"`
	Settings  map[string]map[string]any `yaml:"settings" mapstructure:"settings" comment:"传给插件 Initialize 的配置"`
}

// PaneConfig 单个面板的覆盖配置
type PaneConfig struct {
	Enabled  *bool         `yaml:"enabled" mapstructure:"enabled" comment:"是否启用"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval" validate:"gte=0" comment:"采集间隔，0使用默认值"`
}

// CLIConfig 一次性输出配置
type CLIConfig struct {
	Format string   `yaml:"format" mapstructure:"format" validate:"required" comment:"输出格式（formatter 名称）"`
	Pretty bool     `yaml:"pretty" mapstructure:"pretty" comment:"格式化输出"`
	Panes  []string `yaml:"panes" mapstructure:"panes" comment:"只输出指定面板"`
}

// ZapLogConfig 日志配置
type ZapLogConfig struct {
	Level   string `yaml:"level" mapstructure:"level" validate:"required,oneof=debug info warn error" comment:"日志级别" default:"info"`
	Format  string `yaml:"format" mapstructure:"format" validate:"required,oneof=json console" comment:"控制台日志格式（json/console）" default:"console"`
	Path    string `yaml:"path" mapstructure:"path" validate:"required" comment:"日志存储路径" default:"./logs"`
	MaxSize int    `yaml:"max_size" mapstructure:"max_size" validate:"gt=0" comment:"单个日志文件最大大小（MB）" default:"100"`
	MaxAge  int    `yaml:"max_age" mapstructure:"max_age" validate:"gt=0" comment:"日志文件最大保存天数" default:"7"`
}

// NewDefaultConfig 创建默认配置
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Enable:       true,
			Addr:         "127.0.0.1:9810",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Interval:        time.Second,
			Timeout:         5 * time.Second,
			BufferSize:      1000,
			BufferMaxAge:    300 * time.Second,
			StaleMultiplier: 3.0,
			StopTimeout:     5 * time.Second,
			Retry: RetryConfig{
				Enabled:    true,
				MaxRetries: 3,
				BaseDelay:  500 * time.Millisecond,
			},
		},
		Plugins: PluginsConfig{
			Directory: "~/.uptop/plugins",
			Disabled:  []string{},
			Settings:  map[string]map[string]any{},
		},
		Panes: map[string]PaneConfig{},
		CLI: CLIConfig{
			Format: "json",
			Pretty: true,
		},
		Log: ZapLogConfig{
			Level:   "info",
			Format:  "console",
			Path:    "./logs",
			MaxSize: 100,
			MaxAge:  7,
		},
	}
}

// LoadConfigWithCli 按 Flags > ENV > YAML > 默认值 加载配置
func LoadConfigWithCli(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	// 1. 绑定 Cobra Flags → Viper，只绑定 section.key 形式的配置项
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if bindErr == nil && strings.Contains(f.Name, ".") {
			bindErr = v.BindPFlag(f.Name, f)
		}
	})
	if bindErr != nil {
		return nil, fmt.Errorf("bind flags: %w", bindErr)
	}

	// 2. 解析配置文件 (--config)
	configFile, _ := cmd.Flags().GetString("config")
	if configFile == "" {
		configFile = os.Getenv(EnvPrefix + "_CONFIG_PATH")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	// 3. 绑定环境变量
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return decode(v)
}

// LoadFile 仅从配置文件加载（测试与嵌入使用）
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := NewDefaultConfig()

	// 解码反序列化到结构体（支持 time.Duration）
	decoderConfig := &mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}
	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate 配置校验
func (c *Config) Validate() error {
	if err := valid.Struct(c); err != nil {
		return err
	}
	// 1，校验Server服务配置
	if err := c.Server.Validate(); err != nil {
		return err
	}
	// 2，校验调度配置
	if err := c.Scheduler.Validate(); err != nil {
		return err
	}
	// 3，校验日志配置
	return c.Log.Validate()
}

// PluginDirectory 展开 ~ 后的插件目录
func (p *PluginsConfig) PluginDirectory() string {
	dir := p.Directory
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
		}
	}
	return dir
}

// IsDisabled 插件是否被配置禁用
func (p *PluginsConfig) IsDisabled(name string) bool {
	for _, d := range p.Disabled {
		if d == name {
			return true
		}
	}
	return false
}

// PaneEnabled 面板是否启用，未配置时默认启用
func (c *Config) PaneEnabled(name string) bool {
	pc, ok := c.Panes[name]
	if !ok || pc.Enabled == nil {
		return true
	}
	return *pc.Enabled
}
