// Package plugin 定义 uptop 插件 API：插件分类、元数据、各分类能力接口以及插件定义（Factory）。
package plugin

import (
	"fmt"
	"reflect"
	"sync"
)

// APIVersion 当前插件 API 版本，主版本号不同的插件不兼容
const APIVersion = "1.0"

// Category 插件分类
type Category string

const (
	CategoryPane      Category = "pane"
	CategoryCollector Category = "collector"
	CategoryFormatter Category = "formatter"
	CategoryAction    Category = "action"
)

// Categories 全部分类（固定顺序）
var Categories = []Category{CategoryPane, CategoryCollector, CategoryFormatter, CategoryAction}

// Capability 分类对应的能力接口类型
func (c Category) Capability() (reflect.Type, bool) {
	switch c {
	case CategoryPane:
		return reflect.TypeFor[Pane](), true
	case CategoryCollector:
		return reflect.TypeFor[Collector](), true
	case CategoryFormatter:
		return reflect.TypeFor[Formatter](), true
	case CategoryAction:
		return reflect.TypeFor[Action](), true
	}
	return nil, false
}

func (c Category) Valid() bool {
	_, ok := c.Capability()
	return ok
}

// Metadata 插件描述信息
type Metadata struct {
	Name        string   `json:"name" yaml:"name" validate:"required,plugin_name"`
	DisplayName string   `json:"display_name" yaml:"display_name" validate:"required"`
	Category    Category `json:"category" yaml:"category" validate:"required,oneof=pane collector formatter action"`
	Version     string   `json:"version" yaml:"version" validate:"required,semver"`
	APIVersion  string   `json:"api_version" yaml:"api_version" validate:"required"`
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Source      string   `json:"source,omitempty" yaml:"source,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Author      string   `json:"author,omitempty" yaml:"author,omitempty"`
}

// Plugin 所有插件共有的生命周期接口，实现方通常嵌入 plugin.Base
type Plugin interface {
	Initialize(cfg map[string]any) error
	Shutdown() error
	Enabled() bool
	SetEnabled(enabled bool)
	Initialized() bool
}

// Dependencies 由宿主注入的共享依赖（logger、scheduler 等）
type Dependencies map[string]any

// Injector 可选：在 Initialize 之前接收依赖
type Injector interface {
	Inject(deps Dependencies) error
}

// Starter 可选：StartAll 时调用
type Starter interface {
	Start() error
}

// Stopper 可选：StopAll 时调用
type Stopper interface {
	Stop() error
}

// Base 可嵌入的 Plugin 实现，零值即为启用、未初始化
type Base struct {
	mu          sync.RWMutex
	config      map[string]any
	disabled    bool
	initialized bool
}

// Initialize 保存配置并标记为已初始化
func (b *Base) Initialize(cfg map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config = make(map[string]any, len(cfg))
	for k, v := range cfg {
		b.config[k] = v
	}
	b.initialized = true
	return nil
}

func (b *Base) Shutdown() error {
	b.mu.Lock()
	b.initialized = false
	b.mu.Unlock()
	return nil
}

func (b *Base) Enabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.disabled
}

func (b *Base) SetEnabled(enabled bool) {
	b.mu.Lock()
	b.disabled = !enabled
	b.mu.Unlock()
}

func (b *Base) Initialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.initialized
}

// Config 初始化时传入的配置
func (b *Base) Config() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config
}

// ConfigValue 读取单个配置项
func (b *Base) ConfigValue(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.config[key]
	return v, ok
}

// Factory 插件定义：声明的名称、元数据、具体类型以及构造函数
type Factory struct {
	// Name 插件声明名（扩展表或清单中的键）
	Name     string
	Metadata Metadata
	Type     reflect.Type
	New      func() (Plugin, error)
	// Deferred 为 true 且注册表开启 WithLazy 时按需加载
	Deferred bool
}

// Define 由具体类型 T 的构造函数生成 Factory
func Define[T Plugin](meta Metadata, newFn func() (T, error)) Factory {
	if meta.APIVersion == "" {
		meta.APIVersion = APIVersion
	}
	f := Factory{
		Name:     meta.Name,
		Metadata: meta,
		Type:     reflect.TypeFor[T](),
	}
	if newFn != nil {
		f.New = func() (Plugin, error) {
			p, err := newFn()
			if err != nil {
				return nil, err
			}
			return p, nil
		}
	}
	return f
}

// Defer 标记为延迟加载
func (f Factory) Defer() Factory {
	f.Deferred = true
	return f
}

func (f Factory) String() string {
	return fmt.Sprintf("%s(%s)", f.Name, f.Metadata.Category)
}
