package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/uptop/pkg/logger"
	"github.com/uptop/pkg/plugin"
)

// Candidate 来源发现的一个插件定义或一个加载失败的条目
type Candidate struct {
	Factory plugin.Factory
	Locator string
	// Key 加载失败时用于 FailedPlugins 的名称
	Key string
	Err error
}

// Source 插件发现来源
type Source interface {
	Name() string
	Discover(ctx context.Context) ([]Candidate, error)
}

// StaticSource 编译期注册的扩展表
type StaticSource struct {
	name      string
	factories []plugin.Factory
}

// NewStaticSource 创建扩展表来源
func NewStaticSource(name string, factories ...plugin.Factory) *StaticSource {
	return &StaticSource{name: name, factories: factories}
}

func (s *StaticSource) Name() string { return s.name }

func (s *StaticSource) Discover(context.Context) ([]Candidate, error) {
	out := make([]Candidate, 0, len(s.factories))
	for _, f := range s.factories {
		out = append(out, Candidate{Factory: f, Locator: s.name + ":" + f.Name, Key: f.Name})
	}
	return out, nil
}

// DirectorySource 扫描插件目录：
//   - 以 "_" 或 "." 开头的条目跳过
//   - *.so 文件按 Go plugin 打开，读取导出的 UptopPlugins
//   - 含 manifest.yaml/manifest.yml/manifest.toml 的子目录为外部可执行插件
//   - 其余条目忽略
type DirectorySource struct {
	dir         string
	execTimeout time.Duration
	log         *zap.Logger
}

// DirectoryOption DirectorySource 可选项
type DirectoryOption func(*DirectorySource)

// WithExecTimeout 外部插件默认调用超时（清单未指定时）
func WithExecTimeout(d time.Duration) DirectoryOption {
	return func(s *DirectorySource) { s.execTimeout = d }
}

// NewDirectorySource 创建目录来源
func NewDirectorySource(dir string, opts ...DirectoryOption) *DirectorySource {
	s := &DirectorySource{dir: dir, execTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.Named("registry.dir")
	return s
}

func (s *DirectorySource) Name() string { return "directory:" + s.dir }

// Discover 目录不存在时返回空结果
func (s *DirectorySource) Discover(ctx context.Context) ([]Candidate, error) {
	if s.dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Debug("plugin directory does not exist", zap.String("dir", s.dir))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read plugin dir %s: %w", s.dir, err)
	}

	var out []Candidate
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		name := e.Name()
		if strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(s.dir, name)
		locator := "directory:" + path

		var (
			factories []plugin.Factory
			loadErr   error
			key       = name
		)
		switch {
		case e.IsDir():
			manifest := findManifest(path)
			if manifest == "" {
				continue
			}
			factories, loadErr = loadExecPlugin(path, manifest, s.execTimeout)
		case filepath.Ext(name) == ".so":
			key = strings.TrimSuffix(name, ".so")
			factories, loadErr = openGoPlugin(path)
		default:
			continue
		}

		if loadErr != nil {
			out = append(out, Candidate{Locator: locator, Key: key, Err: loadErr})
			continue
		}
		for _, f := range factories {
			out = append(out, Candidate{Factory: f, Locator: locator, Key: f.Name})
		}
	}
	return out, nil
}
