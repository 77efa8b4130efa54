package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/uptop/pkg/plugin"
)

var manifestNames = []string{"manifest.yaml", "manifest.yml", "manifest.toml"}

// Manifest 外部可执行插件清单
type Manifest struct {
	Name        string          `yaml:"name" toml:"name"`
	DisplayName string          `yaml:"display_name" toml:"display_name"`
	Category    plugin.Category `yaml:"category" toml:"category"`
	Version     string          `yaml:"version" toml:"version"`
	APIVersion  string          `yaml:"api_version" toml:"api_version"`
	Description string          `yaml:"description" toml:"description"`
	Author      string          `yaml:"author" toml:"author"`

	// Executable 相对插件目录的可执行文件，默认与插件名相同
	Executable string   `yaml:"executable" toml:"executable"`
	Args       []string `yaml:"args" toml:"args"`
	TimeoutMs  int      `yaml:"timeout_ms" toml:"timeout_ms"`

	// collector 分类
	TargetPane string `yaml:"target_pane" toml:"target_pane"`

	// formatter 分类
	FormatName    string `yaml:"format_name" toml:"format_name"`
	CLIFlag       string `yaml:"cli_flag" toml:"cli_flag"`
	FileExtension string `yaml:"file_extension" toml:"file_extension"`
}

func (m Manifest) metadata() plugin.Metadata {
	api := m.APIVersion
	if api == "" {
		api = plugin.APIVersion
	}
	return plugin.Metadata{
		Name:        m.Name,
		DisplayName: m.DisplayName,
		Category:    m.Category,
		Version:     m.Version,
		APIVersion:  api,
		Description: m.Description,
		Author:      m.Author,
	}
}

func findManifest(dir string) string {
	for _, name := range manifestNames {
		path := filepath.Join(dir, name)
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			return path
		}
	}
	return ""
}

// ReadManifest 按扩展名解析 YAML 或 TOML 清单
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	if filepath.Ext(path) == ".toml" {
		if _, err := toml.DecodeFile(path, &m); err != nil {
			return m, fmt.Errorf("parse manifest %s: %w", path, err)
		}
		return m, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read manifest %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m, nil
}

func loadExecPlugin(dir, manifestPath string, defaultTimeout time.Duration) ([]plugin.Factory, error) {
	m, err := ReadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	if m.Name == "" {
		m.Name = filepath.Base(dir)
	}
	if m.Executable == "" {
		m.Executable = m.Name
	}
	bin := m.Executable
	if !filepath.IsAbs(bin) {
		bin = filepath.Join(dir, bin)
	}
	st, err := os.Stat(bin)
	if err != nil {
		return nil, fmt.Errorf("plugin executable: %w", err)
	}
	if st.IsDir() || st.Mode()&0o111 == 0 {
		return nil, fmt.Errorf("plugin executable %s is not executable", bin)
	}

	timeout := defaultTimeout
	if m.TimeoutMs > 0 {
		timeout = time.Duration(m.TimeoutMs) * time.Millisecond
	}
	ex := &executor{plugin: m.Name, path: bin, args: m.Args, dir: dir, timeout: timeout}

	switch m.Category {
	case plugin.CategoryCollector:
		return []plugin.Factory{plugin.Define(m.metadata(), func() (*ExecCollector, error) {
			return &ExecCollector{manifest: m, exec: ex}, nil
		})}, nil
	case plugin.CategoryFormatter:
		return []plugin.Factory{plugin.Define(m.metadata(), func() (*ExecFormatter, error) {
			return &ExecFormatter{manifest: m, exec: ex}, nil
		})}, nil
	default:
		return nil, fmt.Errorf("executable plugins support collector and formatter categories, got %q", m.Category)
	}
}

type execRequest struct {
	RequestID string           `json:"request_id"`
	Plugin    string           `json:"plugin"`
	Operation string           `json:"operation"`
	Config    map[string]any   `json:"config,omitempty"`
	Target    any              `json:"target,omitempty"`
	Snapshot  *plugin.Snapshot `json:"snapshot,omitempty"`
}

type execResponse struct {
	RequestID string         `json:"request_id"`
	Fields    map[string]any `json:"fields,omitempty"`
	Output    string         `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// executor 以 STDIN/STDOUT JSON 调用外部插件
type executor struct {
	plugin  string
	path    string
	args    []string
	dir     string
	timeout time.Duration
}

func (e *executor) call(ctx context.Context, req execRequest) (execResponse, error) {
	var resp execResponse

	req.RequestID = uuid.NewString()
	req.Plugin = e.plugin
	input, err := json.Marshal(req)
	if err != nil {
		return resp, fmt.Errorf("marshal request: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, e.path, e.args...)
	cmd.Dir = e.dir
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return resp, fmt.Errorf("plugin execution timed out after %v: %w", e.timeout, context.DeadlineExceeded)
	}
	if err != nil {
		return resp, fmt.Errorf("plugin execution failed: %w (stderr: %s)", err, bytes.TrimSpace(stderr.Bytes()))
	}

	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return resp, fmt.Errorf("parse plugin response: %w", err)
	}
	if resp.RequestID != "" && resp.RequestID != req.RequestID {
		return resp, fmt.Errorf("plugin response id %s does not match request %s", resp.RequestID, req.RequestID)
	}
	if resp.Error != "" {
		return resp, errors.New(resp.Error)
	}
	return resp, nil
}

// ExecCollector 外部可执行文件实现的采集插件
type ExecCollector struct {
	plugin.Base
	manifest Manifest
	exec     *executor
}

func (c *ExecCollector) TargetPane() string { return c.manifest.TargetPane }

// Collect 把目标对象交给外部程序，返回其补充的字段
func (c *ExecCollector) Collect(ctx context.Context, target any) (map[string]any, error) {
	resp, err := c.exec.call(ctx, execRequest{Operation: "collect", Config: c.Config(), Target: target})
	if err != nil {
		return nil, err
	}
	if resp.Fields == nil {
		return map[string]any{}, nil
	}
	return resp.Fields, nil
}

// ExecFormatter 外部可执行文件实现的格式化插件
type ExecFormatter struct {
	plugin.Base
	manifest Manifest
	exec     *executor
}

func (f *ExecFormatter) FormatName() string {
	if f.manifest.FormatName != "" {
		return f.manifest.FormatName
	}
	return f.manifest.Name
}

func (f *ExecFormatter) CLIFlag() string {
	if f.manifest.CLIFlag != "" {
		return f.manifest.CLIFlag
	}
	return "--" + f.FormatName()
}

func (f *ExecFormatter) FileExtension() string {
	if f.manifest.FileExtension != "" {
		return f.manifest.FileExtension
	}
	return ".txt"
}

func (f *ExecFormatter) Format(s plugin.Snapshot) (string, error) {
	resp, err := f.exec.call(context.Background(), execRequest{Operation: "format", Config: f.Config(), Snapshot: &s})
	if err != nil {
		return "", err
	}
	return resp.Output, nil
}
