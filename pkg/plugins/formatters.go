package plugins

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
	"gopkg.in/yaml.v3"

	"github.com/uptop/pkg/collector"
	"github.com/uptop/pkg/metrics"
	"github.com/uptop/pkg/plugin"
)

func formatterMeta(name, display, desc string) plugin.Metadata {
	return plugin.Metadata{
		Name:        name,
		DisplayName: display,
		Category:    plugin.CategoryFormatter,
		Version:     builtinVersion,
		APIVersion:  plugin.APIVersion,
		Enabled:     true,
		Description: desc,
		Author:      builtinAuthor,
	}
}

// ---------------------------------------------------------------- json

type jsonOptions struct {
	Pretty      *bool `mapstructure:"pretty"`
	PrettyPrint *bool `mapstructure:"pretty_print"`
}

// JSONFormatter JSON 输出，默认缩进
type JSONFormatter struct {
	plugin.Base

	mu     sync.RWMutex
	pretty bool
}

func NewJSONFormatter() (*JSONFormatter, error) {
	return &JSONFormatter{pretty: true}, nil
}

// JSONFormatterFactory JSON 格式插件定义
func JSONFormatterFactory() plugin.Factory {
	return plugin.Define(formatterMeta("json", "JSON Formatter", "Format snapshots as JSON"), NewJSONFormatter)
}

// Initialize 读取 pretty（兼容 pretty_print）
func (f *JSONFormatter) Initialize(cfg map[string]any) error {
	var opts jsonOptions
	if err := decodeOptions(cfg, &opts); err != nil {
		return err
	}
	f.mu.Lock()
	switch {
	case opts.Pretty != nil:
		f.pretty = *opts.Pretty
	case opts.PrettyPrint != nil:
		f.pretty = *opts.PrettyPrint
	}
	f.mu.Unlock()
	return f.Base.Initialize(cfg)
}

func (f *JSONFormatter) FormatName() string    { return "json" }
func (f *JSONFormatter) CLIFlag() string       { return "--json" }
func (f *JSONFormatter) FileExtension() string { return ".json" }

func (f *JSONFormatter) Format(s plugin.Snapshot) (string, error) {
	f.mu.RLock()
	pretty := f.pretty
	f.mu.RUnlock()

	var (
		out []byte
		err error
	)
	if pretty {
		out, err = json.MarshalIndent(s, "", "  ")
	} else {
		out, err = json.Marshal(s)
	}
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return string(out), nil
}

// ---------------------------------------------------------------- yaml

// YAMLFormatter YAML 输出
type YAMLFormatter struct {
	plugin.Base
}

func NewYAMLFormatter() (*YAMLFormatter, error) { return &YAMLFormatter{}, nil }

// YAMLFormatterFactory YAML 格式插件定义
func YAMLFormatterFactory() plugin.Factory {
	return plugin.Define(formatterMeta("yaml", "YAML Formatter", "Format snapshots as YAML"), NewYAMLFormatter)
}

func (f *YAMLFormatter) FormatName() string    { return "yaml" }
func (f *YAMLFormatter) CLIFlag() string       { return "--yaml" }
func (f *YAMLFormatter) FileExtension() string { return ".yaml" }

func (f *YAMLFormatter) Format(s plugin.Snapshot) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ---------------------------------------------------------------- prometheus

type prometheusOptions struct {
	Prefix      string `mapstructure:"prefix"`
	IncludeHelp *bool  `mapstructure:"include_help"`
}

// PrometheusFormatter Prometheus 文本格式输出
// 面板数据需实现 collector.Sampler，其余数据忽略
type PrometheusFormatter struct {
	plugin.Base

	mu          sync.RWMutex
	prefix      string
	includeHelp bool
}

func NewPrometheusFormatter() (*PrometheusFormatter, error) {
	return &PrometheusFormatter{prefix: metrics.Namespace, includeHelp: true}, nil
}

// PrometheusFormatterFactory Prometheus 格式插件定义
func PrometheusFormatterFactory() plugin.Factory {
	return plugin.Define(formatterMeta("prometheus", "Prometheus Formatter", "Format snapshots in Prometheus text exposition format"), NewPrometheusFormatter)
}

// Initialize 读取 prefix、include_help
func (f *PrometheusFormatter) Initialize(cfg map[string]any) error {
	var opts prometheusOptions
	if err := decodeOptions(cfg, &opts); err != nil {
		return err
	}
	f.mu.Lock()
	if opts.Prefix != "" {
		f.prefix = opts.Prefix
	}
	if opts.IncludeHelp != nil {
		f.includeHelp = *opts.IncludeHelp
	}
	f.mu.Unlock()
	return f.Base.Initialize(cfg)
}

func (f *PrometheusFormatter) FormatName() string    { return "prometheus" }
func (f *PrometheusFormatter) CLIFlag() string       { return "--prometheus" }
func (f *PrometheusFormatter) FileExtension() string { return ".prom" }

// Format 按指标名分组输出，所有样本带 host 标签与快照时间戳
func (f *PrometheusFormatter) Format(s plugin.Snapshot) (string, error) {
	f.mu.RLock()
	prefix, includeHelp := f.prefix, f.includeHelp
	f.mu.RUnlock()

	panes := make([]string, 0, len(s.Panes))
	for name := range s.Panes {
		panes = append(panes, name)
	}
	sort.Strings(panes)

	families := map[string]*dto.MetricFamily{}
	var order []string
	for _, pane := range panes {
		sampler, ok := s.Panes[pane].(collector.Sampler)
		if !ok {
			continue
		}
		for _, sample := range sampler.Samples() {
			if s.Hostname != "" {
				labels := make(map[string]string, len(sample.Labels)+1)
				for k, v := range sample.Labels {
					labels[k] = v
				}
				labels["host"] = s.Hostname
				sample.Labels = labels
			}
			m, err := metrics.ConstMetric(prefix, sample)
			if err != nil {
				return "", fmt.Errorf("pane %s metric %s: %w", pane, sample.Name, err)
			}
			var pb dto.Metric
			if err := m.Write(&pb); err != nil {
				return "", fmt.Errorf("pane %s metric %s: %w", pane, sample.Name, err)
			}
			if !s.Timestamp.IsZero() {
				pb.TimestampMs = proto.Int64(s.Timestamp.UnixMilli())
			}

			fqName := prefix + "_" + sample.Name
			if prefix == "" {
				fqName = sample.Name
			}
			mf, ok := families[fqName]
			if !ok {
				mf = &dto.MetricFamily{Name: proto.String(fqName), Type: dto.MetricType_GAUGE.Enum()}
				if sample.Counter {
					mf.Type = dto.MetricType_COUNTER.Enum()
				}
				if includeHelp && sample.Help != "" {
					mf.Help = proto.String(sample.Help)
				}
				families[fqName] = mf
				order = append(order, fqName)
			}
			mf.Metric = append(mf.Metric, &pb)
		}
	}

	var buf bytes.Buffer
	for _, name := range order {
		if _, err := expfmt.MetricFamilyToText(&buf, families[name]); err != nil {
			return "", fmt.Errorf("encode %s: %w", name, err)
		}
	}
	return buf.String(), nil
}
