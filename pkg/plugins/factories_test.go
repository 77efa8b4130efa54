package plugins_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uptop/pkg/plugin"
	"github.com/uptop/pkg/plugins"
	"github.com/uptop/pkg/registry"
)

func TestBuiltinFactoriesValidate(t *testing.T) {
	factories := []plugin.Factory{
		plugins.CPUPaneFactory(),
		plugins.MemoryPaneFactory(),
		plugins.DiskPaneFactory(),
		plugins.NetworkPaneFactory(),
		plugins.ProcessesPaneFactory(),
		plugins.ProcessDetailsFactory(),
		plugins.JSONFormatterFactory(),
		plugins.YAMLFormatterFactory(),
		plugins.PrometheusFormatterFactory(),
		plugins.KillProcessFactory(),
	}
	for _, f := range factories {
		t.Run(f.Name, func(t *testing.T) {
			require.NoError(t, registry.Validate(f))
		})
	}
}

func TestPanesExposeProviders(t *testing.T) {
	r := registry.New()
	_, err := r.Register(plugins.DiskPaneFactory(), "builtin:disk")
	require.NoError(t, err)

	p, err := r.Pane("disk")
	require.NoError(t, err)
	src, ok := p.(plugin.ProviderSource)
	require.True(t, ok)
	assert.Equal(t, "disk", src.Provider().Name())
	assert.Equal(t, p.Schema(), src.Provider().Schema())

	r.InitializeAll(map[string]map[string]any{"disk": {"interval": "10s", "include_virtual": true}}, nil)
	assert.True(t, p.Initialized())
	assert.Equal(t, "10s", src.Provider().Interval().String())
}
