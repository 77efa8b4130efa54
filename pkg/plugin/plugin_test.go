package plugin_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uptop/pkg/plugin"
)

type noopPlugin struct {
	plugin.Base
}

func TestParseAPIVersion(t *testing.T) {
	major, minor, err := plugin.ParseAPIVersion("1.2")
	require.NoError(t, err)
	assert.Equal(t, 1, major)
	assert.Equal(t, 2, minor)

	major, _, err = plugin.ParseAPIVersion("3")
	require.NoError(t, err)
	assert.Equal(t, 3, major)

	for _, bad := range []string{"", "x.1", "1.y", "-1.0"} {
		_, _, err := plugin.ParseAPIVersion(bad)
		assert.Error(t, err, bad)
	}
}

func TestAPICompatible(t *testing.T) {
	assert.True(t, plugin.APICompatible("1.0"))
	assert.True(t, plugin.APICompatible("1.7"))
	assert.False(t, plugin.APICompatible("2.0"))
	assert.False(t, plugin.APICompatible("0.9"))
	assert.False(t, plugin.APICompatible("garbage"))
}

func TestCategoryCapability(t *testing.T) {
	for _, c := range plugin.Categories {
		typ, ok := c.Capability()
		require.True(t, ok, c)
		assert.Equal(t, reflect.Interface, typ.Kind())
	}
	assert.False(t, plugin.Category("widget").Valid())
}

func TestBaseZeroValue(t *testing.T) {
	var p noopPlugin
	assert.True(t, p.Enabled())
	assert.False(t, p.Initialized())

	require.NoError(t, p.Initialize(map[string]any{"interval": 2.0}))
	assert.True(t, p.Initialized())
	v, ok := p.ConfigValue("interval")
	require.True(t, ok)
	assert.Equal(t, 2.0, v)

	p.SetEnabled(false)
	assert.False(t, p.Enabled())

	require.NoError(t, p.Shutdown())
	assert.False(t, p.Initialized())
}

func TestDefine(t *testing.T) {
	f := plugin.Define(plugin.Metadata{
		Name:        "noop",
		DisplayName: "Noop",
		Category:    plugin.CategoryAction,
		Version:     "0.1.0",
	}, func() (*noopPlugin, error) { return &noopPlugin{}, nil })

	assert.Equal(t, "noop", f.Name)
	assert.Equal(t, plugin.APIVersion, f.Metadata.APIVersion)
	assert.Equal(t, reflect.TypeOf(&noopPlugin{}), f.Type)
	assert.False(t, f.Deferred)
	assert.True(t, f.Defer().Deferred)

	p, err := f.New()
	require.NoError(t, err)
	assert.IsType(t, &noopPlugin{}, p)

	failing := plugin.Define(plugin.Metadata{Name: "bad"}, func() (*noopPlugin, error) {
		return nil, errors.New("no resources")
	})
	_, err = failing.New()
	require.Error(t, err)

	missing := plugin.Define[*noopPlugin](plugin.Metadata{Name: "missing"}, nil)
	assert.Nil(t, missing.New)
}
