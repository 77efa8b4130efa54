package registry

import (
	"fmt"
	goplugin "plugin"

	"github.com/uptop/pkg/plugin"
)

// SymbolName Go plugin 需要导出的符号：func UptopPlugins() []plugin.Factory
const SymbolName = "UptopPlugins"

func openGoPlugin(path string) ([]plugin.Factory, error) {
	p, err := goplugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open go plugin: %w", err)
	}
	sym, err := p.Lookup(SymbolName)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", SymbolName, err)
	}

	var fn func() []plugin.Factory
	switch v := sym.(type) {
	case func() []plugin.Factory:
		fn = v
	case *func() []plugin.Factory:
		if v != nil {
			fn = *v
		}
	}
	if fn == nil {
		return nil, fmt.Errorf("%s has type %T, want func() []plugin.Factory", SymbolName, sym)
	}

	factories := fn()
	if len(factories) == 0 {
		return nil, fmt.Errorf("%s returned no plugins", SymbolName)
	}
	return factories, nil
}
