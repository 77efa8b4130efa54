package registry

import (
	"reflect"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/uptop/pkg/plugin"
)

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

var valid = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("plugin_name", func(fl validator.FieldLevel) bool {
		return namePattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate 按顺序校验插件定义：
// 具体可实例化类型 -> 实现分类能力接口 -> 名称/显示名/版本 -> API 主版本 -> 元数据名与声明名一致
func Validate(f plugin.Factory) error {
	name := f.Name
	if name == "" {
		name = f.Metadata.Name
	}

	if f.Type == nil || f.New == nil {
		return errorf(ErrValidation, name, "definition has no constructor")
	}
	if f.Type.Kind() == reflect.Interface {
		return errorf(ErrValidation, name, "%s is an interface, not a concrete type", f.Type)
	}

	capability, ok := f.Metadata.Category.Capability()
	if !ok {
		return errorf(ErrValidation, name, "unknown category %q", f.Metadata.Category)
	}
	if !f.Type.Implements(capability) {
		return errorf(ErrValidation, name, "%s does not implement %s", f.Type, capability)
	}

	if err := valid.Struct(f.Metadata); err != nil {
		return newError(ErrValidation, name, err)
	}

	if !plugin.APICompatible(f.Metadata.APIVersion) {
		return errorf(ErrValidation, name, "api version %q is incompatible with %s", f.Metadata.APIVersion, plugin.APIVersion)
	}

	if f.Metadata.Name != f.Name {
		return errorf(ErrValidation, name, "metadata name %q does not match declared name %q", f.Metadata.Name, f.Name)
	}
	return nil
}
