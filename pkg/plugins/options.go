package plugins

import (
	"fmt"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cast"
)

// secondsToDurationHook 数值按秒解析为 time.Duration（interval: 2.5）
func secondsToDurationHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	switch from.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		secs, err := cast.ToFloat64E(data)
		if err != nil {
			return nil, err
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	return data, nil
}

// decodeOptions 把 Initialize 收到的配置解码到 out，未知键忽略
func decodeOptions(cfg map[string]any, out any) error {
	if len(cfg) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode plugin options: %w", err)
	}
	return nil
}

// pidOf 从选中对象中取出 pid，支持 map 中的 "pid" 键或直接传入数值
func pidOf(target any) (int32, bool) {
	if m, ok := target.(map[string]any); ok {
		target, ok = m["pid"]
		if !ok {
			return 0, false
		}
	}
	pid, err := cast.ToInt32E(target)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
