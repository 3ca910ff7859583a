package log

import (
	"go.uber.org/zap"
)

const (
	FieldNameModule    = "module"
	FieldNameComponent = "component"
)

// FieldModule 返回一个包含模块名的 zap 字段。
func FieldModule(module string) zap.Field {
	return zap.String(FieldNameModule, module)
}

// FieldComponent 返回一个包含组件名的 zap 字段。
func FieldComponent(component string) zap.Field {
	return zap.String(FieldNameComponent, component)
}

// FieldUserID 返回一个包含用户 ID 的 zap 字段。
func FieldUserID(id string) zap.Field {
	return zap.String("user_id", id)
}

// FieldConnectionID 返回一个包含连接标识的 zap 字段。
func FieldConnectionID(id string) zap.Field {
	return zap.String("connection_id", id)
}
