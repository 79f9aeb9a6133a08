package model

import (
	"time"
)

// EventType 监听事件类型枚举
type EventType string

const (
	// EventRegister 实例注册事件
	EventRegister EventType = "register"
	// EventDeregister 实例注销事件
	EventDeregister EventType = "deregister"
	// EventHealthChange 实例健康状态变更事件
	EventHealthChange EventType = "health_change"
)

// WatchEvent 表示一次实例生命周期变更。
// 事件一经生成不再修改，订阅者只读消费。
type WatchEvent struct {
	EventType   EventType         `json:"event_type"`
	ServiceName string            `json:"service_name"`
	InstanceID  string            `json:"instance_id"`
	Timestamp   time.Time         `json:"timestamp"`
	Details     map[string]string `json:"details,omitempty"`
}
