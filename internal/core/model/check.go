package model

import (
	"time"
)

// CheckKind 健康检查类型枚举
type CheckKind string

const (
	// CheckHTTP 周期性发起HTTP GET，2xx/3xx视为成功
	CheckHTTP CheckKind = "http"
	// CheckTCP 周期性建立TCP连接，连通即成功
	CheckTCP CheckKind = "tcp"
	// CheckScript 周期性执行脚本，退出码0视为成功
	CheckScript CheckKind = "script"
	// CheckTTL 被动检查，由实例主动上报心跳
	CheckTTL CheckKind = "ttl"
)

// HealthCheck 表示绑定到单个实例的健康检查定义。
// 连续成功/失败计数由健康检查器独占维护，不出现在该结构中。
type HealthCheck struct {
	CheckID    string    `json:"check_id,omitempty"`
	InstanceID string    `json:"instance_id,omitempty"`
	Kind       CheckKind `json:"kind"`

	// Target 的含义随Kind变化：HTTP为URL，TCP为host:port，脚本为命令行。
	// TTL检查不使用该字段。
	Target string `json:"target,omitempty"`

	Interval time.Duration `json:"interval,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
	TTL      time.Duration `json:"ttl,omitempty"`

	SuccessThreshold int `json:"success_threshold,omitempty"`
	FailureThreshold int `json:"failure_threshold,omitempty"`

	// DeregisterCriticalAfter 为CRITICAL状态持续多久后自动注销实例；
	// 零值表示从不自动注销。
	DeregisterCriticalAfter time.Duration `json:"deregister_critical_after,omitempty"`
}

// Clone 返回检查定义的拷贝
func (c *HealthCheck) Clone() *HealthCheck {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

// IsPassive 判断检查是否为被动（TTL）类型
func (c *HealthCheck) IsPassive() bool {
	return c.Kind == CheckTTL
}
