package model

import (
	"time"
)

// InstanceStatus 实例健康状态枚举
type InstanceStatus string

const (
	// StatusUnknown 表示实例尚未完成任何健康检查
	StatusUnknown InstanceStatus = "unknown"
	// StatusHealthy 表示实例健康，可以接收流量
	StatusHealthy InstanceStatus = "healthy"
	// StatusUnhealthy 表示实例连续检查失败，已从解析结果中摘除
	StatusUnhealthy InstanceStatus = "unhealthy"
	// StatusCritical 表示实例长时间失联，等待自动注销
	StatusCritical InstanceStatus = "critical"
	// StatusMaintenance 表示实例处于维护模式，检查暂停
	StatusMaintenance InstanceStatus = "maintenance"
)

// ServiceDefinition 表示一个逻辑服务的定义
type ServiceDefinition struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	// DefaultCheck 是注册实例未携带检查定义时套用的模板
	DefaultCheck *HealthCheck `json:"default_check,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// ServiceInstance 表示一个服务实例
type ServiceInstance struct {
	InstanceID    string            `json:"instance_id"`
	ServiceName   string            `json:"service_name"`
	Address       string            `json:"address"`
	Port          int               `json:"port"`
	Tags          []string          `json:"tags,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Datacenter    string            `json:"datacenter,omitempty"`
	Weight        int               `json:"weight"`
	Status        InstanceStatus    `json:"status"`
	RegisteredAt  time.Time         `json:"registered_at"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
}

// Clone 返回实例的深拷贝，调用方可以安全持有
func (s *ServiceInstance) Clone() *ServiceInstance {
	if s == nil {
		return nil
	}
	out := *s
	if s.Tags != nil {
		out.Tags = append([]string(nil), s.Tags...)
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// HasTag 判断实例是否携带指定标签
func (s *ServiceInstance) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Endpoint 是实例的只读投影，交给负载均衡器与解析调用方使用。
// 它与可变的实例记录不共享任何引用，状态更新不会影响已返回的快照。
type Endpoint struct {
	InstanceID string            `json:"instance_id"`
	Address    string            `json:"address"`
	Port       int               `json:"port"`
	Weight     int               `json:"weight"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// EndpointFromInstance 从实例构造Endpoint投影
func EndpointFromInstance(inst *ServiceInstance) Endpoint {
	ep := Endpoint{
		InstanceID: inst.InstanceID,
		Address:    inst.Address,
		Port:       inst.Port,
		Weight:     inst.Weight,
	}
	if inst.Metadata != nil {
		ep.Metadata = make(map[string]string, len(inst.Metadata))
		for k, v := range inst.Metadata {
			ep.Metadata[k] = v
		}
	}
	return ep
}

// ServiceRegistrationRequest 表示服务实例注册请求
type ServiceRegistrationRequest struct {
	ServiceName string            `json:"service_name" binding:"required"`
	InstanceID  string            `json:"instance_id,omitempty"` // 为空时自动生成UUID
	Address     string            `json:"address" binding:"required"`
	Port        int               `json:"port" binding:"required,min=1,max=65535"`
	Tags        []string          `json:"tags,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Datacenter  string            `json:"datacenter,omitempty"`
	Weight      int               `json:"weight,omitempty"`
	Check       *HealthCheck      `json:"check,omitempty"`
}

// ApiResponse 表示通用API响应
type ApiResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
