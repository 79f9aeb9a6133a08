package registry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hewenyu/orbit-discovery/internal/balancer"
	"github.com/hewenyu/orbit-discovery/internal/config"
	"github.com/hewenyu/orbit-discovery/internal/core/model"
	"github.com/hewenyu/orbit-discovery/internal/dnsview"
	"github.com/hewenyu/orbit-discovery/internal/health"
	"github.com/hewenyu/orbit-discovery/internal/watch"
	"go.uber.org/zap"
)

// Registry 是服务发现核心的门面：Catalog存储、健康检查器、
// 负载均衡器、DNS视图和事件管理器在此组装。注册中心按实例
// 构造、按引用传递，一个进程内可以同时存在多个独立实例。
type Registry struct {
	cfg     *config.Config
	logger  config.Logger
	catalog *Catalog
	picker  *balancer.Picker
	watcher *watch.Manager
	checker *health.Checker
}

// Option 定制Registry构造
type Option func(*Registry)

// WithProber 替换指定检查类型的探测器（测试注入假探测器）
func WithProber(kind model.CheckKind, prober health.Prober) Option {
	return func(r *Registry) {
		r.checker.RegisterProber(kind, prober)
	}
}

// New 创建一个注册中心实例
func New(cfg *config.Config, logger config.Logger, opts ...Option) *Registry {
	r := &Registry{
		cfg:     cfg,
		logger:  logger,
		catalog: NewCatalog(),
		picker:  balancer.NewPicker(),
		watcher: watch.NewManager(cfg.Registry.WatchBufferSize, logger),
	}
	r.checker = health.NewChecker(&checkerBackend{registry: r}, logger, cfg.Registry.SweepInterval)

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start 启动健康检查调度
func (r *Registry) Start() {
	r.checker.Start()
	r.logger.Info("注册中心已启动",
		zap.Duration("sweep_interval", r.cfg.Registry.SweepInterval))
}

// Stop 停止健康检查调度并关闭事件订阅
func (r *Registry) Stop() {
	r.checker.Stop()
	r.watcher.Close()
	r.logger.Info("注册中心已停止")
}

// DefineService 创建或更新服务定义
func (r *Registry) DefineService(ctx context.Context, def *model.ServiceDefinition) (*model.ServiceDefinition, error) {
	stored, err := r.catalog.DefineService(def)
	if err != nil {
		return nil, err
	}
	r.logger.Info("服务定义已更新", zap.String("service", stored.Name))
	return stored, nil
}

// Register 注册一个服务实例，可附带健康检查定义。
// 实例ID为空时自动生成UUID；ID冲突返回错误。
func (r *Registry) Register(ctx context.Context, req *model.ServiceRegistrationRequest) (*model.ServiceInstance, error) {
	if req == nil || req.ServiceName == "" || req.Address == "" {
		return nil, NewInvalidArgumentError("服务名称和地址不能为空")
	}
	if req.Port <= 0 || req.Port > 65535 {
		return nil, NewInvalidArgumentError("端口必须在1-65535之间")
	}

	instanceID := req.InstanceID
	if instanceID == "" {
		instanceID = uuid.New().String()
	}

	check, err := r.buildCheck(req, instanceID)
	if err != nil {
		return nil, err
	}
	// 检查与实例一一对应，冲突的检查ID在插入实例之前拒绝
	if check != nil && r.checker.HasCheck(check.CheckID) {
		return nil, NewDuplicateCheckError("检查ID已被其他实例占用: " + check.CheckID)
	}

	weight := req.Weight
	if weight <= 0 {
		weight = 1
	}

	// 带检查的实例从UNKNOWN起步，由探测结果驱动进入HEALTHY；
	// 无检查的实例直接视为健康
	status := model.StatusHealthy
	if check != nil {
		status = model.StatusUnknown
	}

	now := time.Now()
	inst := &model.ServiceInstance{
		InstanceID:    instanceID,
		ServiceName:   req.ServiceName,
		Address:       req.Address,
		Port:          req.Port,
		Tags:          req.Tags,
		Metadata:      req.Metadata,
		Datacenter:    req.Datacenter,
		Weight:        weight,
		Status:        status,
		RegisteredAt:  now,
		LastHeartbeat: now,
	}

	if err := r.catalog.Insert(inst); err != nil {
		return nil, err
	}

	r.emit(model.EventRegister, inst.ServiceName, inst.InstanceID, map[string]string{
		"address":    inst.Address,
		"datacenter": inst.Datacenter,
	})

	if check != nil {
		// 并发注册仍可能撞上同一检查ID，此时回滚实例插入，
		// 不留下没有检查的实例
		if err := r.checker.AddCheck(instanceID, check); err != nil {
			r.deregister(instanceID, "duplicate_check")
			return nil, NewDuplicateCheckError("检查ID已被其他实例占用: " + check.CheckID)
		}
	}

	r.logger.Info("服务实例注册成功",
		zap.String("service", inst.ServiceName),
		zap.String("instance", inst.InstanceID),
		zap.String("address", inst.Address),
		zap.Int("port", inst.Port))

	return inst.Clone(), nil
}

// buildCheck 确定实例的检查定义：优先使用请求携带的定义，
// 否则套用服务定义的默认模板，并补齐缺省参数
func (r *Registry) buildCheck(req *model.ServiceRegistrationRequest, instanceID string) (*model.HealthCheck, error) {
	check := req.Check.Clone()
	if check == nil {
		if def, ok := r.catalog.GetDefinition(req.ServiceName); ok {
			check = def.DefaultCheck.Clone()
		}
	}
	if check == nil {
		return nil, nil
	}

	switch check.Kind {
	case model.CheckHTTP, model.CheckTCP, model.CheckScript:
		if check.Target == "" {
			return nil, NewInvalidArgumentError("主动检查必须指定探测目标")
		}
	case model.CheckTTL:
		if check.TTL <= 0 {
			return nil, NewInvalidArgumentError("TTL检查必须指定ttl时长")
		}
	default:
		return nil, NewInvalidArgumentError("未知的检查类型: " + string(check.Kind))
	}

	reg := r.cfg.Registry
	if check.Interval <= 0 {
		check.Interval = reg.DefaultCheckInterval
	}
	if check.Timeout <= 0 {
		check.Timeout = reg.DefaultCheckTimeout
	}
	if check.SuccessThreshold <= 0 {
		check.SuccessThreshold = reg.DefaultSuccessThreshold
	}
	if check.FailureThreshold <= 0 {
		check.FailureThreshold = reg.DefaultFailureThreshold
	}

	// 调用方可以自带检查ID（TTL心跳需要已知ID），否则自动生成
	if check.CheckID == "" {
		check.CheckID = uuid.New().String()
	}
	check.InstanceID = instanceID
	return check, nil
}

// Deregister 注销服务实例。未知ID返回false，不视为错误。
func (r *Registry) Deregister(ctx context.Context, instanceID string) bool {
	return r.deregister(instanceID, "manual")
}

func (r *Registry) deregister(instanceID, reason string) bool {
	r.checker.RemoveCheck(instanceID)

	inst, ok := r.catalog.Remove(instanceID)
	if !ok {
		return false
	}

	r.emit(model.EventDeregister, inst.ServiceName, inst.InstanceID, map[string]string{
		"reason": reason,
	})

	r.logger.Info("服务实例已注销",
		zap.String("service", inst.ServiceName),
		zap.String("instance", inst.InstanceID),
		zap.String("reason", reason))
	return true
}

// GetInstances 查询服务实例，可按标签、数据中心过滤
func (r *Registry) GetInstances(ctx context.Context, serviceName string, tags []string, datacenter string, healthyOnly bool) []*model.ServiceInstance {
	return r.catalog.List(serviceName, tags, datacenter, healthyOnly)
}

// Resolve 返回服务当前健康实例的端点快照。故障期间返回更少
// （或零个）端点是设计内的背压信号，不是错误。
func (r *Registry) Resolve(ctx context.Context, serviceName string, tags []string, datacenter string) []model.Endpoint {
	instances := r.catalog.List(serviceName, tags, datacenter, true)
	endpoints := make([]model.Endpoint, 0, len(instances))
	for _, inst := range instances {
		endpoints = append(endpoints, model.EndpointFromInstance(inst))
	}
	return endpoints
}

// ResolveOne 解析服务并按策略选出一个端点。
// 没有健康端点时返回NotFound错误。
func (r *Registry) ResolveOne(ctx context.Context, serviceName string, strategy balancer.Strategy, key string) (model.Endpoint, error) {
	endpoints := r.Resolve(ctx, serviceName, nil, "")
	ep, err := r.picker.Select(endpoints, strategy, key)
	if err == balancer.ErrNoEndpoints {
		return model.Endpoint{}, NewNotFoundError("服务没有可用端点: " + serviceName)
	}
	return ep, err
}

// GetDNSRecords 把服务的健康实例投影为SRV/A记录集
func (r *Registry) GetDNSRecords(ctx context.Context, serviceName string, kind dnsview.RecordKind) []dnsview.Record {
	endpoints := r.Resolve(ctx, serviceName, nil, "")
	return dnsview.Project(serviceName, endpoints, kind, r.cfg.DNS.RecordTTL)
}

// ServiceNames 返回所有存在实例的服务名称
func (r *Registry) ServiceNames(ctx context.Context) []string {
	return r.catalog.ServiceNames()
}

// Watch 订阅服务的生命周期事件，pattern为服务名或"*"
func (r *Registry) Watch(pattern string, callback watch.Callback) string {
	return r.watcher.Watch(pattern, callback)
}

// Unwatch 取消订阅
func (r *Registry) Unwatch(subscriptionID string) bool {
	return r.watcher.Unwatch(subscriptionID)
}

// PassTTL 记录一次TTL检查的心跳。未知检查ID返回false。
func (r *Registry) PassTTL(ctx context.Context, checkID string) bool {
	return r.checker.Pass(checkID)
}

// EnableMaintenance 将实例置于维护模式，检查暂停、
// 解析结果中摘除
func (r *Registry) EnableMaintenance(ctx context.Context, instanceID, reason string) bool {
	// 先重置检查器镜像再写Catalog：镜像进入MAINTENANCE后在途的
	// 探测结果不再提交，维护状态不会被探测路径覆盖
	r.checker.Reset(instanceID, model.StatusMaintenance)
	inst, old, changed := r.catalog.SetStatus(instanceID, model.StatusMaintenance)
	if !changed {
		return false
	}
	r.emit(model.EventHealthChange, inst.ServiceName, inst.InstanceID, map[string]string{
		"old_status": string(old),
		"new_status": string(model.StatusMaintenance),
		"detail":     reason,
	})
	return true
}

// DisableMaintenance 解除维护模式，实例回到UNKNOWN并重新
// 接受健康检查。未处于维护模式的实例不受影响。
func (r *Registry) DisableMaintenance(ctx context.Context, instanceID string) bool {
	inst, changed := r.catalog.SetStatusIf(instanceID, model.StatusMaintenance, model.StatusUnknown)
	if !changed {
		return false
	}
	r.checker.Reset(instanceID, model.StatusUnknown)
	r.emit(model.EventHealthChange, inst.ServiceName, inst.InstanceID, map[string]string{
		"old_status": string(model.StatusMaintenance),
		"new_status": string(model.StatusUnknown),
	})
	return true
}

// emit 生成并发布一条事件
func (r *Registry) emit(eventType model.EventType, serviceName, instanceID string, details map[string]string) {
	r.watcher.Notify(model.WatchEvent{
		EventType:   eventType,
		ServiceName: serviceName,
		InstanceID:  instanceID,
		Timestamp:   time.Now(),
		Details:     details,
	})
}

// checkerBackend 把检查器的回写适配到注册中心
type checkerBackend struct {
	registry *Registry
}

// CommitStatus 提交状态转换；每次真实转换恰好发布一条
// health_change事件
func (b *checkerBackend) CommitStatus(instanceID string, status model.InstanceStatus, detail string) {
	r := b.registry
	inst, old, changed := r.catalog.SetStatus(instanceID, status)
	if !changed {
		return
	}

	r.logger.Info("实例健康状态变更",
		zap.String("service", inst.ServiceName),
		zap.String("instance", inst.InstanceID),
		zap.String("old", string(old)),
		zap.String("new", string(status)))

	r.emit(model.EventHealthChange, inst.ServiceName, inst.InstanceID, map[string]string{
		"old_status": string(old),
		"new_status": string(status),
		"detail":     detail,
	})
}

// AutoDeregister 由检查器在CRITICAL超限时调用
func (b *checkerBackend) AutoDeregister(instanceID string) {
	b.registry.deregister(instanceID, "deregister_critical")
}

// Touch 刷新实例心跳时间
func (b *checkerBackend) Touch(instanceID string) bool {
	return b.registry.catalog.Touch(instanceID)
}
