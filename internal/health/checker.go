package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hewenyu/orbit-discovery/internal/config"
	"github.com/hewenyu/orbit-discovery/internal/core/model"
	"go.uber.org/zap"
)

// ErrDuplicateCheckID 表示检查ID已被其他实例占用。
// 检查与实例一一对应，共享ID会导致两个实例争用同一份计数状态。
var ErrDuplicateCheckID = errors.New("检查ID已被占用")

// Backend 是检查器向注册中心回写结果的通道。
// CommitStatus提交一次状态转换；AutoDeregister注销长期CRITICAL
// 的实例；Touch刷新实例心跳时间。
type Backend interface {
	CommitStatus(instanceID string, status model.InstanceStatus, detail string)
	AutoDeregister(instanceID string)
	Touch(instanceID string) bool
}

// checkState 是单个检查的运行时状态。计数器由检查器独占维护，
// 每次读写都持有自身的互斥锁，同一实例的状态转换因此是串行的。
type checkState struct {
	check      model.HealthCheck
	instanceID string
	cancel     context.CancelFunc

	mu            sync.Mutex
	status        model.InstanceStatus
	successes     int
	failures      int
	lastPass      time.Time
	criticalSince time.Time
}

// Checker 按各自的间隔调度主动探测，维护每个检查的成功/失败
// 连击计数，驱动实例状态转换，并在CRITICAL状态持续超限时自动
// 注销实例。
type Checker struct {
	backend       Backend
	logger        config.Logger
	probers       map[model.CheckKind]Prober
	sweepInterval time.Duration

	mu         sync.Mutex
	checks     map[string]*checkState // 按CheckID
	byInstance map[string]string      // InstanceID -> CheckID

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewChecker 创建一个健康检查器。默认挂载HTTP/TCP/脚本探测器，
// 可通过RegisterProber替换（测试注入假探测器）。
func NewChecker(backend Backend, logger config.Logger, sweepInterval time.Duration) *Checker {
	if sweepInterval <= 0 {
		sweepInterval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Checker{
		backend: backend,
		logger:  logger,
		probers: map[model.CheckKind]Prober{
			model.CheckHTTP:   NewHTTPProber(),
			model.CheckTCP:    NewTCPProber(),
			model.CheckScript: NewScriptProber(),
		},
		sweepInterval: sweepInterval,
		checks:        make(map[string]*checkState),
		byInstance:    make(map[string]string),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// RegisterProber 为指定检查类型挂载探测器实现
func (c *Checker) RegisterProber(kind model.CheckKind, prober Prober) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probers[kind] = prober
}

// Start 启动TTL与CRITICAL状态的巡检循环
func (c *Checker) Start() {
	c.wg.Add(1)
	go c.sweepLoop()
}

// Stop 停止所有探测循环并等待退出
func (c *Checker) Stop() {
	c.cancel()
	c.wg.Wait()
}

// AddCheck 挂载一个检查并开始调度。主动类型启动独立的探测协程；
// TTL类型只登记，由巡检循环检测过期。
// 检查ID已被占用时返回ErrDuplicateCheckID，不覆盖已有检查。
func (c *Checker) AddCheck(instanceID string, check *model.HealthCheck) error {
	ctx, cancel := context.WithCancel(c.ctx)
	st := &checkState{
		check:      *check,
		instanceID: instanceID,
		cancel:     cancel,
		status:     model.StatusUnknown,
		lastPass:   time.Now(),
	}

	c.mu.Lock()
	if _, exists := c.checks[check.CheckID]; exists {
		c.mu.Unlock()
		cancel()
		return ErrDuplicateCheckID
	}
	c.checks[check.CheckID] = st
	c.byInstance[instanceID] = check.CheckID
	c.mu.Unlock()

	if !check.IsPassive() {
		c.wg.Add(1)
		go c.runCheck(ctx, st)
	}

	c.logger.Debug("挂载健康检查",
		zap.String("check", check.CheckID),
		zap.String("instance", instanceID),
		zap.String("kind", string(check.Kind)))
	return nil
}

// HasCheck 判断检查ID是否已被占用
func (c *Checker) HasCheck(checkID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.checks[checkID]
	return ok
}

// RemoveCheck 卸载实例的检查并停止其探测循环
func (c *Checker) RemoveCheck(instanceID string) {
	c.mu.Lock()
	checkID, ok := c.byInstance[instanceID]
	var st *checkState
	if ok {
		st = c.checks[checkID]
		delete(c.byInstance, instanceID)
		delete(c.checks, checkID)
	}
	c.mu.Unlock()

	if st != nil {
		st.cancel()
	}
}

// Reset 重置实例检查的计数器并同步状态镜像。
// 维护模式进入/退出时由注册中心调用。
func (c *Checker) Reset(instanceID string, status model.InstanceStatus) {
	st := c.stateByInstance(instanceID)
	if st == nil {
		return
	}
	st.mu.Lock()
	st.status = status
	st.successes = 0
	st.failures = 0
	st.lastPass = time.Now()
	st.criticalSince = time.Time{}
	st.mu.Unlock()
}

// Pass 记录一次TTL检查的主动心跳。未知检查ID或非TTL检查
// 返回false（幂等无副作用）。
func (c *Checker) Pass(checkID string) bool {
	c.mu.Lock()
	st, ok := c.checks[checkID]
	c.mu.Unlock()
	if !ok || !st.check.IsPassive() {
		return false
	}

	st.mu.Lock()
	st.lastPass = time.Now()
	c.onSuccessLocked(st, "ttl心跳")
	st.mu.Unlock()

	c.backend.Touch(st.instanceID)
	return true
}

// runCheck 单个主动检查的调度循环
func (c *Checker) runCheck(ctx context.Context, st *checkState) {
	defer c.wg.Done()

	ticker := time.NewTicker(st.check.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probeOnce(ctx, st)
		}
	}
}

// probeOnce 执行一次探测并记录结果。探测带截止时间，超时的
// 探测被放弃并计为失败，绝不阻塞调度循环等待超时之后。
func (c *Checker) probeOnce(ctx context.Context, st *checkState) {
	st.mu.Lock()
	skip := st.status == model.StatusMaintenance
	st.mu.Unlock()
	if skip {
		return
	}

	c.mu.Lock()
	prober, ok := c.probers[st.check.Kind]
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("检查类型没有可用的探测器",
			zap.String("check", st.check.CheckID),
			zap.String("kind", string(st.check.Kind)))
		return
	}

	pctx, cancel := context.WithTimeout(ctx, st.check.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- prober.Probe(pctx, &st.check)
	}()

	var err error
	select {
	case err = <-done:
	case <-pctx.Done():
		// 超时的探测被放弃，结果不再等待
		err = pctx.Err()
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if err != nil {
		c.onFailureLocked(st, err.Error())
	} else {
		c.onSuccessLocked(st, "探测成功")
	}
}

// onSuccessLocked 记录一次成功，必要时驱动状态转换。
// 连续成功达到阈值是进入HEALTHY的唯一路径。
// 调用方必须持有st.mu。
func (c *Checker) onSuccessLocked(st *checkState, detail string) {
	if st.status == model.StatusMaintenance {
		return
	}

	st.successes++
	st.failures = 0

	if st.status != model.StatusHealthy && st.successes >= st.check.SuccessThreshold {
		c.transitionLocked(st, model.StatusHealthy, detail)
		st.successes = 0
	}
}

// onFailureLocked 记录一次失败，必要时驱动状态转换。
// 调用方必须持有st.mu。
func (c *Checker) onFailureLocked(st *checkState, detail string) {
	if st.status == model.StatusMaintenance {
		return
	}

	st.failures++
	st.successes = 0

	switch {
	case st.status == model.StatusHealthy && st.failures >= st.check.FailureThreshold:
		c.transitionLocked(st, model.StatusUnhealthy, detail)
	case st.status == model.StatusUnhealthy && st.failures >= st.check.FailureThreshold*2:
		c.transitionLocked(st, model.StatusCritical, detail)
	}
}

// transitionLocked 提交一次状态转换。提交发生在st.mu之下，
// 同一实例的转换及其事件因此保持产生顺序。
func (c *Checker) transitionLocked(st *checkState, status model.InstanceStatus, detail string) {
	st.status = status
	if status == model.StatusCritical {
		st.criticalSince = time.Now()
	} else {
		st.criticalSince = time.Time{}
	}
	c.backend.CommitStatus(st.instanceID, status, detail)
}

// sweepLoop 周期性检测TTL过期与CRITICAL超限
func (c *Checker) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep 对所有检查做一轮巡检。注销动作在释放全部锁之后执行，
// 避免与RemoveCheck相互等待。
func (c *Checker) sweep() {
	c.mu.Lock()
	states := make([]*checkState, 0, len(c.checks))
	for _, st := range c.checks {
		states = append(states, st)
	}
	c.mu.Unlock()

	now := time.Now()
	var expired []string

	for _, st := range states {
		st.mu.Lock()
		if st.status == model.StatusMaintenance {
			st.mu.Unlock()
			continue
		}

		// TTL检查：超过ttl未收到心跳则转入CRITICAL
		if st.check.IsPassive() && st.status != model.StatusCritical &&
			now.Sub(st.lastPass) > st.check.TTL {
			c.transitionLocked(st, model.StatusCritical, "ttl过期")
		}

		// CRITICAL持续超限的实例由检查器自动注销
		if st.status == model.StatusCritical && st.check.DeregisterCriticalAfter > 0 &&
			!st.criticalSince.IsZero() && now.Sub(st.criticalSince) > st.check.DeregisterCriticalAfter {
			expired = append(expired, st.instanceID)
		}
		st.mu.Unlock()
	}

	for _, instanceID := range expired {
		c.logger.Info("CRITICAL状态超限，自动注销实例",
			zap.String("instance", instanceID))
		c.backend.AutoDeregister(instanceID)
	}
}

// stateByInstance 按实例ID查找检查状态
func (c *Checker) stateByInstance(instanceID string) *checkState {
	c.mu.Lock()
	defer c.mu.Unlock()
	checkID, ok := c.byInstance[instanceID]
	if !ok {
		return nil
	}
	return c.checks[checkID]
}
