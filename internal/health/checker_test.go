package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hewenyu/orbit-discovery/internal/config"
	"github.com/hewenyu/orbit-discovery/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProber 返回预设结果的确定性探测器
type fakeProber struct {
	mu  sync.Mutex
	err error
}

func (f *fakeProber) Probe(ctx context.Context, check *model.HealthCheck) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeProber) set(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// slowProber 阻塞到超出探测截止时间
type slowProber struct{}

func (slowProber) Probe(ctx context.Context, check *model.HealthCheck) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
		return nil
	}
}

// fakeBackend 记录检查器的全部回写
type fakeBackend struct {
	mu           sync.Mutex
	transitions  []model.InstanceStatus
	deregistered []string
	touched      int
}

func (b *fakeBackend) CommitStatus(instanceID string, status model.InstanceStatus, detail string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitions = append(b.transitions, status)
}

func (b *fakeBackend) AutoDeregister(instanceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deregistered = append(b.deregistered, instanceID)
}

func (b *fakeBackend) Touch(instanceID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.touched++
	return true
}

func (b *fakeBackend) statuses() []model.InstanceStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.InstanceStatus(nil), b.transitions...)
}

func (b *fakeBackend) deregisteredIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.deregistered...)
}

func newTestChecker(t *testing.T, prober Prober) (*Checker, *fakeBackend) {
	t.Helper()
	backend := &fakeBackend{}
	c := NewChecker(backend, config.NewNopLogger(), time.Hour)
	c.RegisterProber(model.CheckHTTP, prober)
	return c, backend
}

// addManualCheck 挂载一个不自动调度的检查，测试手动驱动探测周期
func addManualCheck(c *Checker, check *model.HealthCheck) *checkState {
	_, cancel := context.WithCancel(context.Background())
	st := &checkState{
		check:      *check,
		instanceID: check.InstanceID,
		cancel:     cancel,
		status:     model.StatusUnknown,
		lastPass:   time.Now(),
	}
	c.mu.Lock()
	c.checks[check.CheckID] = st
	c.byInstance[check.InstanceID] = check.CheckID
	c.mu.Unlock()
	return st
}

func httpCheck(successThreshold, failureThreshold int) *model.HealthCheck {
	return &model.HealthCheck{
		CheckID:          "check-1",
		InstanceID:       "inst-1",
		Kind:             model.CheckHTTP,
		Target:           "http://127.0.0.1:1/health",
		Interval:         time.Hour,
		Timeout:          50 * time.Millisecond,
		SuccessThreshold: successThreshold,
		FailureThreshold: failureThreshold,
	}
}

func TestChecker_SuccessThresholdExact(t *testing.T) {
	prober := &fakeProber{}
	c, backend := newTestChecker(t, prober)
	st := addManualCheck(c, httpCheck(3, 2))

	// k-1次连续成功不触发转换
	c.probeOnce(context.Background(), st)
	c.probeOnce(context.Background(), st)
	assert.Empty(t, backend.statuses())

	// 恰好第k次成功转入HEALTHY
	c.probeOnce(context.Background(), st)
	require.Equal(t, []model.InstanceStatus{model.StatusHealthy}, backend.statuses())
}

func TestChecker_FailureThresholdWhileHealthy(t *testing.T) {
	prober := &fakeProber{}
	c, backend := newTestChecker(t, prober)
	st := addManualCheck(c, httpCheck(1, 3))

	// 先进入HEALTHY
	c.probeOnce(context.Background(), st)
	require.Equal(t, []model.InstanceStatus{model.StatusHealthy}, backend.statuses())

	// 连续失败k次转入UNHEALTHY；前k-1次静默
	prober.set(errors.New("连接被拒绝"))
	c.probeOnce(context.Background(), st)
	c.probeOnce(context.Background(), st)
	assert.Equal(t, []model.InstanceStatus{model.StatusHealthy}, backend.statuses())

	c.probeOnce(context.Background(), st)
	assert.Equal(t, []model.InstanceStatus{model.StatusHealthy, model.StatusUnhealthy}, backend.statuses())
}

func TestChecker_FailureStreakInterruptedBySuccess(t *testing.T) {
	prober := &fakeProber{}
	c, backend := newTestChecker(t, prober)
	st := addManualCheck(c, httpCheck(1, 3))

	c.probeOnce(context.Background(), st) // healthy

	// 失败计数被一次成功打断后重新累计
	prober.set(errors.New("超时"))
	c.probeOnce(context.Background(), st)
	c.probeOnce(context.Background(), st)
	prober.set(nil)
	c.probeOnce(context.Background(), st)
	prober.set(errors.New("超时"))
	c.probeOnce(context.Background(), st)
	c.probeOnce(context.Background(), st)

	// 始终没有凑满3连败，状态保持HEALTHY
	assert.Equal(t, []model.InstanceStatus{model.StatusHealthy}, backend.statuses())
}

func TestChecker_EscalatesToCritical(t *testing.T) {
	prober := &fakeProber{}
	c, backend := newTestChecker(t, prober)
	st := addManualCheck(c, httpCheck(1, 2))

	c.probeOnce(context.Background(), st) // healthy

	prober.set(errors.New("连接被拒绝"))
	// 2次失败 → UNHEALTHY；累计4次失败 → CRITICAL
	for i := 0; i < 4; i++ {
		c.probeOnce(context.Background(), st)
	}

	assert.Equal(t, []model.InstanceStatus{
		model.StatusHealthy,
		model.StatusUnhealthy,
		model.StatusCritical,
	}, backend.statuses())
}

func TestChecker_RecoveryIsOnlyPathToHealthy(t *testing.T) {
	prober := &fakeProber{}
	c, backend := newTestChecker(t, prober)
	st := addManualCheck(c, httpCheck(2, 2))

	prober.set(errors.New("拒绝"))
	c.probeOnce(context.Background(), st)
	c.probeOnce(context.Background(), st)
	// UNKNOWN状态下失败不产生转换
	assert.Empty(t, backend.statuses())

	// 非HEALTHY状态下连续成功达到阈值是进入HEALTHY的唯一路径
	prober.set(nil)
	c.probeOnce(context.Background(), st)
	assert.Empty(t, backend.statuses())
	c.probeOnce(context.Background(), st)
	assert.Equal(t, []model.InstanceStatus{model.StatusHealthy}, backend.statuses())
}

func TestChecker_ProbeTimeoutCountsAsFailure(t *testing.T) {
	c, backend := newTestChecker(t, slowProber{})
	st := addManualCheck(c, httpCheck(1, 1))

	c.probeOnce(context.Background(), st) // unknown下的失败静默

	st.mu.Lock()
	failures := st.failures
	st.mu.Unlock()

	// 超时的探测被放弃并计为一次失败，probeOnce不等待探测器返回
	assert.Equal(t, 1, failures)
	assert.Empty(t, backend.statuses())
}

func TestChecker_MaintenanceSkipsProbes(t *testing.T) {
	prober := &fakeProber{}
	c, backend := newTestChecker(t, prober)
	st := addManualCheck(c, httpCheck(1, 1))

	c.Reset("inst-1", model.StatusMaintenance)
	c.probeOnce(context.Background(), st)
	c.probeOnce(context.Background(), st)

	// 维护模式下探测结果不驱动任何转换
	assert.Empty(t, backend.statuses())
}

func ttlCheck(ttl, deregisterAfter time.Duration) *model.HealthCheck {
	return &model.HealthCheck{
		CheckID:                 "ttl-1",
		InstanceID:              "inst-1",
		Kind:                    model.CheckTTL,
		TTL:                     ttl,
		SuccessThreshold:        1,
		FailureThreshold:        1,
		DeregisterCriticalAfter: deregisterAfter,
	}
}

func TestChecker_TTLExpiryGoesCritical(t *testing.T) {
	backend := &fakeBackend{}
	c := NewChecker(backend, config.NewNopLogger(), time.Hour)
	require.NoError(t, c.AddCheck("inst-1", ttlCheck(30*time.Millisecond, 0)))

	// 未到期的巡检不产生转换
	c.sweep()
	assert.Empty(t, backend.statuses())

	time.Sleep(50 * time.Millisecond)
	c.sweep()
	assert.Equal(t, []model.InstanceStatus{model.StatusCritical}, backend.statuses())
}

func TestChecker_TTLPassRecovers(t *testing.T) {
	backend := &fakeBackend{}
	c := NewChecker(backend, config.NewNopLogger(), time.Hour)
	require.NoError(t, c.AddCheck("inst-1", ttlCheck(30*time.Millisecond, 0)))

	time.Sleep(50 * time.Millisecond)
	c.sweep()
	require.Equal(t, []model.InstanceStatus{model.StatusCritical}, backend.statuses())

	// 心跳把实例带回HEALTHY并刷新lastPass
	require.True(t, c.Pass("ttl-1"))
	assert.Equal(t, []model.InstanceStatus{model.StatusCritical, model.StatusHealthy}, backend.statuses())
	assert.Equal(t, 1, backend.touched)

	c.sweep()
	assert.Len(t, backend.statuses(), 2, "刚心跳过的检查不应再次过期")
}

func TestChecker_PassUnknownOrActiveCheck(t *testing.T) {
	prober := &fakeProber{}
	c, _ := newTestChecker(t, prober)
	addManualCheck(c, httpCheck(1, 1))

	// 未知检查与主动检查都不能接受心跳
	assert.False(t, c.Pass("no-such-check"))
	assert.False(t, c.Pass("check-1"))
}

func TestChecker_CriticalAutoDeregister(t *testing.T) {
	backend := &fakeBackend{}
	c := NewChecker(backend, config.NewNopLogger(), time.Hour)
	require.NoError(t, c.AddCheck("inst-1", ttlCheck(20*time.Millisecond, 40*time.Millisecond)))

	time.Sleep(30 * time.Millisecond)
	c.sweep()
	require.Equal(t, []model.InstanceStatus{model.StatusCritical}, backend.statuses())
	assert.Empty(t, backend.deregisteredIDs())

	// CRITICAL持续超过限额后由检查器自动注销
	time.Sleep(50 * time.Millisecond)
	c.sweep()
	assert.Equal(t, []string{"inst-1"}, backend.deregisteredIDs())
}

func TestChecker_RemoveCheckStopsTracking(t *testing.T) {
	backend := &fakeBackend{}
	c := NewChecker(backend, config.NewNopLogger(), time.Hour)
	require.NoError(t, c.AddCheck("inst-1", ttlCheck(10*time.Millisecond, 0)))

	c.RemoveCheck("inst-1")
	time.Sleep(30 * time.Millisecond)
	c.sweep()

	assert.Empty(t, backend.statuses())
	assert.False(t, c.Pass("ttl-1"))
}

func TestChecker_AddCheckRejectsDuplicateID(t *testing.T) {
	backend := &fakeBackend{}
	c := NewChecker(backend, config.NewNopLogger(), time.Hour)
	require.NoError(t, c.AddCheck("inst-1", ttlCheck(time.Hour, 0)))
	require.True(t, c.HasCheck("ttl-1"))

	// 第二个实例不能复用已占用的检查ID
	second := ttlCheck(time.Hour, 0)
	second.InstanceID = "inst-2"
	err := c.AddCheck("inst-2", second)
	require.ErrorIs(t, err, ErrDuplicateCheckID)

	// 被拒绝的挂载不留痕迹：inst-2没有状态，inst-1的检查不受影响
	assert.Nil(t, c.stateByInstance("inst-2"))
	c.RemoveCheck("inst-2")
	assert.True(t, c.Pass("ttl-1"))
	require.NotNil(t, c.stateByInstance("inst-1"))
}
