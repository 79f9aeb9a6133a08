package registry

import (
	"testing"
	"time"

	"github.com/hewenyu/orbit-discovery/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInstance(id, service string) *model.ServiceInstance {
	return &model.ServiceInstance{
		InstanceID:    id,
		ServiceName:   service,
		Address:       "192.168.1.10",
		Port:          8080,
		Tags:          []string{"v1", "grpc"},
		Datacenter:    "dc1",
		Weight:        1,
		Status:        model.StatusHealthy,
		RegisteredAt:  time.Now(),
		LastHeartbeat: time.Now(),
	}
}

func TestCatalog_InsertAndGet(t *testing.T) {
	c := NewCatalog()

	inst := testInstance("inst-1", "api")
	require.NoError(t, c.Insert(inst))

	saved, ok := c.Get("inst-1")
	require.True(t, ok)
	assert.Equal(t, "api", saved.ServiceName)
	assert.Equal(t, []string{"v1", "grpc"}, saved.Tags)

	// 返回的是拷贝，修改不影响存储
	saved.Tags[0] = "mutated"
	again, _ := c.Get("inst-1")
	assert.Equal(t, "v1", again.Tags[0])
}

func TestCatalog_InsertDuplicate(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Insert(testInstance("inst-1", "api")))

	err := c.Insert(testInstance("inst-1", "api"))
	require.Error(t, err)
	assert.True(t, IsDuplicateInstance(err))
}

func TestCatalog_InsertInvalid(t *testing.T) {
	c := NewCatalog()
	assert.Error(t, c.Insert(nil))
	assert.Error(t, c.Insert(&model.ServiceInstance{ServiceName: "api"}))
	assert.Error(t, c.Insert(&model.ServiceInstance{InstanceID: "x"}))
}

func TestCatalog_RemoveScrubsAllIndexes(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Insert(testInstance("inst-1", "api")))
	require.NoError(t, c.Insert(testInstance("inst-2", "api")))

	_, ok := c.Remove("inst-1")
	require.True(t, ok)

	// 主表与每个索引都不再引用被注销的ID
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.instances["inst-1"]
	assert.False(t, exists)
	for key, set := range c.byService {
		_, referenced := set["inst-1"]
		assert.False(t, referenced, "服务索引 %s 仍引用已注销实例", key)
	}
	for key, set := range c.byDatacenter {
		_, referenced := set["inst-1"]
		assert.False(t, referenced, "数据中心索引 %s 仍引用已注销实例", key)
	}
	for key, set := range c.byTag {
		_, referenced := set["inst-1"]
		assert.False(t, referenced, "标签索引 %s 仍引用已注销实例", key)
	}
}

func TestCatalog_RemoveLastInstanceDropsIndexKeys(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Insert(testInstance("inst-1", "api")))

	_, ok := c.Remove("inst-1")
	require.True(t, ok)

	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.Empty(t, c.byService)
	assert.Empty(t, c.byDatacenter)
	assert.Empty(t, c.byTag)
}

func TestCatalog_RemoveUnknownIsIdempotent(t *testing.T) {
	c := NewCatalog()
	inst, ok := c.Remove("no-such-instance")
	assert.False(t, ok)
	assert.Nil(t, inst)
}

func TestCatalog_ListFilters(t *testing.T) {
	c := NewCatalog()

	a := testInstance("inst-a", "api")
	b := testInstance("inst-b", "api")
	b.Datacenter = "dc2"
	b.Tags = []string{"v2"}
	d := testInstance("inst-c", "api")
	d.Status = model.StatusUnhealthy
	require.NoError(t, c.Insert(a))
	require.NoError(t, c.Insert(b))
	require.NoError(t, c.Insert(d))

	// 不过滤时返回全部
	assert.Len(t, c.List("api", nil, "", false), 3)

	// healthyOnly 只保留HEALTHY
	healthy := c.List("api", nil, "", true)
	require.Len(t, healthy, 2)

	// 数据中心过滤
	dc2 := c.List("api", nil, "dc2", false)
	require.Len(t, dc2, 1)
	assert.Equal(t, "inst-b", dc2[0].InstanceID)

	// 标签过滤要求全部匹配
	tagged := c.List("api", []string{"v1", "grpc"}, "", false)
	require.Len(t, tagged, 2)
	assert.Empty(t, c.List("api", []string{"v1", "v2"}, "", false))

	// 未知服务返回空
	assert.Empty(t, c.List("no-such-service", nil, "", false))
}

func TestCatalog_ListReturnsSortedSnapshot(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Insert(testInstance("inst-b", "api")))
	require.NoError(t, c.Insert(testInstance("inst-a", "api")))

	out := c.List("api", nil, "", false)
	require.Len(t, out, 2)
	assert.Equal(t, "inst-a", out[0].InstanceID)
	assert.Equal(t, "inst-b", out[1].InstanceID)
}

func TestCatalog_SetStatus(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Insert(testInstance("inst-1", "api")))

	inst, old, changed := c.SetStatus("inst-1", model.StatusUnhealthy)
	require.True(t, changed)
	assert.Equal(t, model.StatusHealthy, old)
	assert.Equal(t, model.StatusUnhealthy, inst.Status)

	// 相同状态不算变更
	_, _, changed = c.SetStatus("inst-1", model.StatusUnhealthy)
	assert.False(t, changed)

	// 未知实例不算变更
	_, _, changed = c.SetStatus("ghost", model.StatusHealthy)
	assert.False(t, changed)
}

func TestCatalog_DefineService(t *testing.T) {
	c := NewCatalog()

	def, err := c.DefineService(&model.ServiceDefinition{
		Name:        "api",
		Description: "核心API服务",
	})
	require.NoError(t, err)
	assert.False(t, def.CreatedAt.IsZero())

	// 更新定义保留创建时间
	updated, err := c.DefineService(&model.ServiceDefinition{
		Name:        "api",
		Description: "改过的描述",
	})
	require.NoError(t, err)
	assert.Equal(t, def.CreatedAt, updated.CreatedAt)

	_, err = c.DefineService(&model.ServiceDefinition{})
	assert.Error(t, err)
}

func TestCatalog_ServiceNames(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Insert(testInstance("i1", "zookeeper")))
	require.NoError(t, c.Insert(testInstance("i2", "api")))

	assert.Equal(t, []string{"api", "zookeeper"}, c.ServiceNames())
}
