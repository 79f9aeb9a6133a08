package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/hewenyu/orbit-discovery/internal/core/model"
)

// Catalog 是服务定义与实例的权威存储，带按服务、数据中心、
// 标签的二级索引。所有读写都在同一把读写锁下完成，主表与索引
// 对任何读者都保持一致。
type Catalog struct {
	mu           sync.RWMutex
	definitions  map[string]*model.ServiceDefinition
	instances    map[string]*model.ServiceInstance
	byService    map[string]map[string]struct{}
	byDatacenter map[string]map[string]struct{}
	byTag        map[string]map[string]struct{}
}

// NewCatalog 创建一个空的Catalog
func NewCatalog() *Catalog {
	return &Catalog{
		definitions:  make(map[string]*model.ServiceDefinition),
		instances:    make(map[string]*model.ServiceInstance),
		byService:    make(map[string]map[string]struct{}),
		byDatacenter: make(map[string]map[string]struct{}),
		byTag:        make(map[string]map[string]struct{}),
	}
}

// DefineService 创建或更新服务定义
func (c *Catalog) DefineService(def *model.ServiceDefinition) (*model.ServiceDefinition, error) {
	if def == nil || def.Name == "" {
		return nil, NewInvalidArgumentError("服务名称不能为空")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stored := *def
	if existing, ok := c.definitions[def.Name]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	c.definitions[def.Name] = &stored

	out := stored
	return &out, nil
}

// GetDefinition 获取服务定义
func (c *Catalog) GetDefinition(name string) (*model.ServiceDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	def, ok := c.definitions[name]
	if !ok {
		return nil, false
	}
	out := *def
	return &out, true
}

// Insert 将实例写入主表及全部二级索引。
// 实例ID已存在时返回冲突错误，不做任何修改。
func (c *Catalog) Insert(inst *model.ServiceInstance) error {
	if inst == nil || inst.InstanceID == "" || inst.ServiceName == "" {
		return NewInvalidArgumentError("实例ID和服务名称不能为空")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.instances[inst.InstanceID]; exists {
		return NewDuplicateInstanceError("实例ID已存在: " + inst.InstanceID)
	}

	c.instances[inst.InstanceID] = inst.Clone()
	addToIndex(c.byService, inst.ServiceName, inst.InstanceID)
	if inst.Datacenter != "" {
		addToIndex(c.byDatacenter, inst.Datacenter, inst.InstanceID)
	}
	for _, tag := range inst.Tags {
		addToIndex(c.byTag, tag, inst.InstanceID)
	}

	return nil
}

// Remove 从主表和每个索引中删除实例。
// 未知ID是正常的幂等结果，返回nil, false而不是错误。
func (c *Catalog) Remove(instanceID string) (*model.ServiceInstance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inst, ok := c.instances[instanceID]
	if !ok {
		return nil, false
	}

	delete(c.instances, instanceID)
	removeFromIndex(c.byService, inst.ServiceName, instanceID)
	if inst.Datacenter != "" {
		removeFromIndex(c.byDatacenter, inst.Datacenter, instanceID)
	}
	for _, tag := range inst.Tags {
		removeFromIndex(c.byTag, tag, instanceID)
	}

	return inst.Clone(), true
}

// Get 获取实例的拷贝
func (c *Catalog) Get(instanceID string) (*model.ServiceInstance, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	inst, ok := c.instances[instanceID]
	if !ok {
		return nil, false
	}
	return inst.Clone(), true
}

// SetStatus 更新实例状态，返回变更后的实例快照、旧状态及是否
// 发生变更。实例不存在或状态未变化时changed为false。
func (c *Catalog) SetStatus(instanceID string, status model.InstanceStatus) (*model.ServiceInstance, model.InstanceStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inst, ok := c.instances[instanceID]
	if !ok {
		return nil, "", false
	}
	old := inst.Status
	if old == status {
		return nil, old, false
	}
	inst.Status = status
	return inst.Clone(), old, true
}

// SetStatusIf 仅当实例当前处于from状态时更新为to。
// 返回变更后的实例快照及是否执行了更新。
func (c *Catalog) SetStatusIf(instanceID string, from, to model.InstanceStatus) (*model.ServiceInstance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inst, ok := c.instances[instanceID]
	if !ok || inst.Status != from {
		return nil, false
	}
	inst.Status = to
	return inst.Clone(), true
}

// Touch 刷新实例的最后心跳时间
func (c *Catalog) Touch(instanceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	inst, ok := c.instances[instanceID]
	if !ok {
		return false
	}
	inst.LastHeartbeat = time.Now()
	return true
}

// List 按服务名查询实例，可按标签（全部匹配）、数据中心过滤。
// healthyOnly为true时只返回HEALTHY状态的实例。返回值是读锁下
// 生成的一致快照拷贝，按实例ID排序。
func (c *Catalog) List(serviceName string, tags []string, datacenter string, healthyOnly bool) []*model.ServiceInstance {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids, ok := c.byService[serviceName]
	if !ok {
		return nil
	}

	out := make([]*model.ServiceInstance, 0, len(ids))
	for id := range ids {
		inst := c.instances[id]
		if datacenter != "" && inst.Datacenter != datacenter {
			continue
		}
		if !hasAllTags(inst, tags) {
			continue
		}
		if healthyOnly && inst.Status != model.StatusHealthy {
			continue
		}
		out = append(out, inst.Clone())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out
}

// ServiceNames 返回所有存在实例的服务名称，按字典序排序
func (c *Catalog) ServiceNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.byService))
	for name := range c.byService {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// hasAllTags 判断实例是否携带全部指定标签
func hasAllTags(inst *model.ServiceInstance, tags []string) bool {
	for _, tag := range tags {
		if !inst.HasTag(tag) {
			return false
		}
	}
	return true
}

func addToIndex(index map[string]map[string]struct{}, key, instanceID string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[instanceID] = struct{}{}
}

func removeFromIndex(index map[string]map[string]struct{}, key, instanceID string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, instanceID)
	if len(set) == 0 {
		delete(index, key)
	}
}
