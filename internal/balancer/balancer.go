package balancer

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/hewenyu/orbit-discovery/internal/core/model"
)

// Strategy 负载均衡策略枚举
type Strategy string

const (
	// RoundRobin 轮询，稳定端点集合内每个端点轮流被选中
	RoundRobin Strategy = "round_robin"
	// Random 均匀随机
	Random Strategy = "random"
	// Weighted 按权重比例随机
	Weighted Strategy = "weighted"
	// ConsistentHash 按key哈希取模。注意这不是真正的哈希环：
	// 端点增减会重映射大部分key。生产环境如需把重映射比例压到
	// O(1/n)，应替换为带虚拟节点的哈希环实现。
	ConsistentHash Strategy = "consistent_hash"
)

// ErrNoEndpoints 端点集合为空时返回
var ErrNoEndpoints = errors.New("没有可用的服务端点")

// Picker 在健康端点快照上执行选择。除轮询计数器外无任何状态，
// 计数器按端点集合标识分片，与Catalog的锁没有竞争。
type Picker struct {
	mu       sync.Mutex
	counters map[string]uint64
}

// NewPicker 创建一个新的Picker
func NewPicker() *Picker {
	return &Picker{
		counters: make(map[string]uint64),
	}
}

// Select 从端点集合中按策略选出一个端点。
// endpoints应是已过滤的健康集合；空集合返回ErrNoEndpoints。
func (p *Picker) Select(endpoints []model.Endpoint, strategy Strategy, key string) (model.Endpoint, error) {
	if len(endpoints) == 0 {
		return model.Endpoint{}, ErrNoEndpoints
	}

	// 排序拷贝，保证轮询和哈希在同一集合上结果稳定，
	// 与调用方传入的切片顺序无关
	sorted := make([]model.Endpoint, len(endpoints))
	copy(sorted, endpoints)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].InstanceID < sorted[j].InstanceID })

	switch strategy {
	case RoundRobin:
		return p.selectRoundRobin(sorted), nil
	case Random:
		return sorted[rand.Intn(len(sorted))], nil
	case Weighted:
		return selectWeighted(sorted), nil
	case ConsistentHash:
		return selectConsistentHash(sorted, key), nil
	default:
		return model.Endpoint{}, fmt.Errorf("不支持的负载均衡策略: %s", strategy)
	}
}

// selectRoundRobin 以端点集合标识为key维护单调递增计数器，
// 选中counter mod n后计数器加一
func (p *Picker) selectRoundRobin(endpoints []model.Endpoint) model.Endpoint {
	key := setIdentity(endpoints)

	p.mu.Lock()
	counter := p.counters[key]
	p.counters[key] = counter + 1
	p.mu.Unlock()

	return endpoints[counter%uint64(len(endpoints))]
}

// selectWeighted 累积权重分桶，端点i被选中的概率为weight_i/Σweights
func selectWeighted(endpoints []model.Endpoint) model.Endpoint {
	total := 0
	for _, ep := range endpoints {
		if ep.Weight > 0 {
			total += ep.Weight
		}
	}

	// 权重全部非正时退化为均匀随机
	if total <= 0 {
		return endpoints[rand.Intn(len(endpoints))]
	}

	draw := rand.Intn(total)
	cumulative := 0
	for _, ep := range endpoints {
		if ep.Weight <= 0 {
			continue
		}
		cumulative += ep.Weight
		if draw < cumulative {
			return ep
		}
	}
	return endpoints[len(endpoints)-1]
}

// selectConsistentHash 对key取FNV哈希后按端点数取模。
// 同一(集合, key)组合的结果是确定的。
func selectConsistentHash(endpoints []model.Endpoint, key string) model.Endpoint {
	h := fnv.New64a()
	h.Write([]byte(key))
	return endpoints[h.Sum64()%uint64(len(endpoints))]
}

// setIdentity 以排序后的实例ID列表标识端点集合
func setIdentity(endpoints []model.Endpoint) string {
	ids := make([]string, len(endpoints))
	for i, ep := range endpoints {
		ids[i] = ep.InstanceID
	}
	return strings.Join(ids, "|")
}
