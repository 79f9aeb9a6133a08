package dnsview

import (
	"sort"

	"github.com/hewenyu/orbit-discovery/internal/core/model"
)

// RecordKind DNS记录类型枚举
type RecordKind string

const (
	// KindSRV SRV记录，携带端口和权重
	KindSRV RecordKind = "SRV"
	// KindA A记录，仅地址，去重
	KindA RecordKind = "A"
)

// Record 表示一条从健康实例投影出的DNS风格记录
type Record struct {
	Service  string `json:"service"`
	Type     string `json:"type"`
	Target   string `json:"target"`
	Port     int    `json:"port,omitempty"`
	Priority int    `json:"priority,omitempty"`
	Weight   int    `json:"weight,omitempty"`
	TTL      uint32 `json:"ttl"`
}

// 与上游DNS约定的SRV默认优先级
const defaultPriority = 10

// Project 把健康端点集合投影为记录集。纯读侧转换，每次调用
// 重新计算，不持有也不修改Catalog状态。
func Project(serviceName string, endpoints []model.Endpoint, kind RecordKind, ttl uint32) []Record {
	switch kind {
	case KindSRV:
		return projectSRV(serviceName, endpoints, ttl)
	case KindA:
		return projectA(serviceName, endpoints, ttl)
	default:
		return nil
	}
}

// projectSRV 每个端点一条SRV记录：priority weight port target
func projectSRV(serviceName string, endpoints []model.Endpoint, ttl uint32) []Record {
	records := make([]Record, 0, len(endpoints))
	for _, ep := range endpoints {
		records = append(records, Record{
			Service:  serviceName,
			Type:     string(KindSRV),
			Target:   ep.Address,
			Port:     ep.Port,
			Priority: defaultPriority,
			Weight:   ep.Weight,
			TTL:      ttl,
		})
	}
	return records
}

// projectA 地址去重后每个地址一条A记录
func projectA(serviceName string, endpoints []model.Endpoint, ttl uint32) []Record {
	seen := make(map[string]struct{}, len(endpoints))
	addresses := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		if _, ok := seen[ep.Address]; ok {
			continue
		}
		seen[ep.Address] = struct{}{}
		addresses = append(addresses, ep.Address)
	}
	sort.Strings(addresses)

	records := make([]Record, 0, len(addresses))
	for _, addr := range addresses {
		records = append(records, Record{
			Service: serviceName,
			Type:    string(KindA),
			Target:  addr,
			TTL:     ttl,
		})
	}
	return records
}
