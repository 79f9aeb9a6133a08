package watch

import (
	"sync"

	"github.com/google/uuid"
	"github.com/hewenyu/orbit-discovery/internal/config"
	"github.com/hewenyu/orbit-discovery/internal/core/model"
	"go.uber.org/zap"
)

// Wildcard 订阅所有服务的事件
const Wildcard = "*"

// Callback 定义监听回调函数类型
type Callback func(event model.WatchEvent)

// Manager 是进程内的事件发布订阅器。每个订阅者持有独立的缓冲
// 通道，由专属协程按入队顺序调用回调，因此同一实例的事件投递
// 顺序与产生顺序一致。投递为至多一次：缓冲满则丢弃该订阅者的
// 这条事件，订阅之前产生的事件不会补发。
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	bufferSize  int
	logger      config.Logger
	closed      bool
}

type subscriber struct {
	id      string
	pattern string
	events  chan model.WatchEvent
}

// NewManager 创建一个新的事件管理器
func NewManager(bufferSize int, logger config.Logger) *Manager {
	if bufferSize <= 0 {
		bufferSize = 128
	}
	return &Manager{
		subscribers: make(map[string]*subscriber),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Watch 注册一个订阅，pattern为服务名或通配符"*"。
// 返回订阅ID，可用于Unwatch。
func (m *Manager) Watch(pattern string, callback Callback) string {
	sub := &subscriber{
		id:      uuid.New().String(),
		pattern: pattern,
		events:  make(chan model.WatchEvent, m.bufferSize),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ""
	}
	m.subscribers[sub.id] = sub
	m.mu.Unlock()

	// 每个订阅者由独立协程投递，回调异常不影响其他订阅者
	go m.dispatch(sub, callback)

	return sub.id
}

// Unwatch 取消订阅，未知ID返回false
func (m *Manager) Unwatch(subscriptionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subscribers[subscriptionID]
	if !ok {
		return false
	}
	delete(m.subscribers, subscriptionID)
	close(sub.events)
	return true
}

// Notify 将事件扇出给精确匹配和通配符订阅者。
// 入队是非阻塞的，缓冲满时丢弃并记录日志。
func (m *Manager) Notify(event model.WatchEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return
	}

	for _, sub := range m.subscribers {
		if sub.pattern != Wildcard && sub.pattern != event.ServiceName {
			continue
		}
		select {
		case sub.events <- event:
		default:
			m.logger.Warn("订阅者事件缓冲已满，丢弃事件",
				zap.String("subscription", sub.id),
				zap.String("service", event.ServiceName),
				zap.String("type", string(event.EventType)))
		}
	}
}

// Close 关闭管理器并取消所有订阅
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	for id, sub := range m.subscribers {
		delete(m.subscribers, id)
		close(sub.events)
	}
}

// dispatch 按入队顺序调用回调，直到通道关闭
func (m *Manager) dispatch(sub *subscriber, callback Callback) {
	for event := range sub.events {
		m.invoke(sub, callback, event)
	}
}

// invoke 调用回调并吸收panic，保证投递协程不退出
func (m *Manager) invoke(sub *subscriber, callback Callback, event model.WatchEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("订阅回调发生panic",
				zap.String("subscription", sub.id),
				zap.String("service", event.ServiceName),
				zap.Any("panic", r))
		}
	}()
	callback(event)
}
