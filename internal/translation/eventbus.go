package translation

import (
	"sync"

	"go.uber.org/zap"
)

// Subscription 订阅句柄
type Subscription struct {
	id        uint64
	eventType EventType
}

// EventType 订阅的事件类型
func (s Subscription) EventType() EventType {
	return s.eventType
}

// Valid 零值句柄表示订阅未生效
func (s Subscription) Valid() bool {
	return s.id != 0
}

type subscriber struct {
	id      uint64
	handler EventHandler
}

// Dispatcher 事件分发器，按注册顺序同步调用观察者
type Dispatcher struct {
	subscribers map[EventType][]subscriber
	nextID      uint64
	disposed    bool
	mu          sync.Mutex
	log         *zap.SugaredLogger
}

func NewDispatcher(logger *zap.SugaredLogger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Dispatcher{
		subscribers: make(map[EventType][]subscriber),
		log:         logger,
	}
}

// Subscribe 订阅事件；分发器释放后返回零值句柄
func (d *Dispatcher) Subscribe(eventType EventType, handler EventHandler) Subscription {
	if handler == nil {
		return Subscription{}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.disposed {
		return Subscription{}
	}
	d.nextID++
	d.subscribers[eventType] = append(d.subscribers[eventType], subscriber{id: d.nextID, handler: handler})
	return Subscription{id: d.nextID, eventType: eventType}
}

// Unsubscribe 取消订阅，返回句柄是否仍然有效
func (d *Dispatcher) Unsubscribe(sub Subscription) bool {
	if !sub.Valid() {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.subscribers[sub.eventType]
	for i, s := range list {
		if s.id != sub.id {
			continue
		}
		next := make([]subscriber, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		d.subscribers[sub.eventType] = next
		return true
	}
	return false
}

// Publish 在调用方 goroutine 上按注册顺序投递事件
func (d *Dispatcher) Publish(event Event) {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	handlers := d.subscribers[event.Type()]
	d.mu.Unlock()

	// 订阅列表只做整体替换，快照可以在锁外遍历
	for _, s := range handlers {
		d.invoke(s, event)
	}
}

func (d *Dispatcher) invoke(s subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			err := &ObserverError{EventType: event.Type(), Recovered: r}
			d.log.Errorw("observer failed", "subscription", s.id, "error", err)
		}
	}()
	s.handler(event)
}

// Count 某类事件当前的观察者数量
func (d *Dispatcher) Count(eventType EventType) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subscribers[eventType])
}

// Dispose 移除所有观察者，此后 Publish 不再投递
func (d *Dispatcher) Dispose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disposed = true
	d.subscribers = make(map[EventType][]subscriber)
}
