package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/polymind/polymind/internal/meeting"
	"k8s.io/klog/v2"
)

// subscriberBuffer 订阅通道缓冲大小
// 消费方迟滞时丢最旧事件，发布方永不阻塞，避免拖慢讨论主流程
const subscriberBuffer = 64

// Bus 按会话分发会议事件的进程内总线
type Bus struct {
	mutex       sync.RWMutex
	subscribers map[string]map[uint64]chan meeting.Event
	counter     uint64
}

func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string]map[uint64]chan meeting.Event),
	}
}

// Subscribe 订阅一个会话的事件流，返回只读通道与退订函数
func (b *Bus) Subscribe(sessionID string) (<-chan meeting.Event, func()) {
	id := atomic.AddUint64(&b.counter, 1)
	ch := make(chan meeting.Event, subscriberBuffer)

	b.mutex.Lock()
	if b.subscribers[sessionID] == nil {
		b.subscribers[sessionID] = make(map[uint64]chan meeting.Event)
	}
	b.subscribers[sessionID][id] = ch
	b.mutex.Unlock()

	return ch, func() {
		b.mutex.Lock()
		channels, ok := b.subscribers[sessionID]
		if ok {
			if ch, exists := channels[id]; exists {
				delete(channels, id)
				close(ch)
			}
			if len(channels) == 0 {
				delete(b.subscribers, sessionID)
			}
		}
		b.mutex.Unlock()
	}
}

// Publish 向会话的所有订阅方广播事件
// 发送全程持有读锁：退订在写锁下关闭通道，两者互斥，不会向已关闭的通道发送
func (b *Bus) Publish(sessionID string, event meeting.Event) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	for _, ch := range b.subscribers[sessionID] {
		select {
		case ch <- event:
		default:
			// 消费方跟不上就丢最旧的一条腾位，保证不阻塞发布
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
				klog.V(6).Infof("事件被丢弃: sessionID=%s, type=%s", sessionID, event.Type)
			}
		}
	}
}

// Notifier 返回绑定到指定会话的发布适配器
func (b *Bus) Notifier(sessionID string) meeting.Notifier {
	return &sessionNotifier{bus: b, sessionID: sessionID}
}

type sessionNotifier struct {
	bus       *Bus
	sessionID string
}

func (n *sessionNotifier) Publish(event meeting.Event) {
	n.bus.Publish(n.sessionID, event)
}
