package eventbus

import (
	"testing"

	"github.com/polymind/polymind/internal/meeting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe("session-1")
	defer cancel()

	bus.Publish("session-1", meeting.Event{Type: "statement", Text: "观点"})
	bus.Publish("session-2", meeting.Event{Type: "statement", Text: "别的会话"})

	event := <-ch
	assert.Equal(t, "观点", event.Text)
	// 其它会话的事件不会串流
	select {
	case unexpected := <-ch:
		t.Fatalf("收到不属于本会话的事件: %+v", unexpected)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe("session-1")
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	// 退订后发布不应 panic
	bus.Publish("session-1", meeting.Event{Type: "phase"})
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe("session-1")
	defer cancel()

	// 写满缓冲后继续发布，应丢旧事件而不是阻塞
	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish("session-1", meeting.Event{Type: "chunk", Epoch: i})
	}
	require.Len(t, ch, subscriberBuffer)
}

func TestPublishDuringUnsubscribeDoesNotPanic(t *testing.T) {
	bus := NewBus()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			bus.Publish("session-1", meeting.Event{Type: "chunk", Epoch: i})
		}
	}()

	// 发布进行中反复订阅与退订，退订关闭通道不得撞上正在发送的事件
	for i := 0; i < 200; i++ {
		_, cancel := bus.Subscribe("session-1")
		cancel()
	}
	<-done
}

func TestNotifierBindsSession(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe("session-9")
	defer cancel()

	notifier := bus.Notifier("session-9")
	notifier.Publish(meeting.Event{Type: "report", Text: "完整报告"})

	event := <-ch
	assert.Equal(t, "report", event.Type)
}
