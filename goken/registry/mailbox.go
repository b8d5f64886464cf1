package registry

import (
	"sync"

	"github.com/hkensame/kdiscovery/pkg/dstruct/queue"
)

// Mailbox 为一个订阅者排队推送并在独立协程中按顺序调用Notify,
// 推送方永远不会因为订阅者处理缓慢而阻塞,也不会在持锁时回调订阅者
type Mailbox struct {
	listener NotifyListener
	mu       sync.Mutex
	pending  *queue.Queue[[]*Record]
	wake     chan struct{}
	done     chan struct{}
	closed   bool
}

// NewMailbox 创建Mailbox并启动投递协程,使用完毕后必须调用Close
func NewMailbox(l NotifyListener) *Mailbox {
	m := &Mailbox{
		listener: l,
		pending:  queue.NewQueue[[]*Record](),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Mailbox) Push(records []*Record) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.pending.Push(records)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Close 之后排队中尚未投递的推送会被丢弃
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
}

func (m *Mailbox) run() {
	for {
		select {
		case <-m.done:
			return
		case <-m.wake:
		}
		m.mu.Lock()
		batch := m.pending.Drain()
		m.mu.Unlock()
		for _, records := range batch {
			select {
			case <-m.done:
				return
			default:
			}
			m.listener.Notify(records)
		}
	}
}

// CloneRecords 深拷贝记录列表,注册中心把内部状态交给订阅者前使用
func CloneRecords(records []*Record) []*Record {
	out := make([]*Record, 0, len(records))
	for _, rec := range records {
		cp := *rec
		if rec.Metadata != nil {
			cp.Metadata = make(map[string]string, len(rec.Metadata))
			for k, v := range rec.Metadata {
				cp.Metadata[k] = v
			}
		}
		out = append(out, &cp)
	}
	return out
}
