package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slowListener struct {
	mu    sync.Mutex
	sizes []int
	gate  chan struct{}
}

func (l *slowListener) Notify(records []*Record) {
	<-l.gate
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sizes = append(l.sizes, len(records))
}

func (l *slowListener) got() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.sizes...)
}

func TestMailboxKeepsOrderWithoutBlockingPusher(t *testing.T) {
	l := &slowListener{gate: make(chan struct{})}
	mb := NewMailbox(l)
	defer mb.Close()

	pushed := make(chan struct{})
	go func() {
		for i := 1; i <= 5; i++ {
			mb.Push(make([]*Record, i))
		}
		close(pushed)
	}()
	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("Push被订阅者阻塞")
	}

	close(l.gate)
	require.Eventually(t, func() bool { return len(l.got()) == 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, l.got())
}

func TestMailboxDropsAfterClose(t *testing.T) {
	l := &slowListener{gate: make(chan struct{})}
	close(l.gate)
	mb := NewMailbox(l)
	mb.Close()
	mb.Close()
	mb.Push([]*Record{{Host: "10.0.0.1"}})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, l.got())
}

func TestCloneRecordsDeepCopiesMetadata(t *testing.T) {
	src := []*Record{{Host: "10.0.0.1", Port: 1, Metadata: map[string]string{"k": "v"}}}
	cp := CloneRecords(src)
	cp[0].Metadata["k"] = "x"
	cp[0].Port = 2
	assert.Equal(t, "v", src[0].Metadata["k"])
	assert.Equal(t, 1, src[0].Port)
}
