package discover

import (
	"github.com/hkensame/kdiscovery/goken/registry"
	"github.com/hkensame/kdiscovery/pkg/log"
)

// notifyBridge 把注册中心的推送转交给所属的Resolver,
// 注册中心按指针匹配订阅者,所以一个Resolver自始至终只使用同一个bridge
type notifyBridge struct {
	r *Resolver
}

var _ registry.NotifyListener = (*notifyBridge)(nil)

func (b *notifyBridge) Notify(records []*registry.Record) {
	r := b.r
	r.mu.Lock()
	defer r.mu.Unlock()
	// 取消订阅之前已经在路上的推送直接丢弃
	if r.shutdown || r.cc == nil {
		log.Debugf("[discover] resolver %s已关闭, 丢弃注册中心的推送", r.desc)
		return
	}
	log.Infof("[discover] 收到注册中心推送, %s的提供者为%v", r.desc, records)
	r.notifyLoadBalance(r.ctx, records)
}
