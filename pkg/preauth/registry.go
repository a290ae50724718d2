package preauth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/iniwex5/wauth-go/pkg/dot11"
	"github.com/iniwex5/wauth-go/pkg/logger"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	ErrFull   = errors.New("pre-auth table full")
	ErrStale  = errors.New("stale pre-auth handle")
	ErrExists = errors.New("pre-auth context already exists")
	ErrClosed = errors.New("pre-auth registry closed")
)

// Handle 指向某个槽位的某一代上下文
//
// 槽位被删除后 generation 递增，旧 Handle 上的操作返回 ErrStale。
type Handle struct {
	index uint32
	gen   uint32
}

// Valid 是否由 Acquire/Find 返回
func (h Handle) Valid() bool { return h.gen != 0 }

func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.index, h.gen)
}

// Config 注册表配置
type Config struct {
	Capacity int
	Clock    clock.Clock
	// OnExpire 在注册表锁外调用，参数为超时后的上下文快照
	OnExpire func(Context)
	Logger   *zap.Logger
}

type expiry struct {
	t    *clock.Timer
	done chan struct{}
}

type slot struct {
	gen     uint32
	live    bool
	created uint64 // 创建顺序，用于回收最早的上下文
	ctx     Context
	timer   *expiry
}

// Registry 固定容量的预认证上下文池
type Registry struct {
	mu     sync.Mutex
	cfg    Config
	log    *zap.Logger
	slots  []slot
	free   []uint32
	byPeer map[dot11.MACAddr]uint32
	serial uint64
	closed bool
}

// NewRegistry 创建注册表
func NewRegistry(cfg Config) *Registry {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	l := cfg.Logger
	if l == nil {
		l = logger.Get()
	}
	return &Registry{
		cfg:    cfg,
		log:    l.Named("preauth"),
		slots:  make([]slot, 0, cfg.Capacity),
		byPeer: make(map[dot11.MACAddr]uint32, cfg.Capacity),
	}
}

// Acquire 为 peer 分配新上下文
//
// 容量已满时先尝试回收一个 Open 上下文，仍然失败返回 ErrFull。
func (r *Registry) Acquire(peer dot11.MACAddr) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Handle{}, ErrClosed
	}
	if _, ok := r.byPeer[peer]; ok {
		return Handle{}, ErrExists
	}
	if len(r.byPeer) >= r.cfg.Capacity && !r.evictLocked() {
		return Handle{}, ErrFull
	}

	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		r.slots = append(r.slots, slot{})
		idx = uint32(len(r.slots) - 1)
	}

	s := &r.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	r.serial++
	s.live = true
	s.created = r.serial
	s.timer = nil
	s.ctx = Context{Peer: peer, CreatedAt: r.cfg.Clock.Now()}
	r.byPeer[peer] = idx

	return Handle{index: idx, gen: s.gen}, nil
}

// Find 返回 peer 上下文的快照
func (r *Registry) Find(peer dot11.MACAddr) (Context, Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byPeer[peer]
	if !ok {
		return Context{}, Handle{}, false
	}
	s := &r.slots[idx]
	return s.ctx.clone(), Handle{index: idx, gen: s.gen}, true
}

// Get 按 Handle 读取快照
func (r *Registry) Get(h Handle) (Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.lookupLocked(h)
	if err != nil {
		return Context{}, err
	}
	return s.ctx.clone(), nil
}

// Update 在注册表锁内修改上下文；Peer 不可修改
func (r *Registry) Update(h Handle, fn func(*Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.lookupLocked(h)
	if err != nil {
		return err
	}
	peer := s.ctx.Peer
	fn(&s.ctx)
	s.ctx.Peer = peer
	s.ctx.TimerActive = s.timer != nil
	return nil
}

// Delete 删除 peer 的上下文，等待正在运行的超时回调结束；重复调用无副作用
func (r *Registry) Delete(peer dot11.MACAddr) bool {
	r.mu.Lock()
	idx, ok := r.byPeer[peer]
	if !ok {
		r.mu.Unlock()
		return false
	}
	exp := r.releaseLocked(idx)
	r.mu.Unlock()

	waitExpiry(exp)
	return true
}

// EvictOldestOpen 回收最早创建的可回收上下文
func (r *Registry) EvictOldestOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictLocked()
}

// ArmTimer 为上下文启动超时定时器，已有定时器会被替换
func (r *Registry) ArmTimer(h Handle, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.lookupLocked(h)
	if err != nil {
		return err
	}
	if s.timer != nil {
		// 旧回调看到 timer 已替换后直接返回
		s.timer.t.Stop()
	}
	exp := &expiry{done: make(chan struct{})}
	exp.t = r.cfg.Clock.AfterFunc(d, func() { r.expire(h, exp) })
	s.timer = exp
	s.ctx.TimerActive = true
	return nil
}

// DisarmTimer 停止上下文的定时器并等待正在运行的回调
func (r *Registry) DisarmTimer(h Handle) error {
	r.mu.Lock()
	s, err := r.lookupLocked(h)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	exp := s.timer
	s.timer = nil
	s.ctx.TimerActive = false
	r.mu.Unlock()

	waitExpiry(exp)
	return nil
}

// MarkSeen 标记上下文已被关联层接管，此后不再参与回收
func (r *Registry) MarkSeen(peer dot11.MACAddr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byPeer[peer]
	if !ok {
		return false
	}
	r.slots[idx].ctx.Seen = true
	return true
}

// Len 当前存活的上下文数量
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byPeer)
}

// Cap 容量
func (r *Registry) Cap() int { return r.cfg.Capacity }

// Snapshot 返回所有存活上下文的快照，按创建顺序排列
func (r *Registry) Snapshot() []Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := make([]*slot, 0, len(r.byPeer))
	for _, idx := range r.byPeer {
		live = append(live, &r.slots[idx])
	}
	// 容量很小，插入排序足够
	for i := 1; i < len(live); i++ {
		for j := i; j > 0 && live[j].created < live[j-1].created; j-- {
			live[j], live[j-1] = live[j-1], live[j]
		}
	}
	out := make([]Context, len(live))
	for i, s := range live {
		out[i] = s.ctx.clone()
	}
	return out
}

// Close 删除全部上下文并停止所有定时器
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	var pending []*expiry
	for _, idx := range r.byPeer {
		if exp := r.releaseLocked(idx); exp != nil {
			pending = append(pending, exp)
		}
	}
	r.mu.Unlock()

	var err error
	for _, exp := range pending {
		if !exp.t.Stop() {
			select {
			case <-exp.done:
			case <-time.After(time.Second):
				err = multierr.Append(err, errors.New("pre-auth expiry callback did not finish"))
			}
		}
	}
	return err
}

func (r *Registry) lookupLocked(h Handle) (*slot, error) {
	if !h.Valid() || int(h.index) >= len(r.slots) {
		return nil, ErrStale
	}
	s := &r.slots[h.index]
	if !s.live || s.gen != h.gen {
		return nil, ErrStale
	}
	return s, nil
}

// releaseLocked 释放槽位，返回需要在锁外等待的定时器
func (r *Registry) releaseLocked(idx uint32) *expiry {
	s := &r.slots[idx]
	exp := s.timer
	delete(r.byPeer, s.ctx.Peer)
	s.live = false
	s.timer = nil
	s.ctx = Context{}
	// 让旧 Handle 与旧回调失效
	s.gen++
	r.free = append(r.free, idx)
	return exp
}

func (r *Registry) evictLocked() bool {
	var victim *slot
	var victimIdx uint32
	for _, idx := range r.byPeer {
		s := &r.slots[idx]
		if !s.ctx.evictable() {
			continue
		}
		if victim == nil || s.created < victim.created {
			victim, victimIdx = s, idx
		}
	}
	if victim == nil {
		return false
	}

	r.log.Debug("回收预认证上下文",
		logger.Mac("peer", victim.ctx.Peer),
		logger.Stringer("state", victim.ctx.State),
		logger.Stringer("alg", victim.ctx.Algorithm))

	if exp := r.releaseLocked(victimIdx); exp != nil {
		// 持锁不能等待；回调会因 generation 变化而放弃
		exp.t.Stop()
	}
	return true
}

func (r *Registry) expire(h Handle, exp *expiry) {
	defer close(exp.done)

	r.mu.Lock()
	s, err := r.lookupLocked(h)
	if err != nil || s.timer != exp {
		r.mu.Unlock()
		return
	}
	s.timer = nil
	s.ctx.TimerActive = false
	if s.ctx.State == StateWtAuthFrame3 {
		s.ctx.State = StateAuthRspTimeout
		s.ctx.Challenge = nil
	}
	snap := s.ctx.clone()
	r.mu.Unlock()

	r.log.Info("预认证超时",
		logger.Mac("peer", snap.Peer),
		logger.Stringer("state", snap.State))

	if r.cfg.OnExpire != nil {
		r.cfg.OnExpire(snap)
	}
}

func waitExpiry(exp *expiry) {
	if exp == nil {
		return
	}
	if !exp.t.Stop() {
		<-exp.done
	}
}
