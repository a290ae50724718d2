package mlme

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/iniwex5/wauth-go/pkg/crypto"
	"github.com/iniwex5/wauth-go/pkg/dot11"
	"github.com/iniwex5/wauth-go/pkg/logger"
	"github.com/iniwex5/wauth-go/pkg/preauth"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	// ErrDropped 帧被静默丢弃，没有回复
	ErrDropped = errors.New("auth frame dropped")
	// ErrNoSession 找不到处理该帧的会话
	ErrNoSession = errors.New("no session for auth frame")
	// ErrNoSpace 目标 AP 无法接纳新的站点
	ErrNoSpace = errors.New("peer unable to handle new station")
	// ErrNoPreAuth 没有进行中的 FT 预认证
	ErrNoPreAuth = errors.New("no FT pre-auth in progress")
	// ErrBusy 会话已有进行中的认证
	ErrBusy = errors.New("authentication already in progress")
)

// RefusedError 对端以失败状态码拒绝 FT 预认证
type RefusedError struct {
	Status dot11.StatusCode
}

func (e *RefusedError) Error() string {
	return fmt.Sprintf("pre-auth refused by peer: %s (%d)", e.Status, uint16(e.Status))
}

func dropped(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDropped, fmt.Sprintf(format, args...))
}

// Deps 外部协作者
type Deps struct {
	Transmitter Transmitter
	Connections ConnectionManager
	Stations    StationTable     // 可选
	Peers       PeerDirectory    // 可选
	Protector   crypto.Protector // Shared Key 需要
}

// Engine 认证帧状态机
//
// OnAuthFrame、StartAuth 与会话定时器回调在分发锁内串行执行；
// 预认证注册表有独立的锁，其超时回调不获取分发锁。
type Engine struct {
	cfg  Config
	deps Deps
	reg  *preauth.Registry

	Logger *zap.Logger

	rxMu sync.Mutex

	sessMu   sync.RWMutex
	sessions []*Session // 按 ID 排序
}

// NewEngine 创建状态机
func NewEngine(cfg Config, deps Deps, l *zap.Logger) (*Engine, error) {
	if deps.Transmitter == nil {
		return nil, errors.New("mlme: transmitter is required")
	}
	if deps.Connections == nil {
		return nil, errors.New("mlme: connection manager is required")
	}
	if l == nil {
		l = logger.Get()
	}
	cfg.normalize()

	e := &Engine{
		cfg:    cfg,
		deps:   deps,
		Logger: l,
	}
	e.reg = preauth.NewRegistry(preauth.Config{
		Capacity: cfg.MaxPreAuth,
		Clock:    cfg.Clock,
		OnExpire: e.onAuthRspTimeout,
		Logger:   l,
	})
	return e, nil
}

// Registry 预认证注册表 (关联层通过它接管上下文)
func (e *Engine) Registry() *preauth.Registry { return e.reg }

// AddSession 注册会话
func (e *Engine) AddSession(s *Session) error {
	e.sessMu.Lock()
	defer e.sessMu.Unlock()

	for _, cur := range e.sessions {
		if cur.cfg.ID == s.cfg.ID {
			return fmt.Errorf("mlme: session %d already registered", s.cfg.ID)
		}
	}
	e.sessions = append(e.sessions, s)
	sort.Slice(e.sessions, func(i, j int) bool {
		return e.sessions[i].cfg.ID < e.sessions[j].cfg.ID
	})
	return nil
}

// RemoveSession 注销会话并停止其定时器
func (e *Engine) RemoveSession(s *Session) {
	e.rxMu.Lock()
	e.stopFailureTimer(s)
	e.rxMu.Unlock()

	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	for i, cur := range e.sessions {
		if cur == s {
			e.sessions = append(e.sessions[:i], e.sessions[i+1:]...)
			return
		}
	}
}

// rxSeqCache 会话的序列号记录，容量与预认证上下文池相同
func (e *Engine) rxSeqCache(s *Session) *lru.Cache[dot11.MACAddr, uint16] {
	if s.rxSeq == nil {
		// MaxPreAuth 经 normalize 后为正数，New 不会失败
		s.rxSeq, _ = lru.New[dot11.MACAddr, uint16](e.cfg.MaxPreAuth)
	}
	return s.rxSeq
}

func (e *Engine) sessionByID(id int) *Session {
	e.sessMu.RLock()
	defer e.sessMu.RUnlock()
	for _, s := range e.sessions {
		if s.cfg.ID == id {
			return s
		}
	}
	return nil
}

func (e *Engine) sessionSnapshot() []*Session {
	e.sessMu.RLock()
	defer e.sessMu.RUnlock()
	return append([]*Session(nil), e.sessions...)
}

// SetReassociating 标记 STA 会话正在重关联 (FT 漫游)
func (e *Engine) SetReassociating(s *Session, on bool) {
	e.rxMu.Lock()
	defer e.rxMu.Unlock()
	if on {
		s.smeState = SMEWtReassoc
	} else {
		s.smeState = SMEIdle
	}
}

// SetRoaming 设置漫游状态及目标 AP 的 MLD 地址
func (e *Engine) SetRoaming(s *Session, on bool, peerMLD dot11.MACAddr) {
	e.rxMu.Lock()
	defer e.rxMu.Unlock()
	s.roaming = on
	s.roamPeerMLD = peerMLD
}

// BeginFTPreAuth 记录发往 target 的 FT 预认证请求
//
// 目标 AP 的响应会在没有本地会话时到达，由 OnAuthFrame(raw, nil) 关联到这里。
func (e *Engine) BeginFTPreAuth(s *Session, target dot11.MACAddr, cancel func()) {
	e.rxMu.Lock()
	defer e.rxMu.Unlock()
	s.ftPreAuth = &FTPreAuthRequest{Target: target, Cancel: cancel}
	s.ftPreAuthSession = true
	s.savedAuthRsp = nil
}

// EndFTPreAuth 清除 FT 预认证请求
func (e *Engine) EndFTPreAuth(s *Session) {
	e.rxMu.Lock()
	defer e.rxMu.Unlock()
	s.ftPreAuth = nil
	s.ftPreAuthSession = false
}

// SavedFTAuthResponse 重关联期间收到的预认证第二帧
func (e *Engine) SavedFTAuthResponse(s *Session) []byte {
	e.rxMu.Lock()
	defer e.rxMu.Unlock()
	return append([]byte(nil), s.savedAuthRsp...)
}

// SetSAERetry 记录等待重传的 SAE 帧；收到相同事务序号的帧后取消重传
func (e *Engine) SetSAERetry(s *Session, body []byte, cancel func()) {
	e.rxMu.Lock()
	defer e.rxMu.Unlock()
	s.saeRetry = &SAERetry{Body: append([]byte(nil), body...), Cancel: cancel}
}

// SetSAEPMKCached PMK 缓存命中时 SAE 请求以 Open 算法发出
func (e *Engine) SetSAEPMKCached(s *Session, cached bool) {
	e.rxMu.Lock()
	defer e.rxMu.Unlock()
	s.saePMKCached = cached
}

// Close 停止所有定时器并清空注册表
func (e *Engine) Close() error {
	e.rxMu.Lock()
	for _, s := range e.sessionSnapshot() {
		e.stopFailureTimer(s)
	}
	e.rxMu.Unlock()

	var err error
	if cerr := e.reg.Close(); cerr != nil && !errors.Is(cerr, preauth.ErrClosed) {
		err = multierr.Append(err, cerr)
	}
	return err
}

func (e *Engine) log(s *Session) *zap.Logger {
	if s == nil {
		return e.Logger
	}
	return e.Logger.With(logger.Int("session", s.cfg.ID), logger.Stringer("role", s.cfg.Role))
}
