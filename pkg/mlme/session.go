package mlme

import (
	"fmt"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/iniwex5/wauth-go/pkg/dot11"
	"github.com/iniwex5/wauth-go/pkg/preauth"
)

// Role 会话角色
type Role uint8

const (
	RoleAP Role = iota
	RoleSTA
)

func (r Role) String() string {
	if r == RoleAP {
		return "ap"
	}
	return "sta"
}

// SMEState 会话的 SME 阶段，只区分是否正在重关联
type SMEState uint8

const (
	SMEIdle SMEState = iota
	SMEWtReassoc
)

// AuthRequest STA 发起的认证请求
type AuthRequest struct {
	Peer      dot11.MACAddr
	Algorithm dot11.Algorithm
}

// FTPreAuthRequest 向目标 AP 发出的 FT 预认证请求
type FTPreAuthRequest struct {
	Target       dot11.MACAddr
	RspProcessed bool
	// Cancel 停止预认证响应定时器
	Cancel func()
}

// SAERetry 等待重传的 SAE 帧
type SAERetry struct {
	Body   []byte
	Cancel func()
}

// SessionConfig 创建会话时确定的参数
type SessionConfig struct {
	ID    int
	Role  Role
	Self  dot11.MACAddr
	BSSID dot11.MACAddr

	// MLO 会话的链路与 MLD 地址
	MLO     bool
	SelfMLD dot11.MACAddr
	PeerMLD dot11.MACAddr // STA: 当前 BSS 的 MLD 地址
	// SAEAddrTranslation 转发 SAE 帧前把链路地址换成 MLD 地址
	SAEAddrTranslation bool
}

// Session 一个虚拟接口上的认证会话
//
// 除 SessionConfig 外的字段只在 Engine 的分发锁内访问。
type Session struct {
	cfg SessionConfig

	mlmState preauth.State
	smeState SMEState
	authReq  *AuthRequest

	// 每个发送方最近处理过的序列号，用于丢弃重传
	rxSeq *lru.Cache[dot11.MACAddr, uint16]

	roaming     bool
	roamPeerMLD dot11.MACAddr

	ftPreAuth        *FTPreAuthRequest
	ftPreAuthSession bool
	savedAuthRsp     []byte

	saeRetry     *SAERetry
	saePMKCached bool

	failTimer *clock.Timer
	failGen   uint64
}

// NewSession 创建会话，需通过 Engine.AddSession 注册
func NewSession(cfg SessionConfig) *Session {
	return &Session{cfg: cfg}
}

func (s *Session) ID() int              { return s.cfg.ID }
func (s *Session) Role() Role           { return s.cfg.Role }
func (s *Session) Self() dot11.MACAddr  { return s.cfg.Self }
func (s *Session) BSSID() dot11.MACAddr { return s.cfg.BSSID }

func (s *Session) String() string {
	return fmt.Sprintf("session %d (%s %s)", s.cfg.ID, s.cfg.Role, s.cfg.Self)
}
