package mlme

import (
	"github.com/iniwex5/wauth-go/pkg/dot11"
)

// OutboundFrame 待发送的认证帧
type OutboundFrame struct {
	Session *Session
	Dest    dot11.MACAddr
	// Body 明文 body；受保护帧为 nil
	Body *dot11.AuthBody
	// Payload 线上字节，受保护帧为 IV || 密文 || ICV
	Payload   []byte
	Protected bool
}

// Transmitter 帧发送通道
type Transmitter interface {
	Transmit(f *OutboundFrame) error
	SendDeauth(s *Session, dst dot11.MACAddr, reason uint16) error
}

// ResultCode 上报给连接管理层的认证结果
type ResultCode uint8

const (
	ResultSuccess ResultCode = iota
	ResultRefused
)

func (c ResultCode) String() string {
	if c == ResultSuccess {
		return "success"
	}
	return "refused"
}

// Result 认证结果
type Result struct {
	Code   ResultCode
	Status dot11.StatusCode
}

func succeeded() Result { return Result{Code: ResultSuccess} }

func refused(status dot11.StatusCode) Result {
	return Result{Code: ResultRefused, Status: status}
}

// ForwardedFrame 交给上层 (SAE/FT/PASN 协议栈) 处理的认证帧
type ForwardedFrame struct {
	// Session 为 nil 表示不限定会话
	Session *Session
	// Header 已完成链路地址到 MLD 地址的转换
	Header dot11.Header
	Body   []byte
	// ExternalAuth AP 侧由上层完成认证
	ExternalAuth bool
}

// ConnectionManager 连接管理层
//
// 回调可能在注册表定时器协程中调用，实现需要自行同步。
type ConnectionManager interface {
	AuthResult(s *Session, peer dot11.MACAddr, r Result)
	ForwardMgmt(f *ForwardedFrame)
	FTPreAuthResponse(s *Session, err error, body []byte)
}

// Station 已关联站点
type Station struct {
	Addr dot11.MACAddr
	PMF  bool
	// LeavePending 去关联/去认证帧的 ACK 尚未收到
	LeavePending bool
}

// StationTable 关联站点表
type StationTable interface {
	Lookup(s *Session, addr dot11.MACAddr) (Station, bool)
	Delete(s *Session, addr dot11.MACAddr)
}

// PeerDirectory 按对端地址查找所属会话 (PASN)
type PeerDirectory interface {
	SessionForPeer(addr dot11.MACAddr) (*Session, bool)
}
