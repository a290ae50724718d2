package preauth

import (
	"time"

	"github.com/iniwex5/wauth-go/pkg/dot11"
)

// State 预认证上下文状态
type State uint8

const (
	StateInit State = iota
	StateWtAuthFrame2
	StateWtAuthFrame3
	StateWtAuthFrame4
	StateAuthRspTimeout // 等待第三帧超时，保留到第三帧到达或被回收
	StateWtSaeAuth
	StateWtFtAuth
	StateAuthenticated
)

var stateNames = [...]string{
	StateInit:           "Init",
	StateWtAuthFrame2:   "WtAuthFrame2",
	StateWtAuthFrame3:   "WtAuthFrame3",
	StateWtAuthFrame4:   "WtAuthFrame4",
	StateAuthRspTimeout: "AuthRspTimeout",
	StateWtSaeAuth:      "WtSaeAuth",
	StateWtFtAuth:       "WtFtAuth",
	StateAuthenticated:  "Authenticated",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// Context 单个对端的预认证状态
type Context struct {
	Peer      dot11.MACAddr
	PeerMLD   dot11.MACAddr // 全零表示对端没有 MLD
	SessionID int

	State     State
	Algorithm dot11.Algorithm
	SeqNum    uint16 // 最近一次接受的 802.11 序列号
	SeqValid  bool   // SeqNum 来自收到的帧

	// 仅在 Shared Key 等待状态下非空
	Challenge []byte

	CreatedAt   time.Time
	TimerActive bool

	MLOPresent bool // 第一帧携带 Multi-Link 元素
	Seen       bool // 关联层已接管
}

// SetSeq 记录收到的帧的序列号
func (c *Context) SetSeq(seq uint16) {
	c.SeqNum = seq
	c.SeqValid = true
}

// IsDuplicate seq 与上次接受的帧相同
func (c *Context) IsDuplicate(seq uint16) bool {
	return c.SeqValid && c.SeqNum == seq
}

// evictable 容量不足时可被回收的上下文
//
// SAE/FT 上下文从不回收，已被关联层接管的 Open 上下文也不回收。
func (c *Context) evictable() bool {
	switch c.Algorithm {
	case dot11.AlgOpen:
		return !c.Seen
	case dot11.AlgSharedKey:
		return c.State == StateAuthRspTimeout
	}
	return false
}

func (c Context) clone() Context {
	if c.Challenge != nil {
		c.Challenge = append([]byte(nil), c.Challenge...)
	}
	return c
}
