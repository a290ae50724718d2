package mlme

import (
	"github.com/iniwex5/wauth-go/pkg/dot11"
	"github.com/iniwex5/wauth-go/pkg/logger"
	"github.com/iniwex5/wauth-go/pkg/preauth"
)

// handleFT AP 收到 FT 认证请求，交给上层完成
func (e *Engine) handleFT(s *Session, rx *rxFrame) error {
	l := e.log(s)
	sa := rx.hdr.SA

	ctx, _, found := e.reg.Find(sa)
	if found {
		if ctx.State == preauth.StateWtFtAuth {
			l.Debug("FT 认证进行中，丢弃", logger.Mac("sa", sa))
			return dropped("ft auth in progress")
		}
		e.reg.Delete(sa)
	}

	h, err := e.reg.Acquire(sa)
	if err != nil {
		l.Warn("FT 预认证上下文分配失败", logger.Mac("sa", sa), logger.Err(err))
		return dropped("acquire: %v", err)
	}
	_ = e.reg.Update(h, func(c *preauth.Context) {
		c.Algorithm = dot11.AlgFT
		c.State = preauth.StateWtFtAuth
		c.SetSeq(rx.seq())
		c.SessionID = s.cfg.ID
	})

	e.forward(s, rx.hdr, rx.raw, true)
	return nil
}

// handlePASN 转发给拥有该对端的会话
func (e *Engine) handlePASN(s *Session, rx *rxFrame) error {
	target := s
	if ps, ok := e.sessionForPeer(rx.hdr.SA); ok {
		target = ps
	}
	e.forward(target, rx.hdr, rx.raw, target.cfg.Role == RoleAP)
	return nil
}

func (e *Engine) sessionForPeer(addr dot11.MACAddr) (*Session, bool) {
	if e.deps.Peers == nil {
		return nil, false
	}
	s, ok := e.deps.Peers.SessionForPeer(addr)
	if !ok || s == nil {
		return nil, false
	}
	return s, true
}
