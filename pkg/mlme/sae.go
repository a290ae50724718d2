package mlme

import (
	"bytes"

	"github.com/iniwex5/wauth-go/pkg/dot11"
	"github.com/iniwex5/wauth-go/pkg/logger"
	"github.com/iniwex5/wauth-go/pkg/preauth"
)

// handleSAE SAE 帧由上层协议栈处理，这里只维护预认证上下文并转发
//
// AP 侧只在没有 WtSaeAuth 上下文时新建，所以同一对端的 Open 上下文会被 SAE 替换，
// 反之 SAE 上下文不会被 Open 第一帧以外的帧替换。
func (e *Engine) handleSAE(s *Session, rx *rxFrame) error {
	if s.cfg.Role == RoleAP {
		return e.handleSAEAP(s, rx)
	}
	return e.handleSAESTA(s, rx)
}

func (e *Engine) handleSAEAP(s *Session, rx *rxFrame) error {
	l := e.log(s)
	sa := rx.hdr.SA
	hdr := rx.hdr

	ctx, cur, found := e.reg.Find(sa)
	if !found || ctx.State != preauth.StateWtSaeAuth {
		if found {
			l.Debug("SAE 替换已有的预认证上下文",
				logger.Mac("sa", sa), logger.Stringer("state", ctx.State))
			e.reg.Delete(sa)
		}
		mld, mlo := dot11.PeerMLDFromSAECommit(rx.raw)
		h, err := e.reg.Acquire(sa)
		if err != nil {
			// 上层仍需看到 commit 才能回复拒绝
			l.Warn("SAE 预认证上下文分配失败", logger.Mac("sa", sa), logger.Err(err))
		} else {
			_ = e.reg.Update(h, func(c *preauth.Context) {
				c.Algorithm = dot11.AlgSAE
				c.State = preauth.StateWtSaeAuth
				c.SetSeq(rx.seq())
				c.SessionID = s.cfg.ID
				c.MLOPresent = mlo
				c.PeerMLD = mld
			})
		}
	} else {
		var err error
		if hdr, err = e.linkToMLD(s, rx.hdr); err != nil {
			l.Warn("SAE 地址转换失败", logger.Mac("sa", sa), logger.Err(err))
			return dropped("sae: %v", err)
		}
		_ = e.reg.Update(cur, func(c *preauth.Context) {
			c.SetSeq(rx.seq())
		})
	}

	e.forward(s, hdr, rx.raw, true)
	return nil
}

func (e *Engine) handleSAESTA(s *Session, rx *rxFrame) error {
	l := e.log(s)
	if s.mlmState != preauth.StateWtSaeAuth {
		l.Warn("未在等待 SAE 时收到 SAE 帧", logger.Stringer("mlm", s.mlmState), logger.Mac("sa", rx.hdr.SA))
	}
	e.cleanupSAERetry(s, rx.raw)

	hdr, err := e.linkToMLD(s, rx.hdr)
	if err != nil {
		l.Warn("SAE 地址转换失败", logger.Mac("sa", rx.hdr.SA), logger.Err(err))
		return dropped("sae: %v", err)
	}
	e.forward(s, hdr, rx.raw, false)
	return nil
}

// saeRetryMatches 对端帧与待重传帧的事务序号相同
func saeRetryMatches(s *Session, body []byte) bool {
	r := s.saeRetry
	if r == nil || len(body) < 4 || len(r.Body) < 4 {
		return false
	}
	return bytes.Equal(body[2:4], r.Body[2:4])
}

// cleanupSAERetry 收到对端对应的 SAE 帧后停止重传
func (e *Engine) cleanupSAERetry(s *Session, body []byte) {
	if saeRetryMatches(s, body) {
		e.cancelSAERetry(s)
	}
}

func (e *Engine) cancelSAERetry(s *Session) {
	if s.saeRetry == nil {
		return
	}
	if s.saeRetry.Cancel != nil {
		s.saeRetry.Cancel()
	}
	s.saeRetry = nil
}

func (e *Engine) forward(s *Session, hdr dot11.Header, body []byte, external bool) {
	e.log(s).Debug("转发认证帧",
		logger.Mac("sa", hdr.SA), logger.Mac("da", hdr.DA), logger.Int("len", len(body)))
	e.deps.Connections.ForwardMgmt(&ForwardedFrame{
		Session:      s,
		Header:       hdr,
		Body:         append([]byte(nil), body...),
		ExternalAuth: external,
	})
}
