package mlme

import (
	"github.com/iniwex5/wauth-go/pkg/crypto"
	"github.com/iniwex5/wauth-go/pkg/dot11"
	"github.com/iniwex5/wauth-go/pkg/logger"
	"github.com/iniwex5/wauth-go/pkg/preauth"
)

// 第一帧按算法选择处理函数；表中没有的算法回复 AuthAlgNotSupported
var tx1Handlers = map[dot11.Algorithm]txHandler{
	dot11.AlgOpen:      (*Engine).tx1Open,
	dot11.AlgSharedKey: (*Engine).tx1SharedKey,
}

func (e *Engine) handleTx1(s *Session, rx *rxFrame) error {
	l := e.log(s)
	sa := rx.hdr.SA

	if e.evictConnectedStation(s, sa) {
		return nil
	}

	// 同序列号的重发已在分发时丢弃，这里是新的认证
	if ctx, _, ok := e.reg.Find(sa); ok {
		l.Debug("对端重新发起认证，删除旧的预认证上下文",
			logger.Mac("sa", sa), logger.Stringer("state", ctx.State))
		e.reg.Delete(sa)
	}

	if e.reg.Len() >= e.reg.Cap() && !e.reg.EvictOldestOpen() {
		l.Error("预认证上下文已满", logger.Int("max", e.reg.Cap()))
		e.reply(s, rx, dot11.StatusUnspecifiedFailure)
		return nil
	}

	handler, ok := tx1Handlers[rx.body.Algorithm]
	if !ok {
		l.Warn("不支持的认证算法", rxFields(rx)...)
		e.reply(s, rx, dot11.StatusAuthAlgNotSupported)
		return nil
	}
	return handler(e, s, rx)
}

// evictConnectedStation 已关联站点再次发起认证
//
// 非 PMF 站点直接去认证并删除；PMF 站点由 SA Query 决定，这里不动。
func (e *Engine) evictConnectedStation(s *Session, sa dot11.MACAddr) bool {
	st, ok := e.lookupStation(s, sa)
	if !ok {
		return false
	}
	if st.LeavePending {
		// 去关联 ACK 未到，直接完成删除
		e.deps.Stations.Delete(s, sa)
		return false
	}
	if st.PMF {
		return false
	}
	e.log(s).Error("站点已关联但收到认证帧，发送去认证", logger.Mac("sa", sa))
	e.sendDeauth(s, sa)
	e.deps.Stations.Delete(s, sa)
	return true
}

func (e *Engine) lookupStation(s *Session, sa dot11.MACAddr) (Station, bool) {
	if e.deps.Stations == nil {
		return Station{}, false
	}
	return e.deps.Stations.Lookup(s, sa)
}

func (e *Engine) tx1Open(s *Session, rx *rxFrame) error {
	h, err := e.reg.Acquire(rx.hdr.SA)
	if err != nil {
		e.log(s).Warn("预认证上下文分配失败", logger.Mac("sa", rx.hdr.SA), logger.Err(err))
		return dropped("acquire: %v", err)
	}
	mlo := s.cfg.MLO && rx.body.MultiLink != nil
	_ = e.reg.Update(h, func(c *preauth.Context) {
		c.Algorithm = rx.body.Algorithm
		c.State = preauth.StateAuthenticated
		c.SetSeq(rx.seq())
		c.SessionID = s.cfg.ID
		c.MLOPresent = mlo
		if mlo {
			c.PeerMLD = rx.body.MultiLink.MLDAddr
		}
	})
	e.reply(s, rx, dot11.StatusSuccess)
	return nil
}

func (e *Engine) tx1SharedKey(s *Session, rx *rxFrame) error {
	l := e.log(s)
	sa := rx.hdr.SA

	if !e.cfg.privacy(s.cfg.Role) {
		l.Warn("未启用 privacy，拒绝 Shared Key", logger.Mac("sa", sa))
		e.reply(s, rx, dot11.StatusAuthAlgNotSupported)
		return nil
	}

	h, err := e.reg.Acquire(sa)
	if err != nil {
		l.Warn("预认证上下文分配失败", logger.Mac("sa", sa), logger.Err(err))
		return dropped("acquire: %v", err)
	}

	challenge, err := crypto.NewChallenge(e.cfg.Rand, dot11.ChallengeLen)
	if err != nil {
		l.Error("challenge text 生成失败", logger.Mac("sa", sa), logger.Err(err))
		e.reply(s, rx, dot11.StatusAssocRejectedTemporarily)
		e.reg.Delete(sa)
		return nil
	}

	_ = e.reg.Update(h, func(c *preauth.Context) {
		c.Algorithm = dot11.AlgSharedKey
		c.State = preauth.StateWtAuthFrame3
		c.SetSeq(rx.seq())
		c.SessionID = s.cfg.ID
		c.Challenge = challenge
	})
	if err := e.reg.ArmTimer(h, e.cfg.AuthRspTimeout); err != nil {
		l.Warn("认证响应定时器启动失败", logger.Mac("sa", sa), logger.Err(err))
		e.reply(s, rx, dot11.StatusUnspecifiedFailure)
		e.reg.Delete(sa)
		return nil
	}

	e.respond(s, sa, &dot11.AuthBody{
		Algorithm:   rx.body.Algorithm,
		Transaction: dot11.AuthFrame2,
		Status:      dot11.StatusSuccess,
		Challenge:   challenge,
	})
	return nil
}

func (e *Engine) handleTx3(s *Session, rx *rxFrame) error {
	l := e.log(s)
	sa := rx.hdr.SA

	if rx.body.Algorithm != dot11.AlgSharedKey {
		l.Warn("第三帧算法不是 Shared Key", rxFields(rx)...)
		e.replyFrame4(s, sa, dot11.StatusUnknownAuthTransaction)
		return nil
	}
	if !rx.hdr.Protected {
		l.Warn("第三帧未设置 Protected 位", logger.Mac("sa", sa))
		e.replyFrame4(s, sa, dot11.StatusChallengeFail)
		return nil
	}

	ctx, h, ok := e.reg.Find(sa)
	if !ok {
		l.Warn("第三帧没有对应的预认证上下文", logger.Mac("sa", sa))
		e.replyFrame4(s, sa, dot11.StatusUnknownAuthTransaction)
		return nil
	}
	switch ctx.State {
	case preauth.StateAuthRspTimeout:
		e.rspTimedOut(s, sa)
		return nil
	case preauth.StateWtAuthFrame3:
	default:
		e.replyFrame4(s, sa, dot11.StatusUnknownAuthTransaction)
		return nil
	}

	if rx.body.Status != dot11.StatusSuccess {
		// 等待超时后删除
		l.Warn("第三帧状态码非成功", rxFields(rx)...)
		return dropped("tx3 status %d", rx.body.Status)
	}

	if !crypto.Equal(rx.body.Challenge, ctx.Challenge) {
		l.Warn("challenge 校验失败", logger.Mac("sa", sa))
		e.replyFrame4(s, sa, dot11.StatusChallengeFail)
		return nil
	}

	if err := e.reg.DisarmTimer(h); err != nil {
		return dropped("disarm: %v", err)
	}
	// 定时器可能在 Find 与 DisarmTimer 之间触发
	var timedOut bool
	err := e.reg.Update(h, func(c *preauth.Context) {
		if c.State != preauth.StateWtAuthFrame3 {
			timedOut = true
			return
		}
		c.State = preauth.StateAuthenticated
		c.SetSeq(rx.seq())
		c.Challenge = nil
	})
	if err != nil {
		return dropped("update: %v", err)
	}
	if timedOut {
		e.rspTimedOut(s, sa)
		return nil
	}

	l.Info("Shared Key 认证成功", logger.Mac("sa", sa))
	e.replyFrame4(s, sa, dot11.StatusSuccess)
	return nil
}

// rspTimedOut 认证响应超时后才到达的第三帧
func (e *Engine) rspTimedOut(s *Session, sa dot11.MACAddr) {
	e.log(s).Warn("认证响应已超时", logger.Mac("sa", sa))
	e.replyFrame4(s, sa, dot11.StatusAuthTimeout)
	e.reg.Delete(sa)
}

// onAuthRspTimeout 注册表定时器回调，不持有分发锁
func (e *Engine) onAuthRspTimeout(ctx preauth.Context) {
	if ctx.State != preauth.StateAuthRspTimeout {
		return
	}
	s := e.sessionByID(ctx.SessionID)
	if s == nil {
		return
	}
	e.deps.Connections.AuthResult(s, ctx.Peer, refused(dot11.StatusAuthTimeout))
}
