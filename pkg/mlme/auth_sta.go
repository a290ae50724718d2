package mlme

import (
	"fmt"

	"github.com/iniwex5/wauth-go/pkg/dot11"
	"github.com/iniwex5/wauth-go/pkg/logger"
	"github.com/iniwex5/wauth-go/pkg/preauth"
)

// MaxFTIESize 重关联期间保存的 FT 预认证响应上限
const MaxFTIESize = 384

// StartAuth STA 向 peer 发起认证
//
// SAE 由上层发出 commit，这里只进入 WtSaeAuth；PMK 已缓存时以 Open 发出第一帧。
// 两种情况都启动 AuthFailureTimeout 定时器，超时后上报 Refused(AuthTimeout)。
func (e *Engine) StartAuth(s *Session, peer dot11.MACAddr, alg dot11.Algorithm) error {
	e.rxMu.Lock()
	defer e.rxMu.Unlock()

	if s.cfg.Role != RoleSTA {
		return fmt.Errorf("mlme: %s cannot initiate authentication", s)
	}
	if s.authReq != nil {
		return ErrBusy
	}
	if peer.IsMulticast() || peer.IsZero() {
		return fmt.Errorf("mlme: invalid peer address %s", peer)
	}

	l := e.log(s)
	s.authReq = &AuthRequest{Peer: peer, Algorithm: alg}
	// AP 的序列号可能与上一轮认证重复
	if s.rxSeq != nil {
		s.rxSeq.Purge()
	}

	if alg == dot11.AlgSAE && !s.saePMKCached {
		s.mlmState = preauth.StateWtSaeAuth
		l.Info("等待外部 SAE 认证", logger.Mac("peer", peer))
	} else {
		wire := alg
		if alg == dot11.AlgSAE {
			wire = dot11.AlgOpen
		}
		s.mlmState = preauth.StateWtAuthFrame2
		l.Info("发起认证", logger.Mac("peer", peer), logger.Stringer("alg", wire))
		e.respond(s, peer, &dot11.AuthBody{
			Algorithm:   wire,
			Transaction: dot11.AuthFrame1,
			Status:      dot11.StatusSuccess,
		})
	}
	e.armFailureTimer(s)
	return nil
}

// ExternalAuthDone 上层完成 SAE 认证
func (e *Engine) ExternalAuthDone(s *Session, status dot11.StatusCode) error {
	e.rxMu.Lock()
	defer e.rxMu.Unlock()

	if s.mlmState != preauth.StateWtSaeAuth || s.authReq == nil {
		return dropped("%s not waiting for sae", s)
	}
	e.cancelSAERetry(s)
	if status != dot11.StatusSuccess {
		e.restore(s, refused(status))
		return nil
	}
	if err := e.authenticated(s, s.authReq.Peer, dot11.AlgSAE, nil); err != nil {
		e.restore(s, refused(dot11.StatusUnspecifiedFailure))
		return err
	}
	e.restore(s, succeeded())
	return nil
}

func (e *Engine) handleTx2(s *Session, rx *rxFrame) error {
	l := e.log(s)
	sa := rx.hdr.SA

	if s.mlmState != preauth.StateWtAuthFrame2 {
		if e.saveFTAuthResponse(s, rx) {
			return nil
		}
		l.Warn("未在等待第二帧", logger.Stringer("mlm", s.mlmState), logger.Mac("sa", sa))
		return dropped("tx2 in state %s", s.mlmState)
	}

	req := s.authReq
	if req == nil || sa != req.Peer {
		l.Warn("第二帧来自非请求的对端", logger.Mac("sa", sa))
		return dropped("tx2 from %s", sa)
	}

	if s.cfg.MLO && rx.body.MultiLink == nil {
		l.Warn("MLO 会话的第二帧缺少 Multi-Link 元素", logger.Mac("sa", sa))
		e.sendDeauth(s, s.cfg.BSSID)
		e.restore(s, refused(dot11.StatusUnspecifiedFailure))
		return nil
	}

	// 部分 AP 回复 AuthAlgNotSupported 时填错算法
	if rx.body.Status == dot11.StatusAuthAlgNotSupported {
		rx.body.Algorithm = req.Algorithm
	}
	if rx.body.Algorithm != req.Algorithm &&
		!(req.Algorithm == dot11.AlgSAE && s.saePMKCached && rx.body.Algorithm == dot11.AlgOpen) {
		l.Warn("第二帧算法与请求不符",
			logger.Stringer("want", req.Algorithm), logger.Stringer("got", rx.body.Algorithm))
		return dropped("tx2 algorithm %s", rx.body.Algorithm)
	}

	if rx.body.Status != dot11.StatusSuccess {
		l.Warn("认证被拒绝", rxFields(rx)...)
		e.restore(s, refused(rx.body.Status))
		return nil
	}

	if rx.body.Algorithm == dot11.AlgSharedKey {
		return e.tx2SharedKey(s, rx)
	}

	if err := e.authenticated(s, sa, req.Algorithm, rx); err != nil {
		e.restore(s, refused(dot11.StatusUnspecifiedFailure))
		return nil
	}
	l.Info("认证成功", logger.Mac("peer", sa), logger.Stringer("alg", rx.body.Algorithm))
	e.restore(s, succeeded())
	return nil
}

// saveFTAuthResponse 重关联期间到达的 FT 预认证第二帧先保存，由关联层取走
func (e *Engine) saveFTAuthResponse(s *Session, rx *rxFrame) bool {
	if s.smeState != SMEWtReassoc || s.ftPreAuth == nil {
		return false
	}
	if rx.hdr.SA != s.ftPreAuth.Target || rx.body.Status != dot11.StatusSuccess {
		return false
	}
	if len(rx.raw) >= MaxFTIESize {
		e.log(s).Warn("FT 预认证响应过长", logger.Int("len", len(rx.raw)))
		return false
	}
	s.savedAuthRsp = append(s.savedAuthRsp[:0], rx.raw...)
	e.log(s).Debug("保存重关联期间的 FT 预认证响应", logger.Mac("sa", rx.hdr.SA))
	return true
}

func (e *Engine) tx2SharedKey(s *Session, rx *rxFrame) error {
	l := e.log(s)
	sa := rx.hdr.SA

	if !e.cfg.privacy(s.cfg.Role) {
		l.Warn("未启用 privacy，无法完成 Shared Key", logger.Mac("sa", sa))
		e.reply(s, rx, dot11.StatusAuthAlgNotSupported)
		return nil
	}
	if !rx.body.HasChallenge() {
		l.Warn("第二帧没有 challenge text", logger.Mac("sa", sa))
		return dropped("tx2 without challenge")
	}

	plain, err := (&dot11.AuthBody{
		Algorithm:   dot11.AlgSharedKey,
		Transaction: dot11.AuthFrame3,
		Status:      dot11.StatusSuccess,
		Challenge:   rx.body.Challenge,
	}).Encode()
	if err != nil {
		return dropped("encode tx3: %v", err)
	}

	payload, err := e.encrypt(sa, plain)
	if err != nil {
		l.Warn("第三帧加密失败", logger.Mac("sa", sa), logger.Err(err))
		e.reply(s, rx, dot11.StatusChallengeFail)
		e.restore(s, refused(dot11.StatusChallengeFail))
		return nil
	}

	s.mlmState = preauth.StateWtAuthFrame4
	e.transmitProtected(s, sa, payload)
	return nil
}

func (e *Engine) handleTx4(s *Session, rx *rxFrame) error {
	l := e.log(s)
	sa := rx.hdr.SA

	if s.mlmState != preauth.StateWtAuthFrame4 {
		l.Warn("未在等待第四帧", logger.Stringer("mlm", s.mlmState))
		return dropped("tx4 in state %s", s.mlmState)
	}
	req := s.authReq
	if req == nil || sa != req.Peer {
		l.Warn("第四帧来自非请求的对端", logger.Mac("sa", sa))
		return dropped("tx4 from %s", sa)
	}
	if rx.body.Algorithm != dot11.AlgSharedKey || req.Algorithm != dot11.AlgSharedKey {
		l.Warn("第四帧算法错误", rxFields(rx)...)
		return dropped("tx4 algorithm %s", rx.body.Algorithm)
	}

	if rx.body.Status != dot11.StatusSuccess {
		l.Warn("Shared Key 认证被拒绝", rxFields(rx)...)
		e.restore(s, refused(rx.body.Status))
		return nil
	}

	if err := e.authenticated(s, sa, dot11.AlgSharedKey, rx); err != nil {
		e.restore(s, refused(dot11.StatusUnspecifiedFailure))
		return nil
	}
	l.Info("Shared Key 认证成功", logger.Mac("peer", sa))
	e.restore(s, succeeded())
	return nil
}

// authenticated 为 STA 侧建立已认证的预认证上下文，供关联阶段使用
//
// rx 为完成认证的帧；外部 SAE 完成时为 nil，不记录序列号。
func (e *Engine) authenticated(s *Session, peer dot11.MACAddr, alg dot11.Algorithm, rx *rxFrame) error {
	e.reg.Delete(peer)
	h, err := e.reg.Acquire(peer)
	if err != nil {
		e.log(s).Warn("预认证上下文分配失败", logger.Mac("peer", peer), logger.Err(err))
		return err
	}
	return e.reg.Update(h, func(c *preauth.Context) {
		c.Algorithm = alg
		c.State = preauth.StateAuthenticated
		if rx != nil {
			c.SetSeq(rx.seq())
		}
		c.SessionID = s.cfg.ID
		if s.cfg.MLO {
			c.MLOPresent = true
			c.PeerMLD = s.cfg.PeerMLD
		}
	})
}

// restore 结束 STA 认证流程并通知连接管理层
func (e *Engine) restore(s *Session, r Result) {
	e.stopFailureTimer(s)
	s.mlmState = preauth.StateInit

	var peer dot11.MACAddr
	if s.authReq != nil {
		peer = s.authReq.Peer
	}
	s.authReq = nil

	e.log(s).Debug("认证流程结束",
		logger.Mac("peer", peer),
		logger.Stringer("result", r.Code),
		logger.Stringer("status", r.Status))
	e.deps.Connections.AuthResult(s, peer, r)
}

func (e *Engine) armFailureTimer(s *Session) {
	e.stopFailureTimer(s)
	gen := s.failGen
	s.failTimer = e.cfg.Clock.AfterFunc(e.cfg.AuthFailureTimeout, func() {
		e.onAuthFailureTimeout(s, gen)
	})
}

// stopFailureTimer 调用方持有分发锁
func (e *Engine) stopFailureTimer(s *Session) {
	if s.failTimer != nil {
		s.failTimer.Stop()
		s.failTimer = nil
	}
	// 已经触发、正在等锁的回调按代数失效
	s.failGen++
}

func (e *Engine) onAuthFailureTimeout(s *Session, gen uint64) {
	e.rxMu.Lock()
	defer e.rxMu.Unlock()

	if s.failGen != gen || s.authReq == nil {
		return
	}
	s.failTimer = nil
	e.log(s).Warn("认证超时",
		logger.Mac("peer", s.authReq.Peer), logger.Stringer("mlm", s.mlmState))
	e.restore(s, refused(dot11.StatusAuthTimeout))
}

// AuthState STA 会话当前的认证状态
func (e *Engine) AuthState(s *Session) preauth.State {
	e.rxMu.Lock()
	defer e.rxMu.Unlock()
	return s.mlmState
}
