package mlme

import (
	"fmt"

	"github.com/iniwex5/wauth-go/pkg/dot11"
	"github.com/iniwex5/wauth-go/pkg/logger"
)

// handleNoSession 处理不属于任何本地会话的认证帧
//
// 主要是 FT over-the-air 预认证中目标 AP 的响应，另有漫游期间的 SAE 和 PASN。
func (e *Engine) handleNoSession(f *dot11.Frame) error {
	hdr := f.Header
	l := e.Logger.With(logger.Mac("sa", hdr.SA), logger.Mac("bssid", hdr.BSSID))

	if len(f.Body) == 0 {
		l.Warn("无会话认证帧没有 body")
		return dropped("empty body")
	}
	var alg dot11.Algorithm
	if a, err := dot11.PeekAlgorithm(f.Body); err == nil {
		alg = a
	}

	ftSess := e.takeFTPreAuthSession()

	switch alg {
	case dot11.AlgSAE:
		if e.forwardPreAuthSAE(f, ftSess) {
			return nil
		}
	case dot11.AlgPASN:
		s, ok := e.sessionForPeer(hdr.BSSID)
		if !ok {
			l.Warn("PASN 帧找不到会话")
			return ErrNoSession
		}
		e.forward(s, hdr, f.Body, s.cfg.Role == RoleAP)
		return nil
	}

	if ftSess == nil {
		l.Warn("没有进行 FT 预认证的会话")
		return ErrNoSession
	}
	req := ftSess.ftPreAuth
	if req == nil {
		l.Warn("会话没有待处理的 FT 预认证请求", logger.Int("session", ftSess.cfg.ID))
		return ErrNoPreAuth
	}
	if hdr.SA != req.Target {
		l.Warn("预认证响应来自非目标 AP", logger.Mac("target", req.Target))
		return fmt.Errorf("pre-auth response from %s, want %s: %w", hdr.SA, req.Target, ErrDropped)
	}
	if req.RspProcessed {
		l.Debug("预认证响应已处理")
		return nil
	}
	req.RspProcessed = true
	if req.Cancel != nil {
		req.Cancel()
	}

	body, err := dot11.DecodeAuthBody(f.Body)
	if err != nil {
		l.Warn("预认证响应解码失败", logger.Err(err))
		e.deps.Connections.FTPreAuthResponse(ftSess, err, append([]byte(nil), f.Body...))
		return nil
	}

	var result error
	switch {
	case body.Transaction != dot11.AuthFrame2:
		result = fmt.Errorf("pre-auth response transaction %d", body.Transaction)
	case body.Status == dot11.StatusSuccess:
	case body.Status == dot11.StatusAPUnableToHandleNewSTA:
		result = ErrNoSpace
	default:
		result = &RefusedError{Status: body.Status}
	}
	l.Info("收到 FT 预认证响应",
		logger.Int("session", ftSess.cfg.ID),
		logger.Stringer("status", body.Status))
	e.deps.Connections.FTPreAuthResponse(ftSess, result, append([]byte(nil), f.Body...))
	return nil
}

// forwardPreAuthSAE 漫游期间发往目标 AP 的 SAE 帧的响应
//
// 返回 false 时继续按 FT 预认证响应处理。
func (e *Engine) forwardPreAuthSAE(f *dot11.Frame, ftSess *Session) bool {
	s := e.sessionBySelf(f.Header.DA)
	if s == nil {
		s = e.roamingSession()
	}
	if s == nil {
		return false
	}
	e.cleanupSAERetry(s, f.Body)

	hdr, err := e.linkToMLD(s, f.Header)
	if err != nil {
		e.log(s).Warn("SAE 地址转换失败", logger.Err(err))
		return false
	}
	e.log(s).Debug("转发预认证 SAE 帧", logger.Mac("sa", f.Header.SA))
	e.deps.Connections.ForwardMgmt(&ForwardedFrame{
		Header: hdr,
		Body:   append([]byte(nil), f.Body...),
	})

	if ftSess != nil && ftSess.ftPreAuth != nil {
		if t, _, ok := dot11.PeekFixed(f.Body); ok && t == dot11.AuthFrame2 {
			e.deps.Connections.FTPreAuthResponse(ftSess, nil, append([]byte(nil), f.Body...))
		}
	}
	return true
}

// takeFTPreAuthSession 取最后一个标记了 FT 预认证的会话并清除所有标记
func (e *Engine) takeFTPreAuthSession() *Session {
	var found *Session
	for _, s := range e.sessionSnapshot() {
		if s.ftPreAuthSession {
			found = s
			s.ftPreAuthSession = false
		}
	}
	return found
}

func (e *Engine) sessionBySelf(addr dot11.MACAddr) *Session {
	for _, s := range e.sessionSnapshot() {
		if s.cfg.Self == addr {
			return s
		}
	}
	return nil
}

func (e *Engine) roamingSession() *Session {
	for _, s := range e.sessionSnapshot() {
		if s.roaming {
			return s
		}
	}
	return nil
}
