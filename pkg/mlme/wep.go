package mlme

import (
	"errors"

	"github.com/iniwex5/wauth-go/pkg/crypto"
	"github.com/iniwex5/wauth-go/pkg/dot11"
	"github.com/iniwex5/wauth-go/pkg/logger"
	"github.com/iniwex5/wauth-go/pkg/preauth"
)

// handleProtected 处理设置了 Protected 位的认证帧 (Shared Key 第三帧)
//
// 返回解密后的 body 交给后续分发；返回 nil body 表示已回复或已丢弃。
func (e *Engine) handleProtected(s *Session, rx *rxFrame, ctx preauth.Context, found bool) (*dot11.AuthBody, error) {
	l := e.log(s)
	sa := rx.hdr.SA

	// STA 不应收到加密的认证帧
	if s.cfg.Role == RoleSTA {
		l.Warn("STA 收到 Protected 认证帧", logger.Mac("sa", sa))
		e.replyFrame4(s, sa, dot11.StatusChallengeFail)
		return nil, nil
	}

	if n := len(rx.raw); n < dot11.MinEncryptedAuthLen || n > dot11.MaxEncryptedAuthLen {
		l.Warn("加密认证帧长度无效", logger.Int("len", n), logger.Mac("sa", sa))
		return nil, dropped("encrypted body length %d", n)
	}

	if !e.cfg.privacy(s.cfg.Role) {
		l.Warn("未启用 privacy 时收到加密认证帧", logger.Mac("sa", sa))
		e.replyFrame4(s, sa, dot11.StatusChallengeFail)
		return nil, nil
	}

	if !found {
		l.Warn("加密认证帧没有对应的预认证上下文", logger.Mac("sa", sa))
		e.replyFrame4(s, sa, dot11.StatusUnknownAuthTransaction)
		return nil, nil
	}
	if ctx.State != preauth.StateWtAuthFrame3 && ctx.State != preauth.StateAuthRspTimeout {
		l.Warn("预认证上下文状态不接受加密帧",
			logger.Mac("sa", sa), logger.Stringer("state", ctx.State))
		e.replyFrame4(s, sa, dot11.StatusUnknownAuthTransaction)
		return nil, nil
	}

	plain, err := e.decrypt(sa, rx.raw)
	switch {
	case errors.Is(err, crypto.ErrNoKey):
		l.Warn("找不到 WEP 密钥", logger.Mac("sa", sa))
		e.replyFrame4(s, sa, dot11.StatusChallengeFail)
		return nil, nil
	case err != nil:
		l.Warn("认证帧解密失败", logger.Mac("sa", sa), logger.Err(err))
		e.reg.Delete(sa)
		e.replyFrame4(s, sa, dot11.StatusChallengeFail)
		return nil, nil
	}

	body, err := dot11.DecodeAuthBody(plain)
	if err != nil {
		l.Warn("解密后的认证帧解码失败", logger.Mac("sa", sa), logger.Err(err))
		return nil, dropped("decode plaintext: %v", err)
	}
	return body, nil
}

func (e *Engine) decrypt(peer dot11.MACAddr, payload []byte) ([]byte, error) {
	if e.deps.Protector == nil {
		return nil, crypto.ErrNoKey
	}
	plain, err := e.deps.Protector.Decrypt(peer, payload)
	if err != nil {
		return nil, err
	}
	return plain, nil
}

func (e *Engine) encrypt(peer dot11.MACAddr, plaintext []byte) ([]byte, error) {
	if e.deps.Protector == nil {
		return nil, crypto.ErrNoKey
	}
	return e.deps.Protector.Encrypt(peer, e.cfg.WEPDefaultKeyID, plaintext)
}
