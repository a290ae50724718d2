package mlme

import (
	"github.com/iniwex5/wauth-go/pkg/dot11"
	"github.com/iniwex5/wauth-go/pkg/logger"
	"github.com/iniwex5/wauth-go/pkg/preauth"
	"go.uber.org/zap"
)

// rxFrame 正在处理的入站认证帧
type rxFrame struct {
	hdr  dot11.Header
	raw  []byte          // 线上 body (受保护帧为密文)
	body *dot11.AuthBody // 通用布局解码结果 (受保护帧为解密后的明文)
}

func (rx *rxFrame) seq() uint16 { return rx.hdr.Seq }

type txHandler func(e *Engine, s *Session, rx *rxFrame) error

type txKey struct {
	role        Role
	transaction uint16
}

// 角色 × 事务序号
var txHandlers = map[txKey]txHandler{
	{RoleAP, dot11.AuthFrame1}:  (*Engine).handleTx1,
	{RoleAP, dot11.AuthFrame3}:  (*Engine).handleTx3,
	{RoleSTA, dot11.AuthFrame2}: (*Engine).handleTx2,
	{RoleSTA, dot11.AuthFrame4}: (*Engine).handleTx4,
}

// OnAuthFrame 处理一个收到的认证管理帧
//
// raw 为完整 802.11 帧 (含 FCS)。s 为 nil 时走 FT 预认证的无会话路径。
// 被丢弃的帧返回包装了 ErrDropped 的错误；回复了状态码的帧返回 nil。
func (e *Engine) OnAuthFrame(raw []byte, s *Session) error {
	f, err := dot11.ParseFrame(raw)
	if err != nil {
		e.Logger.Debug("认证帧头解析失败", logger.Err(err))
		return dropped("parse: %v", err)
	}

	e.rxMu.Lock()
	defer e.rxMu.Unlock()

	if s == nil {
		return e.handleNoSession(f)
	}
	return e.dispatch(s, f)
}

func (e *Engine) dispatch(s *Session, f *dot11.Frame) error {
	l := e.log(s)
	hdr := f.Header

	if len(f.Body) == 0 {
		l.Warn("收到无 body 的认证帧", logger.Mac("sa", hdr.SA))
		return dropped("empty body")
	}
	if hdr.SA.IsMulticast() {
		l.Warn("收到组播源地址的认证帧", logger.Mac("sa", hdr.SA))
		return dropped("multicast sender %s", hdr.SA)
	}

	seen := e.rxSeqCache(s)
	if last, ok := seen.Get(hdr.SA); ok && hdr.Retry && last == hdr.Seq {
		l.Debug("重传的认证帧已处理，丢弃", logger.Mac("sa", hdr.SA), logger.Uint16("seq", hdr.Seq))
		return dropped("retry of seq %d", hdr.Seq)
	}
	ctx, _, found := e.reg.Find(hdr.SA)
	if found && ctx.IsDuplicate(hdr.Seq) {
		l.Warn("重复的认证帧", logger.Mac("sa", hdr.SA), logger.Uint16("seq", hdr.Seq))
		return dropped("duplicate seq %d", hdr.Seq)
	}
	seen.Add(hdr.SA, hdr.Seq)

	alg, err := dot11.PeekAlgorithm(f.Body)
	if err != nil {
		l.Warn("认证帧长度无效", logger.Int("len", len(f.Body)))
		return dropped("body too short")
	}

	l.Info("收到认证帧",
		logger.Mac("sa", hdr.SA),
		logger.Stringer("alg", alg),
		logger.Uint16("seq", hdr.Seq),
		logger.Stringer("mlm", s.mlmState))

	rx := &rxFrame{hdr: hdr, raw: f.Body}

	switch {
	case hdr.Protected:
		body, err := e.handleProtected(s, rx, ctx, found)
		if err != nil || body == nil {
			return err
		}
		rx.body = body
	case alg == dot11.AlgSAE:
		if s.cfg.Role == RoleSTA || e.cfg.AP.SAEEnabled {
			return e.handleSAE(s, rx)
		}
		return dropped("sae disabled")
	case alg == dot11.AlgPASN:
		return e.handlePASN(s, rx)
	case alg == dot11.AlgFT && s.cfg.Role == RoleAP:
		return e.handleFT(s, rx)
	default:
		body, err := dot11.DecodeAuthBody(f.Body)
		if err != nil {
			l.Warn("认证帧解码失败", logger.Mac("sa", hdr.SA), logger.Err(err))
			return dropped("decode: %v", err)
		}
		rx.body = body
	}

	if !validForRole(s.cfg.Role, rx.body) {
		l.Warn("认证帧与角色不符", logger.Uint16("transaction", rx.body.Transaction))
		return dropped("transaction %d invalid for %s", rx.body.Transaction, s.cfg.Role)
	}

	// 部分 AP 在 WEP 密钥错误时回复序号错误的第四帧
	if t := rx.body.Transaction; s.mlmState == preauth.StateWtAuthFrame4 && (t == 0 || t > dot11.AuthFrame3) {
		l.Warn("第四帧事务序号修正为 4", logger.Uint16("transaction", rx.body.Transaction))
		rx.body.Transaction = dot11.AuthFrame4
	}

	handler, ok := txHandlers[txKey{s.cfg.Role, rx.body.Transaction}]
	if !ok {
		l.Warn("无效的认证事务序号",
			logger.Uint16("transaction", rx.body.Transaction),
			logger.Mac("sa", hdr.SA))
		return dropped("transaction %d", rx.body.Transaction)
	}
	return handler(e, s, rx)
}

// validForRole 第 1/3 帧只发给 AP，第 2/4 帧只发给 STA；
// 第 3/4 帧必须是 Shared Key 或携带 challenge text
func validForRole(r Role, b *dot11.AuthBody) bool {
	switch b.Transaction {
	case dot11.AuthFrame1, dot11.AuthFrame3:
		if r == RoleSTA {
			return false
		}
	case dot11.AuthFrame2, dot11.AuthFrame4:
		if r == RoleAP {
			return false
		}
	}
	if (b.Transaction == dot11.AuthFrame3 || b.Transaction == dot11.AuthFrame4) &&
		!b.HasChallenge() && b.Algorithm != dot11.AlgSharedKey {
		return false
	}
	return true
}

func rxFields(rx *rxFrame) []zap.Field {
	fields := []zap.Field{logger.Mac("sa", rx.hdr.SA), logger.Uint16("seq", rx.seq())}
	if rx.body != nil {
		fields = append(fields,
			logger.Stringer("alg", rx.body.Algorithm),
			logger.Stringer("status", rx.body.Status))
	}
	return fields
}
