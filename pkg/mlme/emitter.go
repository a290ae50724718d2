package mlme

import (
	"github.com/iniwex5/wauth-go/pkg/dot11"
	"github.com/iniwex5/wauth-go/pkg/logger"
)

// respond 编码并发送明文认证帧；发送失败只记录日志
func (e *Engine) respond(s *Session, dst dot11.MACAddr, body *dot11.AuthBody) {
	payload, err := body.Encode()
	if err != nil {
		e.log(s).Error("认证帧编码失败", logger.Mac("da", dst), logger.Err(err))
		return
	}
	e.transmit(&OutboundFrame{Session: s, Dest: dst, Body: body, Payload: payload})
}

// reply 以 rx 的事务序号 +1 回复
func (e *Engine) reply(s *Session, rx *rxFrame, status dot11.StatusCode) {
	e.respond(s, rx.hdr.SA, &dot11.AuthBody{
		Algorithm:   rx.body.Algorithm,
		Transaction: rx.body.Transaction + 1,
		Status:      status,
	})
}

// replyFrame4 Shared Key 第四帧
func (e *Engine) replyFrame4(s *Session, dst dot11.MACAddr, status dot11.StatusCode) {
	e.respond(s, dst, &dot11.AuthBody{
		Algorithm:   dot11.AlgSharedKey,
		Transaction: dot11.AuthFrame4,
		Status:      status,
	})
}

func (e *Engine) transmitProtected(s *Session, dst dot11.MACAddr, payload []byte) {
	e.transmit(&OutboundFrame{Session: s, Dest: dst, Payload: payload, Protected: true})
}

func (e *Engine) transmit(f *OutboundFrame) {
	l := e.log(f.Session)
	if f.Body != nil {
		l.Debug("发送认证帧",
			logger.Mac("da", f.Dest),
			logger.Stringer("alg", f.Body.Algorithm),
			logger.Uint16("transaction", f.Body.Transaction),
			logger.Stringer("status", f.Body.Status))
	} else {
		l.Debug("发送受保护认证帧", logger.Mac("da", f.Dest), logger.Int("len", len(f.Payload)))
	}
	if err := e.deps.Transmitter.Transmit(f); err != nil {
		l.Warn("认证帧发送失败", logger.Mac("da", f.Dest), logger.Err(err))
	}
}

func (e *Engine) sendDeauth(s *Session, dst dot11.MACAddr) {
	if err := e.deps.Transmitter.SendDeauth(s, dst, dot11.ReasonUnspecified); err != nil {
		e.log(s).Warn("去认证帧发送失败", logger.Mac("da", dst), logger.Err(err))
	}
}
