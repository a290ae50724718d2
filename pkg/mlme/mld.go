package mlme

import (
	"errors"
	"fmt"

	"github.com/iniwex5/wauth-go/pkg/dot11"
)

var errNoPeerMLD = errors.New("peer MLD address unknown")

// linkToMLD 把 SAE 帧头中的链路地址换成 MLD 地址
//
// 只有 SAEAddrTranslation 会话需要转换。AP 侧对端 MLD 地址来自预认证上下文，
// STA 侧来自当前 BSS (漫游时为目标 AP)。
func (e *Engine) linkToMLD(s *Session, hdr dot11.Header) (dot11.Header, error) {
	if !s.cfg.SAEAddrTranslation {
		return hdr, nil
	}

	if s.cfg.Role == RoleAP {
		ctx, _, ok := e.reg.Find(hdr.SA)
		if !ok {
			return hdr, fmt.Errorf("translate %s: no pre-auth context", hdr.SA)
		}
		// 非 MLO 对端保持链路地址
		if ctx.PeerMLD.IsZero() {
			return hdr, nil
		}
		hdr.SA = ctx.PeerMLD
		hdr.BSSID = s.cfg.SelfMLD
		hdr.DA = s.cfg.SelfMLD
		return hdr, nil
	}

	peer := s.cfg.PeerMLD
	if s.roaming {
		peer = s.roamPeerMLD
	}
	if peer.IsZero() {
		return hdr, fmt.Errorf("translate %s: %w", hdr.SA, errNoPeerMLD)
	}
	hdr.SA = peer
	hdr.BSSID = peer
	hdr.DA = s.cfg.SelfMLD
	return hdr, nil
}
