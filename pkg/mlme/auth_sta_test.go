package mlme

import (
	"testing"
	"time"

	"github.com/iniwex5/wauth-go/pkg/dot11"
	"github.com/iniwex5/wauth-go/pkg/preauth"
	"github.com/stretchr/testify/require"
)

func withSTAPrivacy(c *Config) { c.STA.Privacy = true }

func TestSTAOpenAuth(t *testing.T) {
	h := newHarness(t, nil)
	sta := h.staSession()

	require.NoError(t, h.e.StartAuth(sta, apAddr, dot11.AlgOpen))
	tx1 := h.tx.last(t)
	require.Equal(t, apAddr, tx1.Dest)
	require.Equal(t, dot11.AuthFrame1, sentBody(t, tx1).Transaction)
	require.Equal(t, preauth.StateWtAuthFrame2, h.e.AuthState(sta))

	require.NoError(t, h.e.OnAuthFrame(h.raw(toSTA(apAddr), authBody(t, dot11.AlgOpen, 2, 0, nil)), sta))

	res := h.cm.authResults()
	require.Len(t, res, 1)
	require.Equal(t, sta, res[0].s)
	require.Equal(t, apAddr, res[0].peer)
	require.Equal(t, succeeded(), res[0].r)
	require.Equal(t, preauth.StateInit, h.e.AuthState(sta))

	ctx, _, ok := h.e.Registry().Find(apAddr)
	require.True(t, ok)
	require.Equal(t, preauth.StateAuthenticated, ctx.State)

	// 认证失败定时器已停止
	h.clk.Add(2 * time.Second)
	require.Len(t, h.cm.authResults(), 1)
}

func TestSTAStartAuthErrors(t *testing.T) {
	h := newHarness(t, nil)
	sta := h.staSession()
	ap := h.session(SessionConfig{ID: 7, Role: RoleAP, Self: apAddr, BSSID: apAddr})

	require.Error(t, h.e.StartAuth(ap, staAddr, dot11.AlgOpen))
	require.Error(t, h.e.StartAuth(sta, dot11.BroadcastAddr, dot11.AlgOpen))

	require.NoError(t, h.e.StartAuth(sta, apAddr, dot11.AlgOpen))
	require.ErrorIs(t, h.e.StartAuth(sta, apAddr, dot11.AlgOpen), ErrBusy)
}

func TestSTARefused(t *testing.T) {
	h := newHarness(t, nil)
	sta := h.staSession()

	require.NoError(t, h.e.StartAuth(sta, apAddr, dot11.AlgOpen))
	require.NoError(t, h.e.OnAuthFrame(h.raw(toSTA(apAddr), authBody(t, dot11.AlgOpen, 2, dot11.StatusUnspecifiedFailure, nil)), sta))

	res := h.cm.authResults()
	require.Len(t, res, 1)
	require.Equal(t, refused(dot11.StatusUnspecifiedFailure), res[0].r)
	require.Equal(t, 0, h.e.Registry().Len())
}

func TestSTAAlgNotSupportedCoerced(t *testing.T) {
	h := newHarness(t, withSTAPrivacy)
	sta := h.staSession()

	require.NoError(t, h.e.StartAuth(sta, apAddr, dot11.AlgSharedKey))
	// AP 回复的算法字段与请求不同
	body := authBody(t, dot11.AlgOpen, 2, dot11.StatusAuthAlgNotSupported, nil)
	require.NoError(t, h.e.OnAuthFrame(h.raw(toSTA(apAddr), body), sta))

	res := h.cm.authResults()
	require.Len(t, res, 1)
	require.Equal(t, refused(dot11.StatusAuthAlgNotSupported), res[0].r)
}

func TestSTAIgnoresUnexpectedFrames(t *testing.T) {
	h := newHarness(t, nil)
	sta := h.staSession()
	other := peerN(9)

	// 没有进行中的认证
	err := h.e.OnAuthFrame(h.raw(toSTA(apAddr), authBody(t, dot11.AlgOpen, 2, 0, nil)), sta)
	require.ErrorIs(t, err, ErrDropped)

	require.NoError(t, h.e.StartAuth(sta, apAddr, dot11.AlgOpen))
	err = h.e.OnAuthFrame(h.raw(toSTA(other), authBody(t, dot11.AlgOpen, 2, 0, nil)), sta)
	require.ErrorIs(t, err, ErrDropped)

	err = h.e.OnAuthFrame(h.raw(toSTA(apAddr), authBody(t, dot11.AlgSharedKey, 2, 0, nil)), sta)
	require.ErrorIs(t, err, ErrDropped)

	// STA 不处理第一帧
	err = h.e.OnAuthFrame(h.raw(toSTA(apAddr), authBody(t, dot11.AlgOpen, 1, 0, nil)), sta)
	require.ErrorIs(t, err, ErrDropped)

	require.Empty(t, h.cm.authResults())
	require.Equal(t, preauth.StateWtAuthFrame2, h.e.AuthState(sta))
}

func TestSTAAuthFailureTimeout(t *testing.T) {
	h := newHarness(t, nil)
	sta := h.staSession()

	require.NoError(t, h.e.StartAuth(sta, apAddr, dot11.AlgOpen))
	h.clk.Add(time.Second)

	res := h.waitResults(1)
	require.Equal(t, apAddr, res[0].peer)
	require.Equal(t, refused(dot11.StatusAuthTimeout), res[0].r)
	require.Equal(t, preauth.StateInit, h.e.AuthState(sta))

	// 超时后可以重新发起
	require.NoError(t, h.e.StartAuth(sta, apAddr, dot11.AlgOpen))
}

// staSharedKeyToFrame4 发起 Shared Key 并处理第二帧，返回发出的第三帧明文
func staSharedKeyToFrame4(t *testing.T, h *harness, sta *Session) *dot11.AuthBody {
	t.Helper()
	require.NoError(t, h.e.StartAuth(sta, apAddr, dot11.AlgSharedKey))
	require.NoError(t, h.e.OnAuthFrame(h.raw(toSTA(apAddr), authBody(t, dot11.AlgSharedKey, 2, 0, testChallenge)), sta))
	require.Equal(t, preauth.StateWtAuthFrame4, h.e.AuthState(sta))

	tx3 := h.tx.last(t)
	require.True(t, tx3.Protected)
	require.Nil(t, tx3.Body)
	require.Equal(t, apAddr, tx3.Dest)

	plain, err := h.prot.Decrypt(apAddr, tx3.Payload)
	require.NoError(t, err)
	body, err := dot11.DecodeAuthBody(plain)
	require.NoError(t, err)
	return body
}

func TestSTASharedKeyHandshake(t *testing.T) {
	h := newHarness(t, withSTAPrivacy)
	sta := h.staSession()

	tx3 := staSharedKeyToFrame4(t, h, sta)
	require.Equal(t, dot11.AlgSharedKey, tx3.Algorithm)
	require.Equal(t, dot11.AuthFrame3, tx3.Transaction)
	require.Equal(t, testChallenge, tx3.Challenge)

	require.NoError(t, h.e.OnAuthFrame(h.raw(toSTA(apAddr), authBody(t, dot11.AlgSharedKey, 4, 0, nil)), sta))

	res := h.cm.authResults()
	require.Len(t, res, 1)
	require.Equal(t, succeeded(), res[0].r)

	ctx, _, ok := h.e.Registry().Find(apAddr)
	require.True(t, ok)
	require.Equal(t, preauth.StateAuthenticated, ctx.State)
	require.Equal(t, dot11.AlgSharedKey, ctx.Algorithm)
}

func TestSTAFrame4TransactionOverride(t *testing.T) {
	h := newHarness(t, withSTAPrivacy)
	sta := h.staSession()
	staSharedKeyToFrame4(t, h, sta)

	require.NoError(t, h.e.OnAuthFrame(h.raw(toSTA(apAddr), authBody(t, dot11.AlgSharedKey, 5, dot11.StatusChallengeFail, nil)), sta))
	res := h.cm.authResults()
	require.Len(t, res, 1)
	require.Equal(t, refused(dot11.StatusChallengeFail), res[0].r)
}

func TestSTASharedKeyWithoutKey(t *testing.T) {
	h := newHarness(t, withSTAPrivacy)
	h.prot.noKey = true
	sta := h.staSession()

	require.NoError(t, h.e.StartAuth(sta, apAddr, dot11.AlgSharedKey))
	require.NoError(t, h.e.OnAuthFrame(h.raw(toSTA(apAddr), authBody(t, dot11.AlgSharedKey, 2, 0, testChallenge)), sta))

	body := sentBody(t, h.tx.last(t))
	require.Equal(t, dot11.AuthFrame3, body.Transaction)
	require.Equal(t, dot11.StatusChallengeFail, body.Status)

	res := h.cm.authResults()
	require.Len(t, res, 1)
	require.Equal(t, refused(dot11.StatusChallengeFail), res[0].r)
}

func TestSTASharedKeyWithoutPrivacy(t *testing.T) {
	h := newHarness(t, nil)
	sta := h.staSession()

	require.NoError(t, h.e.StartAuth(sta, apAddr, dot11.AlgSharedKey))
	require.NoError(t, h.e.OnAuthFrame(h.raw(toSTA(apAddr), authBody(t, dot11.AlgSharedKey, 2, 0, testChallenge)), sta))

	body := sentBody(t, h.tx.last(t))
	require.Equal(t, dot11.AuthFrame3, body.Transaction)
	require.Equal(t, dot11.StatusAuthAlgNotSupported, body.Status)
	require.Equal(t, preauth.StateWtAuthFrame2, h.e.AuthState(sta))
}

func TestSTAMLOWithoutMultiLink(t *testing.T) {
	h := newHarness(t, nil)
	sta := h.session(SessionConfig{ID: 2, Role: RoleSTA, Self: staAddr, BSSID: apAddr, MLO: true, SelfMLD: staMLD, PeerMLD: apMLD})

	require.NoError(t, h.e.StartAuth(sta, apAddr, dot11.AlgOpen))
	require.NoError(t, h.e.OnAuthFrame(h.raw(toSTA(apAddr), authBody(t, dot11.AlgOpen, 2, 0, nil)), sta))

	require.Equal(t, []deauthCall{{apAddr, dot11.ReasonUnspecified}}, h.tx.deauths)
	res := h.cm.authResults()
	require.Len(t, res, 1)
	require.Equal(t, refused(dot11.StatusUnspecifiedFailure), res[0].r)
}

func TestSTARejectsProtectedFrame(t *testing.T) {
	h := newHarness(t, withSTAPrivacy)
	sta := h.staSession()

	hdr := toSTA(apAddr)
	hdr.Protected = true
	payload, err := h.prot.Encrypt(apAddr, 0, authBody(t, dot11.AlgSharedKey, 3, 0, testChallenge))
	require.NoError(t, err)
	require.NoError(t, h.e.OnAuthFrame(h.raw(hdr, payload), sta))

	body := sentBody(t, h.tx.last(t))
	require.Equal(t, dot11.AuthFrame4, body.Transaction)
	require.Equal(t, dot11.StatusChallengeFail, body.Status)
}

func TestSTASAEWithCachedPMK(t *testing.T) {
	h := newHarness(t, nil)
	sta := h.staSession()
	h.e.SetSAEPMKCached(sta, true)

	require.NoError(t, h.e.StartAuth(sta, apAddr, dot11.AlgSAE))
	require.Equal(t, dot11.AlgOpen, sentBody(t, h.tx.last(t)).Algorithm)

	require.NoError(t, h.e.OnAuthFrame(h.raw(toSTA(apAddr), authBody(t, dot11.AlgOpen, 2, 0, nil)), sta))
	res := h.cm.authResults()
	require.Len(t, res, 1)
	require.Equal(t, succeeded(), res[0].r)

	ctx, _, ok := h.e.Registry().Find(apAddr)
	require.True(t, ok)
	require.Equal(t, dot11.AlgSAE, ctx.Algorithm)
}

func TestSTAExternalSAE(t *testing.T) {
	h := newHarness(t, nil)
	sta := h.staSession()

	require.ErrorIs(t, h.e.ExternalAuthDone(sta, dot11.StatusSuccess), ErrDropped)

	require.NoError(t, h.e.StartAuth(sta, apAddr, dot11.AlgSAE))
	require.Empty(t, h.tx.sent())
	require.Equal(t, preauth.StateWtSaeAuth, h.e.AuthState(sta))

	var cancelled int
	h.e.SetSAERetry(sta, saeCommit(dot11.MACAddr{}), func() { cancelled++ })

	require.NoError(t, h.e.ExternalAuthDone(sta, dot11.StatusSuccess))
	require.Equal(t, 1, cancelled)

	res := h.cm.authResults()
	require.Len(t, res, 1)
	require.Equal(t, succeeded(), res[0].r)
	ctx, _, ok := h.e.Registry().Find(apAddr)
	require.True(t, ok)
	require.Equal(t, dot11.AlgSAE, ctx.Algorithm)
	require.Equal(t, preauth.StateAuthenticated, ctx.State)
	require.False(t, ctx.SeqValid)
}

// 外部 SAE 建立的上下文没有序列号，AP 之后序列号为 0 的帧不是重复帧
func TestSTAReauthAfterExternalSAEWithSeqZero(t *testing.T) {
	h := newHarness(t, nil)
	sta := h.staSession()

	require.NoError(t, h.e.StartAuth(sta, apAddr, dot11.AlgSAE))
	require.NoError(t, h.e.ExternalAuthDone(sta, dot11.StatusSuccess))

	require.NoError(t, h.e.StartAuth(sta, apAddr, dot11.AlgOpen))
	hdr := toSTA(apAddr)
	hdr.Seq = 0
	raw, err := dot11.BuildFrame(hdr, authBody(t, dot11.AlgOpen, 2, 0, nil))
	require.NoError(t, err)
	require.NoError(t, h.e.OnAuthFrame(raw, sta))

	res := h.cm.authResults()
	require.Len(t, res, 2)
	require.Equal(t, succeeded(), res[1].r)
	ctx, _, ok := h.e.Registry().Find(apAddr)
	require.True(t, ok)
	require.Equal(t, dot11.AlgOpen, ctx.Algorithm)
	require.True(t, ctx.SeqValid)
	require.EqualValues(t, 0, ctx.SeqNum)
}

func TestSavedFTAuthResponseDuringReassoc(t *testing.T) {
	h := newHarness(t, nil)
	sta := h.staSession()
	target := peerN(42)

	h.e.SetReassociating(sta, true)
	h.e.BeginFTPreAuth(sta, target, nil)

	body := authBody(t, dot11.AlgFT, 2, 0, nil)
	require.NoError(t, h.e.OnAuthFrame(h.raw(toSTA(target), body), sta))
	require.Equal(t, body, h.e.SavedFTAuthResponse(sta))
	require.Empty(t, h.cm.authResults())
}
