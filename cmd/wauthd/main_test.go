package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iniwex5/wauth-go/pkg/dot11"
	"github.com/iniwex5/wauth-go/pkg/mlme"
)

func TestParseArgs(t *testing.T) {
	a, err := parseArgs([]string{"-i", "wlan0mon", "--max-preauth", "16", "--auth-rsp-timeout", "500ms", "--sae"})
	require.NoError(t, err)
	require.Equal(t, "wlan0mon", a.iface)
	require.Equal(t, 16, a.maxPreAuth)
	require.Equal(t, 500*time.Millisecond, a.authRspTimeout)
	require.True(t, a.sae)
	require.Equal(t, "info", a.logLevel)

	_, err = parseArgs(nil)
	require.Error(t, err)
	_, err = parseArgs([]string{"-i", "wlan0mon", "--max-preauth", "0"})
	require.Error(t, err)
	_, err = parseArgs([]string{"-i", "wlan0mon", "--bssid", "not-a-mac"})
	require.Error(t, err)
}

var (
	testBSSID = dot11.MustParseMAC("02:00:00:00:0a:01")
	testPeer  = dot11.MustParseMAC("aa:bb:cc:dd:ee:01")
)

func authFrame(t *testing.T, da dot11.MACAddr, seq uint16) []byte {
	t.Helper()
	body, err := (&dot11.AuthBody{Algorithm: dot11.AlgOpen, Transaction: 1}).Encode()
	require.NoError(t, err)
	raw, err := dot11.BuildFrame(dot11.Header{DA: da, SA: testPeer, BSSID: da, Seq: seq}, body)
	require.NoError(t, err)
	return raw
}

func TestAddressedTo(t *testing.T) {
	require.True(t, addressedTo(authFrame(t, testBSSID, 1), testBSSID))
	require.False(t, addressedTo(authFrame(t, testPeer, 1), testBSSID))

	deauth, err := dot11.BuildDeauthFrame(dot11.Header{DA: testBSSID}, dot11.ReasonUnspecified)
	require.NoError(t, err)
	require.False(t, addressedTo(deauth, testBSSID))
	require.False(t, addressedTo(nil, testBSSID))
}

type sliceSource struct {
	frames [][]byte
}

func (s *sliceSource) ReadFrame(ctx context.Context, buf []byte) ([]byte, error) {
	if len(s.frames) == 0 {
		return nil, context.Canceled
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

type recordTx struct {
	mu   sync.Mutex
	sent []*mlme.OutboundFrame
}

func (r *recordTx) Transmit(f *mlme.OutboundFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, f)
	return nil
}

func (r *recordTx) SendDeauth(*mlme.Session, dot11.MACAddr, uint16) error { return nil }

func TestServeAnswersOwnFramesOnly(t *testing.T) {
	tx := &recordTx{}
	engine, err := mlme.NewEngine(mlme.DefaultConfig(), mlme.Deps{
		Transmitter: tx,
		Connections: &logConnections{l: zap.NewNop()},
	}, zap.NewNop())
	require.NoError(t, err)
	defer engine.Close()

	s := mlme.NewSession(mlme.SessionConfig{ID: 1, Role: mlme.RoleAP, Self: testBSSID, BSSID: testBSSID})
	require.NoError(t, engine.AddSession(s))

	src := &sliceSource{frames: [][]byte{
		authFrame(t, testPeer, 1),  // 不是发给本 BSS
		authFrame(t, testBSSID, 2), // 应答
		authFrame(t, testBSSID, 2), // 重复帧被丢弃
	}}
	err = serve(context.Background(), src, engine, s, zap.NewNop())
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, tx.sent, 1)
	require.Equal(t, testPeer, tx.sent[0].Dest)
	require.Equal(t, dot11.AuthFrame2, tx.sent[0].Body.Transaction)
}
