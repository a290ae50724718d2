package mlme

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/iniwex5/wauth-go/pkg/crypto"
	"github.com/iniwex5/wauth-go/pkg/dot11"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	apAddr  = dot11.MustParseMAC("02:00:00:00:0a:01")
	staAddr = dot11.MustParseMAC("aa:bb:cc:dd:ee:01")
	apMLD   = dot11.MustParseMAC("02:00:00:00:0a:ff")
	staMLD  = dot11.MustParseMAC("aa:bb:cc:dd:ee:ff")
)

func peerN(i int) dot11.MACAddr {
	return dot11.MACAddr{0xaa, 0xbb, 0xcc, 0x00, byte(i >> 8), byte(i)}
}

type deauthCall struct {
	dst    dot11.MACAddr
	reason uint16
}

type fakeTx struct {
	mu      sync.Mutex
	frames  []*OutboundFrame
	deauths []deauthCall
}

func (f *fakeTx) Transmit(fr *OutboundFrame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeTx) SendDeauth(_ *Session, dst dot11.MACAddr, reason uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deauths = append(f.deauths, deauthCall{dst, reason})
	return nil
}

func (f *fakeTx) sent() []*OutboundFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*OutboundFrame(nil), f.frames...)
}

func (f *fakeTx) last(t *testing.T) *OutboundFrame {
	t.Helper()
	frames := f.sent()
	require.NotEmpty(t, frames, "没有发送任何帧")
	return frames[len(frames)-1]
}

type authResult struct {
	s    *Session
	peer dot11.MACAddr
	r    Result
}

type ftResponse struct {
	s    *Session
	err  error
	body []byte
}

type fakeCM struct {
	mu        sync.Mutex
	results   []authResult
	forwarded []*ForwardedFrame
	ftRsp     []ftResponse
}

func (c *fakeCM) AuthResult(s *Session, peer dot11.MACAddr, r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, authResult{s, peer, r})
}

func (c *fakeCM) ForwardMgmt(f *ForwardedFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forwarded = append(c.forwarded, f)
}

func (c *fakeCM) FTPreAuthResponse(s *Session, err error, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ftRsp = append(c.ftRsp, ftResponse{s, err, body})
}

func (c *fakeCM) authResults() []authResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]authResult(nil), c.results...)
}

func (c *fakeCM) forwards() []*ForwardedFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*ForwardedFrame(nil), c.forwarded...)
}

func (c *fakeCM) ftResponses() []ftResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ftResponse(nil), c.ftRsp...)
}

type fakeStations struct {
	mu      sync.Mutex
	table   map[dot11.MACAddr]Station
	deleted []dot11.MACAddr
}

func (f *fakeStations) Lookup(_ *Session, addr dot11.MACAddr) (Station, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.table[addr]
	return st, ok
}

func (f *fakeStations) Delete(_ *Session, addr dot11.MACAddr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.table, addr)
	f.deleted = append(f.deleted, addr)
}

type fakePeers map[dot11.MACAddr]*Session

func (p fakePeers) SessionForPeer(addr dot11.MACAddr) (*Session, bool) {
	s, ok := p[addr]
	return s, ok
}

// fakeProtector IV(4) || 明文 || CRC32(4)
type fakeProtector struct {
	noKey bool
}

func (p *fakeProtector) Encrypt(_ dot11.MACAddr, keyID uint8, plaintext []byte) ([]byte, error) {
	if p.noKey {
		return nil, crypto.ErrNoKey
	}
	out := append([]byte{0x01, 0x02, 0x03, keyID << 6}, plaintext...)
	return binary.LittleEndian.AppendUint32(out, crc32.ChecksumIEEE(plaintext)), nil
}

func (p *fakeProtector) Decrypt(_ dot11.MACAddr, payload []byte) ([]byte, error) {
	if p.noKey {
		return nil, crypto.ErrNoKey
	}
	if len(payload) < dot11.WEPOverheadLen {
		return nil, crypto.ErrICV
	}
	plain := payload[dot11.WEPIVLen : len(payload)-dot11.WEPICVLen]
	icv := binary.LittleEndian.Uint32(payload[len(payload)-dot11.WEPICVLen:])
	if crc32.ChecksumIEEE(plain) != icv {
		return nil, crypto.ErrICV
	}
	return plain, nil
}

type harness struct {
	t     *testing.T
	e     *Engine
	clk   *clock.Mock
	tx    *fakeTx
	cm    *fakeCM
	st    *fakeStations
	peers fakePeers
	prot  *fakeProtector
	seq   uint16
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		clk:   clock.NewMock(),
		tx:    &fakeTx{},
		cm:    &fakeCM{},
		st:    &fakeStations{table: map[dot11.MACAddr]Station{}},
		peers: fakePeers{},
		prot:  &fakeProtector{},
		seq:   100,
	}
	cfg := DefaultConfig()
	cfg.MaxPreAuth = 8
	cfg.Clock = h.clk
	cfg.Rand = bytes.NewReader(bytes.Repeat([]byte{0x5a}, 4096))
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := NewEngine(cfg, Deps{
		Transmitter: h.tx,
		Connections: h.cm,
		Stations:    h.st,
		Peers:       h.peers,
		Protector:   h.prot,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	h.e = e
	return h
}

func (h *harness) session(cfg SessionConfig) *Session {
	h.t.Helper()
	s := NewSession(cfg)
	require.NoError(h.t, h.e.AddSession(s))
	return s
}

func (h *harness) apSession() *Session {
	return h.session(SessionConfig{ID: 1, Role: RoleAP, Self: apAddr, BSSID: apAddr})
}

func (h *harness) staSession() *Session {
	return h.session(SessionConfig{ID: 2, Role: RoleSTA, Self: staAddr, BSSID: apAddr})
}

func (h *harness) nextSeq() uint16 {
	h.seq++
	return h.seq
}

// raw 组装带 FCS 的认证帧；hdr.Seq 为 0 时自动分配
func (h *harness) raw(hdr dot11.Header, body []byte) []byte {
	h.t.Helper()
	if hdr.Seq == 0 {
		hdr.Seq = h.nextSeq()
	}
	out, err := dot11.BuildFrame(hdr, body)
	require.NoError(h.t, err)
	return out
}

func toAP(sa dot11.MACAddr) dot11.Header {
	return dot11.Header{DA: apAddr, SA: sa, BSSID: apAddr}
}

func toSTA(sa dot11.MACAddr) dot11.Header {
	return dot11.Header{DA: staAddr, SA: sa, BSSID: sa}
}

func authBody(t *testing.T, alg dot11.Algorithm, tx uint16, status dot11.StatusCode, challenge []byte) []byte {
	t.Helper()
	b, err := (&dot11.AuthBody{Algorithm: alg, Transaction: tx, Status: status, Challenge: challenge}).Encode()
	require.NoError(t, err)
	return b
}

// saeCommit H2E commit (group 19)，mld 非零时携带 Basic Multi-Link 元素
func saeCommit(mld dot11.MACAddr) []byte {
	b := make([]byte, 8, 128)
	binary.LittleEndian.PutUint16(b[0:], uint16(dot11.AlgSAE))
	binary.LittleEndian.PutUint16(b[2:], 1)
	binary.LittleEndian.PutUint16(b[4:], uint16(dot11.StatusSAEHashToElement))
	binary.LittleEndian.PutUint16(b[6:], 19)
	b = append(b, bytes.Repeat([]byte{0x11}, 96)...)
	if !mld.IsZero() {
		b = append(b, dot11.ElemExtension, 10, dot11.ElemExtMultiLink, 0, 0, 7)
		b = append(b, mld[:]...)
	}
	return b
}

func saeConfirm() []byte {
	b := make([]byte, 6, 40)
	binary.LittleEndian.PutUint16(b[0:], uint16(dot11.AlgSAE))
	binary.LittleEndian.PutUint16(b[2:], 2)
	return append(b, bytes.Repeat([]byte{0x22}, 34)...)
}

func (h *harness) waitResults(n int) []authResult {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return len(h.cm.authResults()) >= n },
		time.Second, time.Millisecond)
	return h.cm.authResults()
}

func sentBody(t *testing.T, f *OutboundFrame) *dot11.AuthBody {
	t.Helper()
	require.NotNil(t, f.Body)
	b, err := dot11.DecodeAuthBody(f.Payload)
	require.NoError(t, err)
	require.Equal(t, f.Body.Transaction, b.Transaction)
	return b
}
