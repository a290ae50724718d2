package driver

import (
	"sync"

	"github.com/iniwex5/wauth-go/pkg/dot11"
	"github.com/iniwex5/wauth-go/pkg/logger"
	"github.com/iniwex5/wauth-go/pkg/mlme"
	"go.uber.org/zap"
)

// FrameWriter 注入不带 FCS 的 802.11 帧
type FrameWriter interface {
	WriteFrame(frame []byte) error
}

// Injector 把状态机输出的认证帧组装成 802.11 帧并注入
type Injector struct {
	w FrameWriter

	mu  sync.Mutex
	seq uint16

	Logger *zap.Logger
}

func NewInjector(w FrameWriter, l *zap.Logger) *Injector {
	if l == nil {
		l = logger.Get()
	}
	return &Injector{w: w, Logger: l}
}

func (in *Injector) nextSeq() uint16 {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.seq = (in.seq + 1) & 0x0fff
	return in.seq
}

func (in *Injector) header(s *mlme.Session, dst dot11.MACAddr) dot11.Header {
	return dot11.Header{
		DA:    dst,
		SA:    s.Self(),
		BSSID: s.BSSID(),
		Seq:   in.nextSeq(),
	}
}

func (in *Injector) Transmit(f *mlme.OutboundFrame) error {
	hdr := in.header(f.Session, f.Dest)
	hdr.Protected = f.Protected
	raw, err := dot11.BuildFrame(hdr, f.Payload)
	if err != nil {
		return err
	}
	return in.w.WriteFrame(raw[:len(raw)-dot11.FCSLen])
}

func (in *Injector) SendDeauth(s *mlme.Session, dst dot11.MACAddr, reason uint16) error {
	raw, err := dot11.BuildDeauthFrame(in.header(s, dst), reason)
	if err != nil {
		return err
	}
	in.Logger.Info("发送去认证帧", logger.Mac("da", dst), logger.Uint16("reason", reason))
	return in.w.WriteFrame(raw[:len(raw)-dot11.FCSLen])
}
