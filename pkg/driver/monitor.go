package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/iniwex5/wauth-go/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

var (
	// ErrBadFCS 驱动标记了 FCS 错误
	ErrBadFCS = errors.New("radiotap: bad FCS")
	// ErrMonitorClosed 监听 socket 已关闭
	ErrMonitorClosed = errors.New("monitor closed")
)

// radiotapTxHeader 注入帧使用的最小 radiotap 头 (不带任何字段)
var radiotapTxHeader = []byte{0x00, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00}

// 接收超时，ReadFrame 借此检查 context
const readPoll = 200 * time.Millisecond

// Monitor 监听模式接口上的 AF_PACKET socket
type Monitor struct {
	iface   string
	ifindex int

	mu     sync.Mutex
	fd     int
	closed bool

	Logger *zap.Logger
}

func htons(v uint16) uint16 { return v<<8 | v>>8 }

// OpenMonitor 在 iface 上打开原始 socket；iface 必须已处于 monitor 模式
func OpenMonitor(iface string, l *zap.Logger) (*Monitor, error) {
	if l == nil {
		l = logger.Get()
	}
	info, err := NewNetTools().Link(iface)
	if err != nil {
		return nil, err
	}

	proto := htons(unix.ETH_P_ALL)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, int(proto))
	if err != nil {
		return nil, wrapErr("socket AF_PACKET", iface, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrLinklayer{Protocol: proto, Ifindex: info.Index}); err != nil {
		unix.Close(fd)
		return nil, wrapErr("bind AF_PACKET", iface, err)
	}
	tv := unix.NsecToTimeval(readPoll.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, wrapErr("setsockopt SO_RCVTIMEO", iface, err)
	}

	l.Info("监听接口已打开", logger.String("iface", iface), logger.Int("ifindex", info.Index))
	return &Monitor{iface: iface, ifindex: info.Index, fd: fd, Logger: l}, nil
}

func (m *Monitor) Iface() string { return m.iface }

// ReadFrame 读取下一个 802.11 帧 (含 FCS)，返回值引用 buf
func (m *Monitor) ReadFrame(ctx context.Context, buf []byte) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fd, err := m.socket()
		if err != nil {
			return nil, err
		}
		n, _, err := unix.Recvfrom(fd, buf, 0)
		switch {
		case err == unix.EAGAIN || err == unix.EINTR:
			continue
		case err != nil:
			return nil, wrapErr("recvfrom", m.iface, err)
		}

		frame, err := decodeRadiotap(buf[:n])
		if err != nil {
			m.Logger.Debug("丢弃无法解析的帧", logger.Int("len", n), logger.Err(err))
			continue
		}
		return frame, nil
	}
}

// WriteFrame 注入不带 FCS 的 802.11 帧
func (m *Monitor) WriteFrame(frame []byte) error {
	fd, err := m.socket()
	if err != nil {
		return err
	}
	out := make([]byte, 0, len(radiotapTxHeader)+len(frame))
	out = append(out, radiotapTxHeader...)
	out = append(out, frame...)
	if _, err := unix.Write(fd, out); err != nil {
		return wrapErr("write", m.iface, err)
	}
	return nil
}

func (m *Monitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return wrapErr("close", m.iface, unix.Close(m.fd))
}

func (m *Monitor) socket() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return -1, ErrMonitorClosed
	}
	return m.fd, nil
}

// decodeRadiotap 去掉 radiotap 头，返回带 FCS 的 802.11 帧
func decodeRadiotap(data []byte) ([]byte, error) {
	var rt layers.RadioTap
	if err := rt.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("radiotap: %w", err)
	}
	if rt.Flags&layers.RadioTapFlagsBadFCS != 0 {
		return nil, ErrBadFCS
	}
	// 驱动未附带 FCS 时 gopacket 已在 Payload 末尾补上计算值
	return rt.Payload, nil
}
