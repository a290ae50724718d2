package dot11

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	MgmtHeaderLen = 24
	FCSLen        = 4
)

var (
	ErrNotAuthFrame = errors.New("not an authentication frame")
	ErrBadFCS       = errors.New("frame check sequence mismatch")
)

// Header 认证处理关心的管理帧头字段
type Header struct {
	DA    MACAddr // Address1
	SA    MACAddr // Address2
	BSSID MACAddr // Address3

	Seq  uint16 // 12 位序列号
	Frag uint16

	Retry     bool
	Protected bool // Frame Control 中的 WEP/Protected 位
}

// Frame 已拆分的认证管理帧
type Frame struct {
	Header Header
	Body   []byte
}

// ParseFrame 解析带 FCS 的原始 802.11 认证帧
func ParseFrame(raw []byte) (*Frame, error) {
	// gopacket 在 Payload 切片前不会检查 FCS 的位置，这里先把长度挡住
	if len(raw) < MgmtHeaderLen+FCSLen {
		return nil, truncated("management header", MgmtHeaderLen+FCSLen, len(raw))
	}

	var d layers.Dot11
	if err := d.DecodeFromBytes(raw, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if d.Type != layers.Dot11TypeMgmtAuthentication {
		return nil, ErrNotAuthFrame
	}
	if !d.ChecksumValid() {
		return nil, ErrBadFCS
	}

	f := &Frame{
		Header: Header{
			Seq:       d.SequenceNumber,
			Frag:      d.FragmentNumber,
			Retry:     d.Flags.Retry(),
			Protected: d.Flags.WEP(),
		},
		Body: d.Payload,
	}
	copy(f.Header.DA[:], d.Address1)
	copy(f.Header.SA[:], d.Address2)
	copy(f.Header.BSSID[:], d.Address3)
	return f, nil
}

// IsAuthFrame 按 Frame Control 判断是否为认证管理帧，不做完整解析
func IsAuthFrame(raw []byte) bool {
	return len(raw) > 0 && raw[0]&0xfc == uint8(layers.Dot11TypeMgmtAuthentication)<<2
}

// BuildFrame 组装认证管理帧并追加 FCS
func BuildFrame(h Header, body []byte) ([]byte, error) {
	return buildMgmt(layers.Dot11TypeMgmtAuthentication, h, body)
}

// BuildDeauthFrame 组装去认证帧并追加 FCS
func BuildDeauthFrame(h Header, reason uint16) ([]byte, error) {
	body := binary.LittleEndian.AppendUint16(nil, reason)
	return buildMgmt(layers.Dot11TypeMgmtDeauthentication, h, body)
}

// AppendFCS 在帧尾追加 CRC-32 FCS
func AppendFCS(frame []byte) []byte {
	return binary.LittleEndian.AppendUint32(frame, crc32.ChecksumIEEE(frame))
}

func buildMgmt(typ layers.Dot11Type, h Header, body []byte) ([]byte, error) {
	var flags layers.Dot11Flags
	if h.Retry {
		flags |= layers.Dot11FlagsRetry
	}
	if h.Protected {
		flags |= layers.Dot11FlagsWEP
	}

	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{},
		&layers.Dot11{
			Type:           typ,
			Flags:          flags,
			Address1:       h.DA.HardwareAddr(),
			Address2:       h.SA.HardwareAddr(),
			Address3:       h.BSSID.HardwareAddr(),
			SequenceNumber: h.Seq & 0x0fff,
			FragmentNumber: h.Frag & 0x000f,
		},
		gopacket.Payload(body),
	)
	if err != nil {
		return nil, err
	}

	frame := buf.Bytes()
	out := make([]byte, len(frame), len(frame)+FCSLen)
	copy(out, frame)
	return AppendFCS(out), nil
}
