package dot11

import (
	"fmt"
	"net"
)

// MACAddr 48 位链路层地址，可直接作为 map key
type MACAddr [6]byte

// BroadcastAddr 广播地址
var BroadcastAddr = MACAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ParseMAC 解析 "aa:bb:cc:dd:ee:ff" 格式的地址
func ParseMAC(s string) (MACAddr, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MACAddr{}, err
	}
	return FromHardwareAddr(hw)
}

// MustParseMAC 同 ParseMAC，失败时 panic（仅用于常量和测试）
func MustParseMAC(s string) MACAddr {
	a, err := ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromHardwareAddr 从 net.HardwareAddr 转换，要求长度为 6
func FromHardwareAddr(hw net.HardwareAddr) (MACAddr, error) {
	var a MACAddr
	if len(hw) != len(a) {
		return a, fmt.Errorf("invalid MAC length %d", len(hw))
	}
	copy(a[:], hw)
	return a, nil
}

func (a MACAddr) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr(a[:])
}

// IsMulticast 组播/广播位 (I/G bit)
func (a MACAddr) IsMulticast() bool { return a[0]&0x01 != 0 }

func (a MACAddr) IsZero() bool { return a == MACAddr{} }

func (a MACAddr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}
