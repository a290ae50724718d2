package driver

import (
	"fmt"
	"net"

	"github.com/iniwex5/netlink"
	"github.com/iniwex5/wauth-go/pkg/dot11"
)

// NetTools 监听接口的链路操作（netlink）
type NetTools struct{}

// NewNetTools 创建 NetTools 实例
func NewNetTools() *NetTools {
	return &NetTools{}
}

// NetToolError 封装网络操作错误
type NetToolError struct {
	Op   string // 操作描述
	Args string // 参数信息
	Err  error  // 底层错误
}

func (e *NetToolError) Error() string {
	if e.Args == "" {
		return fmt.Sprintf("%s 失败: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s 失败: %v", e.Op, e.Args, e.Err)
}

func (e *NetToolError) Unwrap() error { return e.Err }

// wrapErr 封装错误
func wrapErr(op, args string, err error) error {
	if err == nil {
		return nil
	}
	return &NetToolError{Op: op, Args: args, Err: err}
}

// getLink 根据接口名获取 Link 对象
func getLink(iface string) (netlink.Link, error) {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return nil, fmt.Errorf("获取接口 %s 失败: %w", iface, err)
	}
	return link, nil
}

// LinkInfo 监听接口的内核信息
type LinkInfo struct {
	Name    string
	Index   int
	HWAddr  dot11.MACAddr
	Up      bool
	Promisc bool
}

// Link 查询接口
func (n *NetTools) Link(iface string) (LinkInfo, error) {
	link, err := getLink(iface)
	if err != nil {
		return LinkInfo{}, wrapErr("link show", iface, err)
	}
	attrs := link.Attrs()
	info := LinkInfo{
		Name:    attrs.Name,
		Index:   attrs.Index,
		Up:      attrs.Flags&net.FlagUp != 0,
		Promisc: attrs.Promisc != 0,
	}
	if len(attrs.HardwareAddr) == 6 {
		info.HWAddr, _ = dot11.FromHardwareAddr(attrs.HardwareAddr)
	}
	return info, nil
}

// SetLinkUp 启用网络接口
func (n *NetTools) SetLinkUp(iface string) error {
	link, err := getLink(iface)
	if err != nil {
		return wrapErr("link set up", iface, err)
	}
	return wrapErr("link set up", iface, netlink.LinkSetUp(link))
}

// SetLinkDown 禁用网络接口
func (n *NetTools) SetLinkDown(iface string) error {
	link, err := getLink(iface)
	if err != nil {
		return wrapErr("link set down", iface, err)
	}
	return wrapErr("link set down", iface, netlink.LinkSetDown(link))
}

// SetPromisc 切换混杂模式
func (n *NetTools) SetPromisc(iface string, on bool) error {
	op := "link set promisc off"
	if on {
		op = "link set promisc on"
	}
	link, err := getLink(iface)
	if err != nil {
		return wrapErr(op, iface, err)
	}
	if on {
		return wrapErr(op, iface, netlink.SetPromiscOn(link))
	}
	return wrapErr(op, iface, netlink.SetPromiscOff(link))
}
