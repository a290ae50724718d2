package driver

import (
	"fmt"
	"runtime"

	"github.com/vishvananda/netns"
	"go.uber.org/multierr"
)

// NetNS 已存在的命名网络命名空间 (监听接口所在的 netns)
type NetNS struct {
	name   string
	handle netns.NsHandle // 目标命名空间句柄
	origin netns.NsHandle // 原始命名空间句柄，用于恢复
}

// OpenNetNS 打开 /var/run/netns 下的命名空间
func OpenNetNS(name string) (*NetNS, error) {
	origin, err := netns.Get()
	if err != nil {
		return nil, fmt.Errorf("获取原始 netns 失败: %w", err)
	}

	handle, err := netns.GetFromName(name)
	if err != nil {
		origin.Close()
		return nil, fmt.Errorf("打开 netns %s 失败: %w", name, err)
	}

	return &NetNS{
		name:   name,
		handle: handle,
		origin: origin,
	}, nil
}

// Enter 进入网络命名空间
// 注意: 需要 CAP_SYS_ADMIN 权限
func (ns *NetNS) Enter() error {
	// 锁定当前 goroutine 到 OS 线程
	runtime.LockOSThread()

	if !ns.handle.IsOpen() {
		runtime.UnlockOSThread()
		return fmt.Errorf("netns 句柄不可用")
	}
	if !ns.origin.IsOpen() {
		runtime.UnlockOSThread()
		return fmt.Errorf("原始 netns 句柄不可用")
	}

	if err := netns.Set(ns.handle); err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("切换 netns 失败: %w", err)
	}
	return nil
}

// Exit 恢复到原始命名空间
func (ns *NetNS) Exit() error {
	defer runtime.UnlockOSThread()
	if ns.origin.IsOpen() {
		if err := netns.Set(ns.origin); err != nil {
			return fmt.Errorf("恢复原始 netns 失败: %w", err)
		}
	}
	return nil
}

// RunInNS 在命名空间内执行 fn
//
// 在 fn 中创建的 socket 留在该命名空间，返回后仍可在任意线程使用。
func (ns *NetNS) RunInNS(fn func() error) (err error) {
	if err := ns.Enter(); err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, ns.Exit())
	}()
	return fn()
}

// Close 关闭句柄，不删除命名空间
func (ns *NetNS) Close() error {
	var err error
	if ns.handle.IsOpen() {
		err = multierr.Append(err, ns.handle.Close())
	}
	if ns.origin.IsOpen() {
		err = multierr.Append(err, ns.origin.Close())
	}
	return err
}

// Name 返回命名空间名称
func (ns *NetNS) Name() string {
	return ns.name
}
