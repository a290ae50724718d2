package driver

import "go.uber.org/multierr"

// NetTxn 记录已完成的链路操作，失败时按相反顺序撤销
type NetTxn struct {
	net   *NetTools
	undos []func() error
}

func (n *NetTools) Begin() *NetTxn {
	return &NetTxn{net: n}
}

func (tx *NetTxn) Commit() {
	tx.undos = nil
}

func (tx *NetTxn) Rollback() error {
	var err error
	for i := len(tx.undos) - 1; i >= 0; i-- {
		err = multierr.Append(err, tx.undos[i]())
	}
	tx.undos = nil
	return err
}

// Prepare 启用接口并打开混杂模式；已经处于目标状态的项不记录撤销
func (tx *NetTxn) Prepare(iface string) error {
	info, err := tx.net.Link(iface)
	if err != nil {
		return err
	}
	if !info.Up {
		if err := tx.SetLinkUp(iface); err != nil {
			return err
		}
	}
	if !info.Promisc {
		if err := tx.SetPromiscOn(iface); err != nil {
			return err
		}
	}
	return nil
}

func (tx *NetTxn) SetLinkUp(iface string) error {
	if err := tx.net.SetLinkUp(iface); err != nil {
		return err
	}
	tx.undos = append(tx.undos, func() error {
		return tx.net.SetLinkDown(iface)
	})
	return nil
}

func (tx *NetTxn) SetPromiscOn(iface string) error {
	if err := tx.net.SetPromisc(iface, true); err != nil {
		return err
	}
	tx.undos = append(tx.undos, func() error {
		return tx.net.SetPromisc(iface, false)
	})
	return nil
}
