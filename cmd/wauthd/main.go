// wauthd 在监听模式接口上应答 802.11 认证帧 (AP 角色)
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/iniwex5/wauth-go/pkg/dot11"
	"github.com/iniwex5/wauth-go/pkg/driver"
	"github.com/iniwex5/wauth-go/pkg/logger"
	"github.com/iniwex5/wauth-go/pkg/mlme"
)

type daemonArgs struct {
	iface     string
	netns     string
	bssid     string
	logLevel  string
	logFormat string

	maxPreAuth     int
	authRspTimeout time.Duration
	sae            bool
	noPromisc      bool
}

func parseArgs(args []string) (*daemonArgs, error) {
	a := &daemonArgs{}
	def := mlme.DefaultConfig()

	fs := flag.NewFlagSet("wauthd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVarP(&a.iface, "iface", "i", "", "monitor mode interface")
	fs.StringVar(&a.netns, "netns", "", "named network namespace holding the interface")
	fs.StringVar(&a.bssid, "bssid", "", "BSSID to answer for (default: interface address)")
	fs.StringVar(&a.logLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&a.logFormat, "log-format", "console", "console|json")
	fs.IntVar(&a.maxPreAuth, "max-preauth", def.MaxPreAuth, "pre-authentication context pool size")
	fs.DurationVar(&a.authRspTimeout, "auth-rsp-timeout", def.AuthRspTimeout, "how long an AP waits for Shared Key frame 3")
	fs.BoolVar(&a.sae, "sae", false, "forward SAE frames upstream")
	fs.BoolVar(&a.noPromisc, "no-promisc", false, "leave interface flags untouched")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if a.iface == "" {
		return nil, errors.New("--iface is required")
	}
	if a.maxPreAuth <= 0 {
		return nil, fmt.Errorf("--max-preauth must be positive, got %d", a.maxPreAuth)
	}
	if a.bssid != "" {
		if _, err := dot11.ParseMAC(a.bssid); err != nil {
			return nil, fmt.Errorf("--bssid: %w", err)
		}
	}
	return a, nil
}

func main() {
	args, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "wauthd: %v\n", err)
		os.Exit(2)
	}
	if err := logger.Init(args.logLevel, args.logFormat); err != nil {
		fmt.Fprintf(os.Stderr, "wauthd: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, args); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("wauthd 退出", logger.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, args *daemonArgs) (err error) {
	l := logger.Get()
	nt := driver.NewNetTools()
	txn := nt.Begin()

	var mon *driver.Monitor
	open := func() error {
		if !args.noPromisc {
			if err := txn.Prepare(args.iface); err != nil {
				return err
			}
		}
		var err error
		mon, err = driver.OpenMonitor(args.iface, l)
		return err
	}
	var info driver.LinkInfo
	inNS := func() error {
		if err := open(); err != nil {
			return err
		}
		var err error
		info, err = nt.Link(args.iface)
		return err
	}

	var setupErr error
	if args.netns != "" {
		ns, err := driver.OpenNetNS(args.netns)
		if err != nil {
			return err
		}
		defer ns.Close()
		l.Info("进入网络命名空间", logger.String("netns", ns.Name()))
		setupErr = ns.RunInNS(inNS)
	} else {
		setupErr = inNS()
	}
	if setupErr != nil {
		if mon != nil {
			setupErr = multierr.Append(setupErr, mon.Close())
		}
		return multierr.Append(setupErr, txn.Rollback())
	}
	defer func() {
		err = multierr.Combine(err, mon.Close(), txn.Rollback())
	}()

	bssid := info.HWAddr
	if args.bssid != "" {
		bssid = dot11.MustParseMAC(args.bssid)
	}

	cfg := mlme.DefaultConfig()
	cfg.MaxPreAuth = args.maxPreAuth
	cfg.AuthRspTimeout = args.authRspTimeout
	cfg.AP.SAEEnabled = args.sae

	engine, err := mlme.NewEngine(cfg, mlme.Deps{
		Transmitter: driver.NewInjector(mon, l),
		Connections: &logConnections{l: l.Named("cm")},
	}, l.Named("mlme"))
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, engine.Close()) }()

	session := mlme.NewSession(mlme.SessionConfig{ID: 1, Role: mlme.RoleAP, Self: bssid, BSSID: bssid})
	if err := engine.AddSession(session); err != nil {
		return err
	}

	l.Info("wauthd 已启动",
		logger.String("iface", args.iface),
		logger.Mac("bssid", bssid),
		logger.Int("max_preauth", cfg.MaxPreAuth),
		logger.Bool("sae", cfg.AP.SAEEnabled))

	return serve(ctx, mon, engine, session, l)
}

// frameSource 由 driver.Monitor 实现
type frameSource interface {
	ReadFrame(ctx context.Context, buf []byte) ([]byte, error)
}

func serve(ctx context.Context, src frameSource, engine *mlme.Engine, s *mlme.Session, l *zap.Logger) error {
	buf := make([]byte, 4096)
	self := s.Self()
	for {
		raw, err := src.ReadFrame(ctx, buf)
		if err != nil {
			return err
		}
		if !addressedTo(raw, self) {
			continue
		}
		if err := engine.OnAuthFrame(raw, s); err != nil {
			if errors.Is(err, mlme.ErrDropped) {
				l.Debug("认证帧被丢弃", logger.Err(err))
				continue
			}
			l.Warn("认证帧处理失败", logger.Err(err))
		}
	}
}

// addressedTo 只处理发给本 BSS 的认证帧
func addressedTo(raw []byte, self dot11.MACAddr) bool {
	if !dot11.IsAuthFrame(raw) || len(raw) < 10 {
		return false
	}
	return bytes.Equal(raw[4:10], self[:])
}

// logConnections 没有关联层与 SAE 协议栈时的连接管理实现，只记录日志
type logConnections struct {
	l *zap.Logger
}

func (c *logConnections) AuthResult(s *mlme.Session, peer dot11.MACAddr, r mlme.Result) {
	c.l.Info("认证结果",
		logger.Int("session", s.ID()),
		logger.Mac("peer", peer),
		logger.Stringer("result", r.Code),
		logger.Stringer("status", r.Status))
}

func (c *logConnections) ForwardMgmt(f *mlme.ForwardedFrame) {
	c.l.Warn("没有上层协议栈，丢弃转发的认证帧",
		logger.Mac("sa", f.Header.SA),
		logger.Int("len", len(f.Body)))
}

func (c *logConnections) FTPreAuthResponse(s *mlme.Session, err error, _ []byte) {
	c.l.Info("FT 预认证响应", logger.Int("session", s.ID()), logger.Err(err))
}
