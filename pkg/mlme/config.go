package mlme

import (
	"crypto/rand"
	"io"
	"time"

	"github.com/benbjohnson/clock"
)

// Config 认证状态机配置
type Config struct {
	// MaxPreAuth 预认证上下文池容量
	MaxPreAuth int
	// AuthFailureTimeout STA 发出第一帧后等待认证完成的时间
	AuthFailureTimeout time.Duration
	// AuthRspTimeout AP 发出 challenge 后等待第三帧的时间
	AuthRspTimeout time.Duration
	// WEPDefaultKeyID 加密第三帧使用的默认密钥编号 (0-3)
	WEPDefaultKeyID uint8

	AP  APConfig
	STA STAConfig

	Clock clock.Clock // 默认 clock.New()
	Rand  io.Reader   // challenge 随机源，默认 crypto/rand
}

type APConfig struct {
	Privacy    bool // 允许 Shared Key
	SAEEnabled bool
}

type STAConfig struct {
	Privacy bool
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxPreAuth:         64,
		AuthFailureTimeout: time.Second,
		AuthRspTimeout:     time.Second,
	}
}

func (c *Config) normalize() {
	def := DefaultConfig()
	if c.MaxPreAuth <= 0 {
		c.MaxPreAuth = def.MaxPreAuth
	}
	if c.AuthFailureTimeout <= 0 {
		c.AuthFailureTimeout = def.AuthFailureTimeout
	}
	if c.AuthRspTimeout <= 0 {
		c.AuthRspTimeout = def.AuthRspTimeout
	}
	c.WEPDefaultKeyID &= 0x03
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
}

func (c *Config) privacy(r Role) bool {
	if r == RoleAP {
		return c.AP.Privacy
	}
	return c.STA.Privacy
}
