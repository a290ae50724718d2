package crypto

import (
	"crypto/rand"
	"errors"
	"io"

	"github.com/iniwex5/wauth-go/pkg/dot11"
)

var (
	// ErrICV 解密后 ICV 校验失败
	ErrICV = errors.New("wep: icv mismatch")
	// ErrNoKey 找不到可用的 WEP 密钥
	ErrNoKey = errors.New("wep: no key")
)

// Protector 帧保护引擎接口
//
// WEP 的 RC4/ICV 运算由外部引擎完成，这里只定义调用约定。
// 受保护 payload 的布局固定为 IV(4) || 密文 || ICV(4)。
type Protector interface {
	// Encrypt 使用 keyID 指定的默认密钥保护发往 peer 的明文
	Encrypt(peer dot11.MACAddr, keyID uint8, plaintext []byte) ([]byte, error)
	// Decrypt 解开来自 peer 的 payload；密钥缺失返回 ErrNoKey，校验失败返回 ErrICV
	Decrypt(peer dot11.MACAddr, payload []byte) ([]byte, error)
}

// KeyIDFromIV 取 IV 第 4 字节高 2 位的 Key ID
func KeyIDFromIV(payload []byte) (uint8, bool) {
	if len(payload) < dot11.WEPIVLen {
		return 0, false
	}
	return payload[3] >> 6, true
}

// 随机数生成
func RandomBytes(n int) ([]byte, error) {
	return ReadBytes(rand.Reader, n)
}

// ReadBytes 从指定随机源读取 n 字节
func ReadBytes(r io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := io.ReadFull(r, b)
	return b, err
}
