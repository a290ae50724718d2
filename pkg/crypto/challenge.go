package crypto

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
)

// ErrZeroChallenge 随机源产生了全零 challenge
var ErrZeroChallenge = errors.New("challenge text is all zero")

// NewChallenge 生成 n 字节的 challenge text
//
// r 为 nil 时使用 crypto/rand。全零结果不可用于 Shared Key 认证，返回 ErrZeroChallenge。
func NewChallenge(r io.Reader, n int) ([]byte, error) {
	var (
		b   []byte
		err error
	)
	if r == nil {
		b, err = RandomBytes(n)
	} else {
		b, err = ReadBytes(r, n)
	}
	if err != nil {
		return nil, fmt.Errorf("generate challenge: %w", err)
	}
	if isZero(b) {
		return nil, ErrZeroChallenge
	}
	return b, nil
}

// Equal 常量时间比较两个 challenge
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

func isZero(b []byte) bool {
	var acc byte
	for _, v := range b {
		acc |= v
	}
	return acc == 0
}
