package dot11

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated body 或元素长度不足
var ErrTruncated = errors.New("auth frame truncated")

// ErrElementTooLong 元素内容超过 255 字节，无法编码
var ErrElementTooLong = errors.New("element too long")

// DecodeError 记录截断发生的位置
type DecodeError struct {
	Field string
	Need  int
	Have  int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: need %d bytes, have %d", e.Field, e.Need, e.Have)
}

func (e *DecodeError) Unwrap() error { return ErrTruncated }

func truncated(field string, need, have int) error {
	return &DecodeError{Field: field, Need: need, Have: have}
}

// Element 通用信息元素 (ID, Length, Data)
type Element struct {
	ID   uint8
	Data []byte
}

// AuthBody 认证帧 body
//
// Challenge 和 MultiLink 单独解析，其余元素 (FTIE、RSNE 等) 按原顺序保存在 Elements。
type AuthBody struct {
	Algorithm   Algorithm
	Transaction uint16
	Status      StatusCode

	Challenge []byte     // nil 表示没有 challenge text 元素
	MultiLink *MultiLink // nil 表示没有 Basic Multi-Link 元素
	Elements  []Element
}

// HasChallenge 是否携带 challenge text 元素
func (b *AuthBody) HasChallenge() bool { return b.Challenge != nil }

// PeekAlgorithm 只读取算法字段，SAE/FT/PASN 的 body 不走通用布局
func PeekAlgorithm(data []byte) (Algorithm, error) {
	if len(data) < 2 {
		return 0, truncated("algorithm", 2, len(data))
	}
	return Algorithm(binary.LittleEndian.Uint16(data[0:2])), nil
}

// PeekFixed 读取固定字段但不解析元素；长度不足时返回 ok=false
func PeekFixed(data []byte) (transaction uint16, status StatusCode, ok bool) {
	if len(data) < AuthFixedLen {
		return 0, 0, false
	}
	return binary.LittleEndian.Uint16(data[2:4]), StatusCode(binary.LittleEndian.Uint16(data[4:6])), true
}

// DecodeAuthBody 解析认证帧 body
func DecodeAuthBody(data []byte) (*AuthBody, error) {
	if len(data) < 2 {
		return nil, truncated("algorithm", 2, len(data))
	}
	if len(data) < AuthFixedLen {
		return nil, truncated("fixed fields", AuthFixedLen, len(data))
	}

	b := &AuthBody{
		Algorithm:   Algorithm(binary.LittleEndian.Uint16(data[0:2])),
		Transaction: binary.LittleEndian.Uint16(data[2:4]),
		Status:      StatusCode(binary.LittleEndian.Uint16(data[4:6])),
	}

	elems, err := ParseElements(data[AuthFixedLen:])
	if err != nil {
		return nil, err
	}
	for _, e := range elems {
		switch {
		case e.ID == ElemChallengeText && b.Challenge == nil:
			b.Challenge = e.Data
		case isMultiLink(e) && b.MultiLink == nil:
			ml, ok := decodeMultiLink(e.Data)
			if ok {
				b.MultiLink = ml
				continue
			}
			b.Elements = append(b.Elements, e)
		default:
			b.Elements = append(b.Elements, e)
		}
	}
	return b, nil
}

// Encode 序列化认证帧 body
func (b *AuthBody) Encode() ([]byte, error) {
	buf := make([]byte, AuthFixedLen, AuthFixedLen+len(b.Challenge)+2)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(b.Algorithm))
	binary.LittleEndian.PutUint16(buf[2:4], b.Transaction)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(b.Status))

	var err error
	if b.Challenge != nil {
		if buf, err = appendElement(buf, ElemChallengeText, b.Challenge); err != nil {
			return nil, fmt.Errorf("challenge text: %w", err)
		}
	}
	if b.MultiLink != nil {
		if buf, err = appendElement(buf, ElemExtension, b.MultiLink.encode()); err != nil {
			return nil, fmt.Errorf("multi-link: %w", err)
		}
	}
	for _, e := range b.Elements {
		if buf, err = appendElement(buf, e.ID, e.Data); err != nil {
			return nil, fmt.Errorf("element %d: %w", e.ID, err)
		}
	}
	return buf, nil
}

// ParseElements 解析 TLV 元素序列；任何长度越界都返回 ErrTruncated
func ParseElements(data []byte) ([]Element, error) {
	var elems []Element
	offset := 0
	for offset < len(data) {
		if offset+2 > len(data) {
			return nil, truncated("element header", 2, len(data)-offset)
		}
		id := data[offset]
		l := int(data[offset+1])
		if offset+2+l > len(data) {
			return nil, truncated(fmt.Sprintf("element %d", id), l, len(data)-offset-2)
		}
		elems = append(elems, Element{ID: id, Data: data[offset+2 : offset+2+l]})
		offset += 2 + l
	}
	return elems, nil
}

// FindElement 返回第一个匹配 ID 的元素
func FindElement(elems []Element, id uint8) (Element, bool) {
	for _, e := range elems {
		if e.ID == id {
			return e, true
		}
	}
	return Element{}, false
}

func appendElement(buf []byte, id uint8, data []byte) ([]byte, error) {
	if len(data) > 255 {
		return nil, ErrElementTooLong
	}
	buf = append(buf, id, uint8(len(data)))
	return append(buf, data...), nil
}
