package dot11

import (
	"encoding/binary"
	"errors"
)

// MultiLink Basic Multi-Link 元素 (IEEE 802.11be §9.4.2.312)
type MultiLink struct {
	Control    uint16
	MLDAddr    MACAddr
	CommonInfo []byte // Common Info 中 MLD 地址之后的字段
	Links      []byte // Link Info，不解析
}

const (
	mlTypeMask  = 0x0007
	mlTypeBasic = 0x0000

	// extID(1) + control(2) + common info length(1) + MLD MAC(6)
	mlMinLen = 10
)

func isMultiLink(e Element) bool {
	return e.ID == ElemExtension && len(e.Data) >= 1 && e.Data[0] == ElemExtMultiLink
}

func decodeMultiLink(data []byte) (*MultiLink, bool) {
	if len(data) < mlMinLen {
		return nil, false
	}
	ctrl := binary.LittleEndian.Uint16(data[1:3])
	if ctrl&mlTypeMask != mlTypeBasic {
		return nil, false
	}
	ciLen := int(data[3])
	if ciLen < 7 || 3+ciLen > len(data) {
		return nil, false
	}
	ml := &MultiLink{Control: ctrl}
	copy(ml.MLDAddr[:], data[4:10])
	if ci := data[10 : 3+ciLen]; len(ci) > 0 {
		ml.CommonInfo = ci
	}
	if links := data[3+ciLen:]; len(links) > 0 {
		ml.Links = links
	}
	return ml, true
}

func (ml *MultiLink) encode() []byte {
	out := make([]byte, 0, mlMinLen+len(ml.CommonInfo)+len(ml.Links))
	out = append(out, ElemExtMultiLink, 0, 0, uint8(7+len(ml.CommonInfo)))
	binary.LittleEndian.PutUint16(out[1:3], ml.Control)
	out = append(out, ml.MLDAddr[:]...)
	out = append(out, ml.CommonInfo...)
	return append(out, ml.Links...)
}

// FindMultiLink 在元素区中查找 Basic Multi-Link 元素
func FindMultiLink(ies []byte) (*MultiLink, bool) {
	elems, err := ParseElements(ies)
	if err != nil {
		return nil, false
	}
	for _, e := range elems {
		if isMultiLink(e) {
			if ml, ok := decodeMultiLink(e.Data); ok {
				return ml, true
			}
		}
	}
	return nil, false
}

// SAE commit 固定字段
const (
	saeStatusOffset  = 4
	saeGroupIDOffset = 6

	saeGroup19FixedLen = 32 + 64  // P-256: scalar + element
	saeGroup20FixedLen = 48 + 96  // P-384
	saeGroup21FixedLen = 66 + 132 // P-521
)

// ErrSAENotSupported SAE commit 不携带可识别的元素区
var ErrSAENotSupported = errors.New("sae commit: no element region")

// SAECommitElements 跳过 SAE commit 的固定字段，返回其后的元素区
//
// 只有 H2E/PK 状态码的 commit 才可能携带 Multi-Link 元素。
func SAECommitElements(body []byte) ([]byte, error) {
	if len(body) < saeGroupIDOffset+2 {
		return nil, truncated("sae group", saeGroupIDOffset+2, len(body))
	}
	status := StatusCode(binary.LittleEndian.Uint16(body[saeStatusOffset:]))
	if status != StatusSAEHashToElement && status != StatusSAEPK {
		return nil, ErrSAENotSupported
	}

	var fixed int
	switch binary.LittleEndian.Uint16(body[saeGroupIDOffset:]) {
	case 19:
		fixed = saeGroup19FixedLen
	case 20:
		fixed = saeGroup20FixedLen
	case 21:
		fixed = saeGroup21FixedLen
	default:
		return nil, ErrSAENotSupported
	}

	ies := body[saeGroupIDOffset+2:]
	if len(ies) <= fixed {
		return nil, ErrSAENotSupported
	}
	return ies[fixed:], nil
}

// PeerMLDFromSAECommit 从 SAE 第一帧中取对端 MLD 地址
func PeerMLDFromSAECommit(body []byte) (MACAddr, bool) {
	ies, err := SAECommitElements(body)
	if err != nil {
		return MACAddr{}, false
	}
	ml, ok := FindMultiLink(ies)
	if !ok {
		return MACAddr{}, false
	}
	return ml.MLDAddr, true
}
