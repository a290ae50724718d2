package dot11

// Algorithm 认证算法编号 (IEEE 802.11-2020 §9.4.1.1)
type Algorithm uint16

const (
	AlgOpen      Algorithm = 0
	AlgSharedKey Algorithm = 1
	AlgFT        Algorithm = 2 // Fast BSS Transition
	AlgSAE       Algorithm = 3
	AlgFILSSK    Algorithm = 4
	AlgFILSSKPFS Algorithm = 5
	AlgFILSPK    Algorithm = 6
	AlgPASN      Algorithm = 7
)

func (a Algorithm) String() string {
	switch a {
	case AlgOpen:
		return "open"
	case AlgSharedKey:
		return "shared-key"
	case AlgFT:
		return "ft"
	case AlgSAE:
		return "sae"
	case AlgFILSSK, AlgFILSSKPFS, AlgFILSPK:
		return "fils"
	case AlgPASN:
		return "pasn"
	default:
		return "unknown"
	}
}

// StatusCode 认证帧状态码 (IEEE 802.11-2020 §9.4.1.9)
type StatusCode uint16

const (
	StatusSuccess                  StatusCode = 0
	StatusUnspecifiedFailure       StatusCode = 1
	StatusAuthAlgNotSupported      StatusCode = 13
	StatusUnknownAuthTransaction   StatusCode = 14
	StatusChallengeFail            StatusCode = 15
	StatusAuthTimeout              StatusCode = 16
	StatusAPUnableToHandleNewSTA   StatusCode = 17
	StatusAssocRejectedTemporarily StatusCode = 30
	StatusSAEHashToElement         StatusCode = 126
	StatusSAEPK                    StatusCode = 127
)

func (s StatusCode) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusUnspecifiedFailure:
		return "unspecified-failure"
	case StatusAuthAlgNotSupported:
		return "auth-alg-not-supported"
	case StatusUnknownAuthTransaction:
		return "unknown-auth-transaction"
	case StatusChallengeFail:
		return "challenge-fail"
	case StatusAuthTimeout:
		return "auth-timeout"
	case StatusAPUnableToHandleNewSTA:
		return "ap-unable-to-handle-new-sta"
	case StatusAssocRejectedTemporarily:
		return "assoc-rejected-temporarily"
	case StatusSAEHashToElement:
		return "sae-hash-to-element"
	case StatusSAEPK:
		return "sae-pk"
	default:
		return "unknown"
	}
}

// 认证事务序号
const (
	AuthFrame1 uint16 = 1
	AuthFrame2 uint16 = 2
	AuthFrame3 uint16 = 3
	AuthFrame4 uint16 = 4
)

// 信息元素
const (
	ElemChallengeText uint8 = 16
	ElemExtension     uint8 = 255

	ElemExtMultiLink uint8 = 107
)

// ReasonUnspecified 去认证原因码
const ReasonUnspecified uint16 = 1

const (
	// AuthFixedLen 算法(2) + 事务序号(2) + 状态码(2)
	AuthFixedLen = 6

	// ChallengeLen AP 生成的 challenge text 长度
	ChallengeLen = 16
	// MaxChallengeLen 对端可能使用的最大 challenge text 长度
	MaxChallengeLen = 128

	// WEP 封装开销: IV(3) + KeyID(1) + ICV(4)
	WEPIVLen       = 4
	WEPICVLen      = 4
	WEPOverheadLen = WEPIVLen + WEPICVLen

	// MinEncryptedAuthLen / MaxEncryptedAuthLen 加密的第 3 帧 body 长度范围
	MinEncryptedAuthLen = WEPOverheadLen + AuthFixedLen + 2 + ChallengeLen
	MaxEncryptedAuthLen = WEPOverheadLen + AuthFixedLen + 2 + MaxChallengeLen
)
