package xcp

// ErrCode is a single-byte XCP negative-response error code.
type ErrCode uint8

const (
	ErrCmdUnknown     ErrCode = 0x20
	ErrCmdBusy        ErrCode = 0x10
	ErrDaqActive      ErrCode = 0x21
	ErrOutOfRange     ErrCode = 0x22
	ErrWriteProtected ErrCode = 0x23
	ErrAccessDenied   ErrCode = 0x24
	ErrMemoryOverflow ErrCode = 0x30
	ErrGeneric        ErrCode = 0x31
)

const (
	pidPositive = 0xFF
	pidNegative = 0xFE
)
