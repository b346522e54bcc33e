// File: internal/scanner/decoder.go
package scanner

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Standard Solidity revert selectors
const (
	selectorError = "0x08c379a0" // Error(string)
	selectorPanic = "0x4e487b71" // Panic(uint256)
)

// panicReasons maps Solidity panic codes to human-readable messages
var panicReasons = map[uint64]string{
	0x00: "generic compiler panic",
	0x01: "assertion failed",
	0x11: "arithmetic overflow or underflow",
	0x12: "division or modulo by zero",
	0x21: "invalid enum conversion",
	0x22: "corrupted storage byte array",
	0x31: "pop on empty array",
	0x32: "array index out of bounds",
	0x41: "out of memory",
	0x51: "call to invalid internal function",
}

// DecodeRevert classifies raw revert data. It returns the 4-byte selector as
// a 0x hex string and, for the standard Error(string) and Panic(uint256)
// shapes, a decoded human-readable message. Custom errors keep their
// selector with no decoded text. Both are nil when the data carries no
// selector.
func DecodeRevert(data string) (signature *string, decoded *string) {
	raw, err := hexutil.Decode(data)
	if err != nil || len(raw) < 4 {
		return nil, nil
	}

	sig := "0x" + hex.EncodeToString(raw[:4])
	signature = &sig
	payload := raw[4:]

	switch sig {
	case selectorError:
		if msg, ok := decodeErrorString(payload); ok {
			decoded = &msg
		}
	case selectorPanic:
		if msg, ok := decodePanicCode(payload); ok {
			decoded = &msg
		}
	}
	return signature, decoded
}

// decodeErrorString ABI-decodes the single string argument of Error(string)
func decodeErrorString(payload []byte) (string, bool) {
	if len(payload) < 64 {
		return "", false
	}

	offset := new(big.Int).SetBytes(payload[:32])
	if !offset.IsUint64() || offset.Uint64() > uint64(len(payload))-32 {
		return "", false
	}
	start := offset.Uint64()

	length := new(big.Int).SetBytes(payload[start : start+32])
	if !length.IsUint64() || length.Uint64() > uint64(len(payload))-start-32 {
		return "", false
	}

	return string(payload[start+32 : start+32+length.Uint64()]), true
}

// decodePanicCode maps the single uint256 argument of Panic(uint256)
func decodePanicCode(payload []byte) (string, bool) {
	if len(payload) < 32 {
		return "", false
	}

	code := new(big.Int).SetBytes(payload[:32])
	if !code.IsUint64() {
		return "", false
	}
	if reason, ok := panicReasons[code.Uint64()]; ok {
		return reason, true
	}
	return fmt.Sprintf("panic code 0x%x", code.Uint64()), true
}

// MethodID returns the 4-byte method selector of calldata as a 0x hex
// string, nil for plain value transfers
func MethodID(input []byte) *string {
	if len(input) < 4 {
		return nil
	}
	id := "0x" + strings.ToLower(hex.EncodeToString(input[:4]))
	return &id
}
