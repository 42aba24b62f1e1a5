package ethrpc

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

const abiWord = 32

// EventTopic returns the topic0 for a solidity event signature, e.g.
// "Payment(address,address,address,uint256,string,string,uint256)".
func EventTopic(signature string) string {
	return "0x" + hex.EncodeToString(keccak256([]byte(signature)))
}

// payNativeCalldata ABI-encodes the gateway's
// payNative(address receiver, string slug, string memo) call.
func payNativeCalldata(receiver, slug, memo string) (string, error) {
	addr, err := addressWord(receiver)
	if err != nil {
		return "", err
	}

	slugTail := stringTail(slug)
	memoTail := stringTail(memo)

	// Head: receiver, slug offset, memo offset. Offsets are relative to
	// the start of the argument block.
	headLen := 3 * abiWord
	slugOffset := headLen
	memoOffset := headLen + len(slugTail)

	var out []byte
	out = append(out, keccak256([]byte("payNative(address,string,string)"))[:4]...)
	out = append(out, addr...)
	out = append(out, uintWord(uint64(slugOffset))...)
	out = append(out, uintWord(uint64(memoOffset))...)
	out = append(out, slugTail...)
	out = append(out, memoTail...)
	return "0x" + hex.EncodeToString(out), nil
}

func keccak256(data []byte) []byte {
	hash := sha3.NewLegacyKeccak256()
	hash.Write(data)
	return hash.Sum(nil)
}

func addressWord(address string) ([]byte, error) {
	clean := strings.TrimPrefix(strings.ToLower(address), "0x")
	raw, err := hex.DecodeString(clean)
	if err != nil || len(raw) != 20 {
		return nil, fmt.Errorf("invalid address %q", address)
	}
	word := make([]byte, abiWord)
	copy(word[abiWord-len(raw):], raw)
	return word, nil
}

func uintWord(value uint64) []byte {
	word := make([]byte, abiWord)
	new(big.Int).SetUint64(value).FillBytes(word)
	return word
}

// stringTail encodes a dynamic string: length word plus the bytes,
// right-padded to a word boundary.
func stringTail(value string) []byte {
	data := []byte(value)
	padded := (len(data) + abiWord - 1) / abiWord * abiWord
	out := make([]byte, abiWord+padded)
	new(big.Int).SetUint64(uint64(len(data))).FillBytes(out[:abiWord])
	copy(out[abiWord:], data)
	return out
}
