package application

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/imthegoodboy/Paylink/internal/domain"
	"github.com/imthegoodboy/Paylink/internal/streaming"
)

// PaymentEventSignature is the gateway event this system indexes.
const PaymentEventSignature = "Payment(address,address,address,uint256,string,string,uint256)"

// Wire layout of the Payment event:
//
//	topics: [topic0, payer, receiver, token]
//	data:   amount, slug offset, memo offset, timestamp, slug tail, memo tail
const (
	paymentTopicCount = 4

	maxSlugBytes = 128
	maxMemoBytes = 512
)

var (
	ErrMalformedEvent = errors.New("malformed payment event")
)

// DecodePayment converts one raw log message into a payment record.
// Any structural defect is terminal for this event only; callers log
// and drop, they never retry a decode.
func DecodePayment(msg streaming.Message) (domain.Payment, error) {
	if msg.Type != streaming.MessageTypePaymentLog {
		return domain.Payment{}, fmt.Errorf("%w: unexpected message type %q", ErrMalformedEvent, msg.Type)
	}
	if msg.TxHash == "" {
		return domain.Payment{}, fmt.Errorf("%w: missing tx hash", ErrMalformedEvent)
	}
	if len(msg.Topics) != paymentTopicCount {
		return domain.Payment{}, fmt.Errorf("%w: expected %d topics, got %d", ErrMalformedEvent, paymentTopicCount, len(msg.Topics))
	}

	payer, err := decodeTopicAddress(msg.Topics[1])
	if err != nil {
		return domain.Payment{}, err
	}
	receiver, err := decodeTopicAddress(msg.Topics[2])
	if err != nil {
		return domain.Payment{}, err
	}
	token, err := decodeTopicAddress(msg.Topics[3])
	if err != nil {
		return domain.Payment{}, err
	}

	data, err := decodeDataBytes(msg.Data)
	if err != nil {
		return domain.Payment{}, err
	}
	// Head: amount, slug offset, memo offset, timestamp.
	if len(data) < 4*wordSize {
		return domain.Payment{}, fmt.Errorf("%w: data head too short (%d bytes)", ErrMalformedEvent, len(data))
	}

	amount := new(big.Int).SetBytes(dataWord(data, 0))
	slug, err := decodeDynamicString(data, 1, maxSlugBytes)
	if err != nil {
		return domain.Payment{}, err
	}
	memo, err := decodeDynamicString(data, 2, maxMemoBytes)
	if err != nil {
		return domain.Payment{}, err
	}
	timestamp := new(big.Int).SetBytes(dataWord(data, 3))
	if !timestamp.IsUint64() {
		return domain.Payment{}, fmt.Errorf("%w: timestamp overflows uint64", ErrMalformedEvent)
	}
	if slug == "" {
		return domain.Payment{}, fmt.Errorf("%w: empty slug", ErrMalformedEvent)
	}

	return domain.Payment{
		TxHash:     strings.ToLower(msg.TxHash),
		Payer:      payer,
		Receiver:   receiver,
		Token:      token,
		Amount:     amount.String(),
		Slug:       slug,
		Memo:       memo,
		OccurredAt: timestamp.Uint64(),
	}, nil
}

const wordSize = 32

func decodeDataBytes(raw string) ([]byte, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if len(data)%wordSize != 0 {
		return nil, fmt.Errorf("%w: data is not word aligned (%d bytes)", ErrMalformedEvent, len(data))
	}
	return data, nil
}

func dataWord(data []byte, index int) []byte {
	return data[index*wordSize : (index+1)*wordSize]
}

// decodeDynamicString reads the offset stored in head word headIndex and
// follows it to the length-prefixed tail.
func decodeDynamicString(data []byte, headIndex, maxLen int) (string, error) {
	offset := new(big.Int).SetBytes(dataWord(data, headIndex))
	if !offset.IsInt64() || offset.Int64() > int64(len(data)-wordSize) || offset.Int64()%wordSize != 0 {
		return "", fmt.Errorf("%w: bad string offset in word %d", ErrMalformedEvent, headIndex)
	}
	start := int(offset.Int64())

	length := new(big.Int).SetBytes(data[start : start+wordSize])
	if !length.IsInt64() || length.Int64() > int64(maxLen) {
		return "", fmt.Errorf("%w: string length out of bounds in word %d", ErrMalformedEvent, headIndex)
	}
	n := int(length.Int64())
	if start+wordSize+n > len(data) {
		return "", fmt.Errorf("%w: string tail truncated in word %d", ErrMalformedEvent, headIndex)
	}
	return string(data[start+wordSize : start+wordSize+n]), nil
}

func decodeTopicAddress(topic string) (string, error) {
	if !strings.HasPrefix(topic, "0x") || len(topic) != 66 {
		return "", fmt.Errorf("%w: invalid address topic %q", ErrMalformedEvent, topic)
	}
	if _, err := hex.DecodeString(topic[2:]); err != nil {
		return "", fmt.Errorf("%w: invalid address topic %q", ErrMalformedEvent, topic)
	}
	return strings.ToLower("0x" + topic[26:]), nil
}
