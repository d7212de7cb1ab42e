// Package protocol implements the length-prefixed, type-tagged message
// framing this engine uses to talk to its parent process over a duplex
// file descriptor, mirroring the header-then-Encode/Decode shape of
// lnwire.WriteMessage/ReadMessage.
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// MessageType is the 2-byte big-endian tag identifying a message's
// concrete type.
type MessageType uint16

const (
	MsgOnchainInit          MessageType = 1
	MsgOnchainHtlc          MessageType = 2
	MsgOnchainDepth         MessageType = 3
	MsgOnchainSpent         MessageType = 4
	MsgOnchainKnownPreimage MessageType = 5
	MsgOnchainInitReply     MessageType = 101
	MsgOnchainBroadcastTx   MessageType = 102
	MsgOnchainUnwatchTx     MessageType = 103
)

// MaxMsgBody bounds the payload a single message may carry, guarding
// against a malformed length prefix driving an unbounded allocation.
const MaxMsgBody = 1 << 24

// Message is any value that can be framed over the wire.
type Message interface {
	MsgType() MessageType
	Encode(w io.Writer) error
	Decode(r io.Reader) error
}

// ErrPayloadTooLarge is returned by ReadMessage when the declared length
// prefix exceeds MaxMsgBody.
func ErrPayloadTooLarge(size uint32) error {
	return fmt.Errorf("message payload of %d bytes exceeds maximum of %d",
		size, MaxMsgBody)
}

// makeEmptyMessage constructs the zero value for a given wire type, so
// ReadMessage can decode into it.
func makeEmptyMessage(msgType MessageType) (Message, error) {
	switch msgType {
	case MsgOnchainInit:
		return &OnchainInit{}, nil
	case MsgOnchainHtlc:
		return &OnchainHtlc{}, nil
	case MsgOnchainDepth:
		return &OnchainDepth{}, nil
	case MsgOnchainSpent:
		return &OnchainSpent{}, nil
	case MsgOnchainKnownPreimage:
		return &OnchainKnownPreimage{}, nil
	case MsgOnchainInitReply:
		return &OnchainInitReply{}, nil
	case MsgOnchainBroadcastTx:
		return &OnchainBroadcastTx{}, nil
	case MsgOnchainUnwatchTx:
		return &OnchainUnwatchTx{}, nil
	default:
		return nil, fmt.Errorf("unknown message type %d", msgType)
	}
}

// WriteMessage frames msg as [4-byte length][2-byte type][payload] and
// writes it to w. The length prefix covers the type tag and payload, but
// not itself.
func WriteMessage(w io.Writer, msg Message) error {
	var body bytes.Buffer

	var typeBuf [2]byte
	binary.BigEndian.PutUint16(typeBuf[:], uint16(msg.MsgType()))
	if _, err := body.Write(typeBuf[:]); err != nil {
		return err
	}

	if err := msg.Encode(&body); err != nil {
		return fmt.Errorf("encoding message body: %w", err)
	}

	if body.Len() > MaxMsgBody {
		return ErrPayloadTooLarge(uint32(body.Len()))
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(body.Len()))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}

	_, err := w.Write(body.Bytes())
	return err
}

// ReadMessage reads the next framed message from r, blocking until a full
// frame arrives.
func ReadMessage(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	bodyLen := binary.BigEndian.Uint32(lenBuf[:])
	if bodyLen > MaxMsgBody {
		return nil, ErrPayloadTooLarge(bodyLen)
	}
	if bodyLen < 2 {
		return nil, fmt.Errorf("message body too short to hold a type tag: %d", bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	msgType := MessageType(binary.BigEndian.Uint16(body[:2]))
	msg, err := makeEmptyMessage(msgType)
	if err != nil {
		return nil, err
	}
	if err := msg.Decode(bytes.NewReader(body[2:])); err != nil {
		return nil, fmt.Errorf("decoding message type %d: %w", msgType, err)
	}
	return msg, nil
}
