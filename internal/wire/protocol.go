// Package wire is the external-collaborator transport spec.md §1
// explicitly places outside THE CORE: a TCP protocol for submitting
// orders and receiving execution/error reports, sitting in front of
// internal/orderservice. Transport itself is not part of the spec's
// scope, but a runnable cmd/server and cmd/client pair is still worth
// carrying, the same way the teacher ships both.
//
// Grounded on the teacher's internal/net/messages.go: a 2-byte message
// type header followed by a fixed body. The teacher's body packs
// LimitPrice as a raw float64 and Ticker/Username as fixed-width
// byte ranges; both are replaced here with length-prefixed fields,
// since Quantity/Price must travel as exact decimal strings (spec
// §3.1 forbids float64 anywhere in the order path) and
// InstrumentSymbol/ClientOrderID/UserID/AccountID have no natural
// fixed width once they are no longer 4-character tickers.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

type MessageType uint16

const (
	Heartbeat MessageType = iota
	NewOrder
	CancelOrder
	ModifyOrder
)

type ReportKind uint8

const (
	ReportAccepted ReportKind = iota
	ReportTrade
	ReportError
)

var (
	ErrInvalidMessageType = errors.New("wire: invalid message type")
	ErrMessageTruncated   = errors.New("wire: message truncated")
)

// NewOrderMessage is the wire shape of a placement request; every
// decimal-valued field travels as its exact string literal.
type NewOrderMessage struct {
	InstrumentSymbol string
	Side             string
	Type             string
	TimeInForce      string
	Quantity         string
	Price            string // empty for Market orders
	ClientOrderID    string
	UserID           string
	AccountID        string
}

// CancelOrderMessage is the wire shape of a cancel request. UserID is
// the caller claiming ownership of OrderID; the service rejects the
// cancel with ORDER_NOT_FOUND if it doesn't match.
type CancelOrderMessage struct {
	InstrumentSymbol string
	OrderID          string
	UserID           string
}

// ModifyOrderMessage is the wire shape of a modify request. UserID is
// the caller claiming ownership of OrderID; the service rejects the
// modify with ORDER_NOT_FOUND if it doesn't match.
type ModifyOrderMessage struct {
	InstrumentSymbol string
	OrderID          string
	Quantity         string
	Price            string // empty to leave the price unchanged
	UserID           string
}

// Report is what the server writes back: an acceptance, a fill, or an
// error, addressed to one connected owner.
type Report struct {
	Kind         ReportKind
	OrderID      string
	Status       string
	Side         string
	Quantity     string
	Price        string
	Counterparty string
	Err          string
}

func putString(buf *bytes.Buffer, s string) {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var lenBuf [2]byte
	if _, err := r.Read(lenBuf[:]); err != nil {
		return "", ErrMessageTruncated
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	strBuf := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(strBuf); err != nil {
			return "", ErrMessageTruncated
		}
	}
	return string(strBuf), nil
}

// EncodeNewOrder serializes m with its 2-byte MessageType header.
func EncodeNewOrder(m NewOrderMessage) []byte {
	var buf bytes.Buffer
	var typeBuf [2]byte
	binary.BigEndian.PutUint16(typeBuf[:], uint16(NewOrder))
	buf.Write(typeBuf[:])
	for _, s := range []string{m.InstrumentSymbol, m.Side, m.Type, m.TimeInForce, m.Quantity, m.Price, m.ClientOrderID, m.UserID, m.AccountID} {
		putString(&buf, s)
	}
	return buf.Bytes()
}

// EncodeCancelOrder serializes m with its 2-byte MessageType header.
func EncodeCancelOrder(m CancelOrderMessage) []byte {
	var buf bytes.Buffer
	var typeBuf [2]byte
	binary.BigEndian.PutUint16(typeBuf[:], uint16(CancelOrder))
	buf.Write(typeBuf[:])
	putString(&buf, m.InstrumentSymbol)
	putString(&buf, m.OrderID)
	putString(&buf, m.UserID)
	return buf.Bytes()
}

// EncodeModifyOrder serializes m with its 2-byte MessageType header.
func EncodeModifyOrder(m ModifyOrderMessage) []byte {
	var buf bytes.Buffer
	var typeBuf [2]byte
	binary.BigEndian.PutUint16(typeBuf[:], uint16(ModifyOrder))
	buf.Write(typeBuf[:])
	putString(&buf, m.InstrumentSymbol)
	putString(&buf, m.OrderID)
	putString(&buf, m.Quantity)
	putString(&buf, m.Price)
	putString(&buf, m.UserID)
	return buf.Bytes()
}

// DecodeMessage reads the 2-byte type header off msg and decodes the
// remainder into the matching message struct.
func DecodeMessage(msg []byte) (MessageType, any, error) {
	if len(msg) < 2 {
		return 0, nil, ErrMessageTruncated
	}
	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	r := bytes.NewReader(msg[2:])

	switch typeOf {
	case NewOrder:
		fields := make([]string, 9)
		for i := range fields {
			s, err := readString(r)
			if err != nil {
				return typeOf, nil, err
			}
			fields[i] = s
		}
		return typeOf, NewOrderMessage{
			InstrumentSymbol: fields[0], Side: fields[1], Type: fields[2], TimeInForce: fields[3],
			Quantity: fields[4], Price: fields[5], ClientOrderID: fields[6], UserID: fields[7], AccountID: fields[8],
		}, nil
	case CancelOrder:
		fields := make([]string, 3)
		for i := range fields {
			s, err := readString(r)
			if err != nil {
				return typeOf, nil, err
			}
			fields[i] = s
		}
		return typeOf, CancelOrderMessage{InstrumentSymbol: fields[0], OrderID: fields[1], UserID: fields[2]}, nil
	case ModifyOrder:
		fields := make([]string, 5)
		for i := range fields {
			s, err := readString(r)
			if err != nil {
				return typeOf, nil, err
			}
			fields[i] = s
		}
		return typeOf, ModifyOrderMessage{InstrumentSymbol: fields[0], OrderID: fields[1], Quantity: fields[2], Price: fields[3], UserID: fields[4]}, nil
	case Heartbeat:
		return typeOf, struct{}{}, nil
	default:
		return typeOf, nil, fmt.Errorf("%w: %d", ErrInvalidMessageType, typeOf)
	}
}

// EncodeReport serializes a Report for the wire.
func EncodeReport(r Report) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(r.Kind))
	for _, s := range []string{r.OrderID, r.Status, r.Side, r.Quantity, r.Price, r.Counterparty, r.Err} {
		putString(&buf, s)
	}
	return buf.Bytes()
}

// DecodeReport parses a Report off the wire (used by cmd/client).
func DecodeReport(msg []byte) (Report, error) {
	if len(msg) < 1 {
		return Report{}, ErrMessageTruncated
	}
	kind := ReportKind(msg[0])
	r := bytes.NewReader(msg[1:])
	fields := make([]string, 7)
	for i := range fields {
		s, err := readString(r)
		if err != nil {
			return Report{}, err
		}
		fields[i] = s
	}
	return Report{
		Kind: kind, OrderID: fields[0], Status: fields[1], Side: fields[2],
		Quantity: fields[3], Price: fields[4], Counterparty: fields[5], Err: fields[6],
	}, nil
}
