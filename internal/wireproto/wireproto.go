// Package wireproto implements the protobuf wire encoding of Tx, Intent,
// SignedTxData, and IntentGossipMessage, written directly against
// protowire (append/consume primitives, no code generation, no
// reflection).
//
// Every message here uses proto3 field numbering so a generated client
// sharing the same .proto decodes these bytes unchanged.
package wireproto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers, fixed for wire compatibility across this package's
// lifetime; changing them silently would fork the chain.
const (
	txFieldCode      = 1
	txFieldData      = 2
	txFieldTimestamp = 3

	intentFieldData      = 1
	intentFieldTimestamp = 2

	signedFieldData = 1
	signedFieldSig  = 2
	signedFieldPK   = 3

	gossipFieldIntent = 1 // oneof{intent}; the only variant specified
)

// Tx is the transaction envelope: Tx{code, data, timestamp}.
type Tx struct {
	Code      []byte
	Data      []byte // optional; nil means absent
	Timestamp int64  // unix nanoseconds, required post-decode
}

// EncodeTx serializes a Tx to its canonical wire form.
func EncodeTx(tx Tx) []byte {
	var b []byte
	b = protowire.AppendTag(b, txFieldCode, protowire.BytesType)
	b = protowire.AppendBytes(b, tx.Code)
	if tx.Data != nil {
		b = protowire.AppendTag(b, txFieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, tx.Data)
	}
	// Zero-valued scalars are omitted on the wire (proto3); a Tx encoded
	// without a timestamp is rejected by DecodeTx.
	if tx.Timestamp != 0 {
		b = protowire.AppendTag(b, txFieldTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(tx.Timestamp))
	}
	return b
}

// DecodeTx parses the wire form produced by EncodeTx. A malformed envelope
// must fail fast with no storage effect; the error returned here is never
// wrapped as storage-fatal by the caller.
func DecodeTx(b []byte) (Tx, error) {
	var tx Tx
	var sawTimestamp bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Tx{}, fmt.Errorf("wireproto: Tx: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case txFieldCode:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Tx{}, fmt.Errorf("wireproto: Tx.code: %w", protowire.ParseError(n))
			}
			tx.Code = append([]byte(nil), v...)
			b = b[n:]
		case txFieldData:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Tx{}, fmt.Errorf("wireproto: Tx.data: %w", protowire.ParseError(n))
			}
			tx.Data = append([]byte(nil), v...)
			b = b[n:]
		case txFieldTimestamp:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Tx{}, fmt.Errorf("wireproto: Tx.timestamp: %w", protowire.ParseError(n))
			}
			tx.Timestamp = int64(v)
			sawTimestamp = true
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Tx{}, fmt.Errorf("wireproto: Tx: unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if !sawTimestamp {
		return Tx{}, fmt.Errorf("wireproto: Tx: missing required timestamp")
	}
	return tx, nil
}

// Intent is an intent-gossip payload: Intent{data, timestamp}.
type Intent struct {
	Data      []byte
	Timestamp int64
}

// EncodeIntent serializes an Intent to its canonical wire form.
func EncodeIntent(in Intent) []byte {
	var b []byte
	b = protowire.AppendTag(b, intentFieldData, protowire.BytesType)
	b = protowire.AppendBytes(b, in.Data)
	if in.Timestamp != 0 {
		b = protowire.AppendTag(b, intentFieldTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(in.Timestamp))
	}
	return b
}

// DecodeIntent parses the wire form produced by EncodeIntent.
func DecodeIntent(b []byte) (Intent, error) {
	var in Intent
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Intent{}, fmt.Errorf("wireproto: Intent: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case intentFieldData:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Intent{}, fmt.Errorf("wireproto: Intent.data: %w", protowire.ParseError(n))
			}
			in.Data = append([]byte(nil), v...)
			b = b[n:]
		case intentFieldTimestamp:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Intent{}, fmt.Errorf("wireproto: Intent.timestamp: %w", protowire.ParseError(n))
			}
			in.Timestamp = int64(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Intent{}, fmt.Errorf("wireproto: Intent: unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return in, nil
}

// SignedTxData wraps tx_data with the submitter's signature over it and
// the public key to verify against.
type SignedTxData struct {
	Data      []byte
	Signature []byte
	PublicKey []byte
}

// EncodeSignedTxData serializes a SignedTxData to its canonical wire form.
func EncodeSignedTxData(s SignedTxData) []byte {
	var b []byte
	b = protowire.AppendTag(b, signedFieldData, protowire.BytesType)
	b = protowire.AppendBytes(b, s.Data)
	b = protowire.AppendTag(b, signedFieldSig, protowire.BytesType)
	b = protowire.AppendBytes(b, s.Signature)
	b = protowire.AppendTag(b, signedFieldPK, protowire.BytesType)
	b = protowire.AppendBytes(b, s.PublicKey)
	return b
}

// DecodeSignedTxData parses the wire form produced by EncodeSignedTxData.
func DecodeSignedTxData(b []byte) (SignedTxData, error) {
	var s SignedTxData
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return SignedTxData{}, fmt.Errorf("wireproto: SignedTxData: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case signedFieldData:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return SignedTxData{}, fmt.Errorf("wireproto: SignedTxData.data: %w", protowire.ParseError(n))
			}
			s.Data = append([]byte(nil), v...)
			b = b[n:]
		case signedFieldSig:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return SignedTxData{}, fmt.Errorf("wireproto: SignedTxData.signature: %w", protowire.ParseError(n))
			}
			s.Signature = append([]byte(nil), v...)
			b = b[n:]
		case signedFieldPK:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return SignedTxData{}, fmt.Errorf("wireproto: SignedTxData.public_key: %w", protowire.ParseError(n))
			}
			s.PublicKey = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return SignedTxData{}, fmt.Errorf("wireproto: SignedTxData: unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return s, nil
}

// IntentGossipMessage wraps a single oneof variant; today that is always
// intent, but the field is kept in a oneof-shaped struct (a pointer,
// nil when absent) so adding a second variant later doesn't change field
// numbering for the first.
type IntentGossipMessage struct {
	Intent *Intent
}

// EncodeIntentGossipMessage serializes an IntentGossipMessage.
func EncodeIntentGossipMessage(m IntentGossipMessage) []byte {
	var b []byte
	if m.Intent != nil {
		b = protowire.AppendTag(b, gossipFieldIntent, protowire.BytesType)
		b = protowire.AppendBytes(b, EncodeIntent(*m.Intent))
	}
	return b
}

// DecodeIntentGossipMessage parses the wire form produced by
// EncodeIntentGossipMessage.
func DecodeIntentGossipMessage(b []byte) (IntentGossipMessage, error) {
	var m IntentGossipMessage
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return IntentGossipMessage{}, fmt.Errorf("wireproto: IntentGossipMessage: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case gossipFieldIntent:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return IntentGossipMessage{}, fmt.Errorf("wireproto: IntentGossipMessage.intent: %w", protowire.ParseError(n))
			}
			in, err := DecodeIntent(v)
			if err != nil {
				return IntentGossipMessage{}, err
			}
			m.Intent = &in
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return IntentGossipMessage{}, fmt.Errorf("wireproto: IntentGossipMessage: unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return m, nil
}
