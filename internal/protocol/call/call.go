// Package call owns the function call envelope and its stream record framing.
package call

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/lockstep/internal/protocol"
	"github.com/danmuck/lockstep/internal/protocol/hashing"
)

const (
	ObjectIDLen     = 8
	TransmissionLen = 1
	HeaderLen       = ObjectIDLen + hashing.Size + TransmissionLen
	RecordPrefixLen = 4
)

var (
	ErrShortHeader     = errors.New("call: short fixed header")
	ErrMissingFunction = errors.New("call: missing function id")
	ErrRecordTooLarge  = errors.New("call: record too large")
	ErrShortRecord     = errors.New("call: short record")
	ErrEmptyRecord     = errors.New("call: empty record")
)

// Call is one replicated invocation request.
type Call struct {
	ObjectID     uint64
	FunctionID   hashing.Hash
	Transmission protocol.Transmission
	Payload      []byte
}

func New(objectID uint64, functionID hashing.Hash, transmission protocol.Transmission, payload []byte) (Call, error) {
	if functionID.IsZero() {
		return Call{}, ErrMissingFunction
	}
	if !transmission.Valid() {
		return Call{}, fmt.Errorf("%w: %d", protocol.ErrInvalidTransmission, transmission)
	}
	return Call{
		ObjectID:     objectID,
		FunctionID:   functionID,
		Transmission: transmission,
		Payload:      payload,
	}, nil
}

// HasPayload reports whether argument bytes follow the header.
func (c Call) HasPayload() bool {
	return len(c.Payload) > 0
}

// Bytes encodes the call as [object id][function id][transmission][payload].
func (c Call) Bytes() []byte {
	buf := make([]byte, HeaderLen+len(c.Payload))
	binary.BigEndian.PutUint64(buf[0:ObjectIDLen], c.ObjectID)
	copy(buf[ObjectIDLen:ObjectIDLen+hashing.Size], c.FunctionID[:])
	buf[HeaderLen-1] = byte(c.Transmission)
	copy(buf[HeaderLen:], c.Payload)
	return buf
}

func Decode(b []byte) (Call, error) {
	if len(b) < HeaderLen {
		return Call{}, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(b))
	}
	var c Call
	c.ObjectID = binary.BigEndian.Uint64(b[0:ObjectIDLen])
	copy(c.FunctionID[:], b[ObjectIDLen:ObjectIDLen+hashing.Size])
	c.Transmission = protocol.Transmission(b[HeaderLen-1])
	if !c.Transmission.Valid() {
		return Call{}, fmt.Errorf("%w: %d", protocol.ErrInvalidTransmission, b[HeaderLen-1])
	}
	if len(b) > HeaderLen {
		c.Payload = make([]byte, len(b)-HeaderLen)
		copy(c.Payload, b[HeaderLen:])
	}
	return c, nil
}

// Limits constrains record decode/encode memory use.
type Limits struct {
	MaxRecordBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxRecordBytes: 1024 * 1024}
}

// WriteRecord writes one length-prefixed record for stream transports.
func WriteRecord(w io.Writer, record []byte, limits Limits) error {
	if len(record) == 0 {
		return ErrEmptyRecord
	}
	if uint64(len(record)) > uint64(limits.MaxRecordBytes) {
		return ErrRecordTooLarge
	}
	buf := make([]byte, RecordPrefixLen+len(record))
	binary.BigEndian.PutUint32(buf[0:RecordPrefixLen], uint32(len(record)))
	copy(buf[RecordPrefixLen:], record)
	_, err := w.Write(buf)
	return err
}

func ReadRecord(r io.Reader, limits Limits) ([]byte, error) {
	var prefix [RecordPrefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortRecord
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n == 0 {
		return nil, ErrEmptyRecord
	}
	if n > limits.MaxRecordBytes {
		return nil, ErrRecordTooLarge
	}
	record := make([]byte, n)
	if _, err := io.ReadFull(r, record); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ErrShortRecord
		}
		return nil, err
	}
	return record, nil
}
