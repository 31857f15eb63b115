package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"tgmedia/pkg/media"
)

// record layout: magic, version, cache type length, cache type, MIME length
// (uint16 big endian), MIME, data.
var recordMagic = []byte("TGMC")

const recordVersion byte = 1

// ErrCorruptRecord indicates a stored value that does not decode as a record.
var ErrCorruptRecord = errors.New("storage: corrupt record")

// Record is one stored durable cache entry.
type Record struct {
	CacheType media.CacheType
	MIMEType  string
	Data      []byte
}

// NewRecord builds a record for one saved payload.
func NewRecord(cacheType media.CacheType, payload media.Payload) Record {
	return Record{CacheType: cacheType, MIMEType: payload.MIMEType, Data: payload.Data}
}

// Payload returns the payload carried by r.
func (r Record) Payload() media.Payload {
	return media.Payload{Data: r.Data, MIMEType: r.MIMEType}
}

// Accepts reports whether r may serve a read for cacheType. Entries of another
// cache type never match, and unsafe MIME types need allowUnsafe.
func (r Record) Accepts(cacheType media.CacheType, allowUnsafe bool) bool {
	if r.CacheType != cacheType {
		return false
	}
	if !allowUnsafe && media.IsUnsafeMIME(r.MIMEType) {
		return false
	}

	return true
}

// EncodeRecord serializes r.
func EncodeRecord(r Record) ([]byte, error) {
	if len(r.CacheType) > math.MaxUint8 {
		return nil, fmt.Errorf("encode record: cache type too long")
	}
	if len(r.MIMEType) > math.MaxUint16 {
		return nil, fmt.Errorf("encode record: mime type too long")
	}

	var buffer bytes.Buffer
	buffer.Grow(len(recordMagic) + 4 + len(r.CacheType) + len(r.MIMEType) + len(r.Data))
	buffer.Write(recordMagic)
	buffer.WriteByte(recordVersion)
	buffer.WriteByte(byte(len(r.CacheType)))
	buffer.WriteString(string(r.CacheType))
	var mimeLength [2]byte
	binary.BigEndian.PutUint16(mimeLength[:], uint16(len(r.MIMEType)))
	buffer.Write(mimeLength[:])
	buffer.WriteString(r.MIMEType)
	buffer.Write(r.Data)

	return buffer.Bytes(), nil
}

// DecodeRecord parses raw produced by EncodeRecord. The returned data aliases raw.
func DecodeRecord(raw []byte) (Record, error) {
	if !bytes.HasPrefix(raw, recordMagic) {
		return Record{}, fmt.Errorf("%w: missing magic", ErrCorruptRecord)
	}
	rest := raw[len(recordMagic):]
	if len(rest) < 2 {
		return Record{}, fmt.Errorf("%w: short header", ErrCorruptRecord)
	}
	if rest[0] != recordVersion {
		return Record{}, fmt.Errorf("%w: version %d", ErrCorruptRecord, rest[0])
	}

	typeLength := int(rest[1])
	rest = rest[2:]
	if len(rest) < typeLength+2 {
		return Record{}, fmt.Errorf("%w: short cache type", ErrCorruptRecord)
	}
	cacheType := media.CacheType(rest[:typeLength])
	rest = rest[typeLength:]

	mimeLength := int(binary.BigEndian.Uint16(rest[:2]))
	rest = rest[2:]
	if len(rest) < mimeLength {
		return Record{}, fmt.Errorf("%w: short mime type", ErrCorruptRecord)
	}

	return Record{
		CacheType: cacheType,
		MIMEType:  string(rest[:mimeLength]),
		Data:      rest[mimeLength:],
	}, nil
}
