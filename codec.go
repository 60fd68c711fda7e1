package assetcache

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// magic is the fixed 4-byte prefix every on-disk record begins with.
// Grounded on this module's earlier framed-blob format (a 4-byte magic
// plus a length-prefixed header), narrowed here to the asset record's own
// fixed field layout instead of a generic JSON header.
const magic uint32 = 0x46414348

// codecVersion is the only version this codec currently writes or reads.
const codecVersion uint32 = 1

// EncodeAsset serializes a into the on-disk layout: magic, version,
// length-prefixed id/name/description, type, flags, length-prefixed data,
// local, temporary, raw uuid bytes. All multi-byte integers are
// little-endian.
func EncodeAsset(a *Asset) []byte {
	buf := &bytes.Buffer{}
	buf.Grow(32 + len(a.ID) + len(a.Name) + len(a.Description) + len(a.Data))

	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], magic)
	buf.Write(hdr[:])
	binary.LittleEndian.PutUint32(hdr[:], codecVersion)
	buf.Write(hdr[:])

	writeString(buf, a.ID)
	writeString(buf, a.Name)
	writeString(buf, a.Description)

	buf.WriteByte(byte(a.Type))

	binary.LittleEndian.PutUint32(hdr[:], a.Flags)
	buf.Write(hdr[:])

	binary.LittleEndian.PutUint32(hdr[:], uint32(len(a.Data)))
	buf.Write(hdr[:])
	buf.Write(a.Data)

	buf.WriteByte(boolByte(a.Local))
	buf.WriteByte(boolByte(a.Temporary))

	uuidBytes := a.UUID
	buf.Write(uuidBytes[:])

	return buf.Bytes()
}

func writeString(buf *bytes.Buffer, s string) {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(s)))
	buf.Write(hdr[:])
	buf.WriteString(s)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// DecodeAsset parses the on-disk layout written by EncodeAsset, enforcing
// every cap in the configuration table. Any violation — bad magic,
// unsupported version, negative/oversized length, truncated stream —
// returns ErrBadFormat; the caller is responsible for best-effort deleting
// the offending file per §4.2.
func DecodeAsset(data []byte, maxStringBytes, maxDataBytes int) (*Asset, error) {
	r := bytes.NewReader(data)

	var gotMagic uint32
	if err := binary.Read(r, binary.LittleEndian, &gotMagic); err != nil {
		return nil, fmt.Errorf("%w: reading magic: %v", ErrBadFormat, err)
	}
	if gotMagic != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrBadFormat)
	}

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: reading version: %v", ErrBadFormat, err)
	}
	if version != codecVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadFormat, version)
	}

	a := &Asset{}

	id, err := readString(r, maxStringBytes)
	if err != nil {
		return nil, err
	}
	a.ID = id

	name, err := readString(r, maxStringBytes)
	if err != nil {
		return nil, err
	}
	a.Name = name

	desc, err := readString(r, maxStringBytes)
	if err != nil {
		return nil, err
	}
	a.Description = desc

	typeByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: reading type: %v", ErrBadFormat, err)
	}
	a.Type = int8(typeByte)

	var flags uint32
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return nil, fmt.Errorf("%w: reading flags: %v", ErrBadFormat, err)
	}
	a.Flags = flags

	var dataLen int32
	if err := binary.Read(r, binary.LittleEndian, &dataLen); err != nil {
		return nil, fmt.Errorf("%w: reading data length: %v", ErrBadFormat, err)
	}
	if dataLen < 0 {
		return nil, fmt.Errorf("%w: negative data length", ErrBadFormat)
	}
	if int(dataLen) > maxDataBytes {
		return nil, fmt.Errorf("%w: data length %d exceeds max %d", ErrBadFormat, dataLen, maxDataBytes)
	}
	payload := make([]byte, dataLen)
	if _, err := readFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: reading data: %v", ErrBadFormat, err)
	}
	a.Data = payload

	localByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: reading local flag: %v", ErrBadFormat, err)
	}
	a.Local = localByte != 0

	tempByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: reading temporary flag: %v", ErrBadFormat, err)
	}
	a.Temporary = tempByte != 0

	var rawUUID [16]byte
	if _, err := readFull(r, rawUUID[:]); err != nil {
		return nil, fmt.Errorf("%w: reading uuid: %v", ErrBadFormat, err)
	}
	a.UUID = rawUUID

	return a, nil
}

func readString(r *bytes.Reader, maxBytes int) (string, error) {
	var length int32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", fmt.Errorf("%w: reading string length: %v", ErrBadFormat, err)
	}
	if length < 0 {
		return "", fmt.Errorf("%w: negative string length", ErrBadFormat)
	}
	if int(length) > maxBytes {
		return "", fmt.Errorf("%w: string length %d exceeds max %d", ErrBadFormat, length, maxBytes)
	}
	buf := make([]byte, length)
	if _, err := readFull(r, buf); err != nil {
		return "", fmt.Errorf("%w: reading string bytes: %v", ErrBadFormat, err)
	}
	return string(buf), nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, fmt.Errorf("unexpected short read")
		}
	}
	return n, nil
}
