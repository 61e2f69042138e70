package cdp

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"

	"lukechampine.com/blake3"
)

const idDomain = "cdp/id/v1"

// GenerateID derives a deterministic identifier from the owner, collateral type
// and creation time. Identical inputs always produce identical IDs; callers
// opening several positions within one millisecond use GenerateIDWithNonce.
func GenerateID(owner, collateralType string, ts Timestamp) ID {
	return GenerateIDWithNonce(owner, collateralType, ts, 0)
}

// GenerateIDWithNonce is GenerateID with a caller supplied disambiguator.
func GenerateIDWithNonce(owner, collateralType string, ts Timestamp, nonce uint64) ID {
	buf := bytes.NewBuffer(nil)
	writeDelimited(buf, []byte(idDomain))
	writeDelimited(buf, []byte(owner))
	writeDelimited(buf, []byte(collateralType))
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], uint64(ts))
	buf.Write(scratch[:])
	binary.BigEndian.PutUint64(scratch[:], nonce)
	buf.Write(scratch[:])
	sum := blake3.Sum256(buf.Bytes())
	return ID(hex.EncodeToString(sum[:]))
}

func writeDelimited(buf *bytes.Buffer, data []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	buf.Write(length[:])
	buf.Write(data)
}
