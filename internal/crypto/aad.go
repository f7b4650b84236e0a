package icrypto

import "encoding/binary"

const aadRecord = "RECORD"

// AADRecord binds a sealed record to its storage address so a ciphertext
// cannot be replayed under a different key. Each string is length-prefixed,
// so ("ab","c") and ("a","bc") never collide.
func AADRecord(namespace, recordType, recordID string, ver int) []byte {
	var out []byte
	for _, s := range []string{aadRecord, namespace, recordType, recordID} {
		out = binary.BigEndian.AppendUint32(out, uint32(len(s)))
		out = append(out, s...)
	}
	return binary.BigEndian.AppendUint32(out, uint32(ver))
}
