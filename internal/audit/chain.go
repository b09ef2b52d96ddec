package audit

import (
	"encoding/binary"
	"encoding/hex"
	"hash"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"
)

// SealFunc computes an entry checksum from the previous checksum in the chain.
type SealFunc func(prev string, e Entry) string

// Seal hashes prev together with every stored field of e using BLAKE2b-256.
// Fields are length prefixed so no two distinct entries share an encoding.
func Seal(prev string, e Entry) string {
	h, _ := blake2b.New256(nil)
	writeField(h, prev)
	writeField(h, strconv.FormatInt(e.ID, 10))
	writeField(h, string(e.ActionType))
	writeField(h, string(e.TargetType))
	writeField(h, e.TargetID)
	writeField(h, strconv.FormatInt(e.PerformedBy, 10))
	writeField(h, e.PerformedAt.UTC().Format(time.RFC3339Nano))
	writeField(h, string(e.OldValue))
	writeField(h, string(e.NewValue))
	writeField(h, e.Reason)
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, v string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(v)))
	_, _ = h.Write(n[:])
	_, _ = h.Write([]byte(v))
}

// VerifyReport summarises a chain walk.
type VerifyReport struct {
	Checked  int    `json:"checked"`
	Valid    bool   `json:"valid"`
	BrokenAt int64  `json:"brokenAt,omitempty"`
	Problem  string `json:"problem,omitempty"`
}

// chainVerifier checks entries fed in ascending id order.
type chainVerifier struct {
	prev   string
	report VerifyReport
}

func newChainVerifier() *chainVerifier {
	return &chainVerifier{report: VerifyReport{Valid: true}}
}

// feed returns false once a broken link has been found.
func (v *chainVerifier) feed(e Entry) bool {
	v.report.Checked++
	switch {
	case e.PrevChecksum != v.prev:
		v.fail(e.ID, "previous checksum does not match the preceding entry")
	case Seal(e.PrevChecksum, e) != e.Checksum:
		v.fail(e.ID, "checksum does not match entry contents")
	default:
		v.prev = e.Checksum
		return true
	}
	return false
}

func (v *chainVerifier) fail(id int64, problem string) {
	v.report.Valid = false
	v.report.BrokenAt = id
	v.report.Problem = problem
}
