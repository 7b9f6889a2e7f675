package protocol

import (
	"github.com/cespare/xxhash/v2"
)

// Version is bumped when a payload layout changes without a tag change.
const Version uint16 = 1

// Fingerprint identifies the message table both sides were built with.
// It covers the version and every (tag, name) pair, so two peers agree on
// it only if they agree on the wire format.
func Fingerprint() uint64 {
	d := xxhash.New()
	w := AcquireWriter()
	defer ReleaseWriter(w)

	w.U16(Version)
	for _, t := range KnownTypes() {
		w.U8(uint8(t))
		w.String(t.String())
	}
	_, _ = d.Write(w.Bytes())
	return d.Sum64()
}

// LevelHash is the compact level identity carried by LevelStart and BatchSpawn.
func LevelHash(level string) uint64 {
	return xxhash.Sum64String(level)
}
