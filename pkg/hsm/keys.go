package hsm

import "fmt"

// keyLen is the fixed length, in bytes, of every AES-128 key this
// library handles.
const keyLen = 16

// StaticKeys is the long-lived (k_enc, k_mac) credential pair known to
// both host and device. Owned by the caller's authentication
// credential; callers must call Wipe when done with it, and a Channel
// never retains a copy beyond the handshake that consumes it.
type StaticKeys struct {
	enc [keyLen]byte
	mac [keyLen]byte
}

// NewStaticKeys builds a StaticKeys from raw 16-byte key material.
func NewStaticKeys(enc, mac []byte) (*StaticKeys, error) {
	if len(enc) != keyLen || len(mac) != keyLen {
		return nil, fmt.Errorf("hsm: static keys must be %d bytes each, got enc=%d mac=%d", keyLen, len(enc), len(mac))
	}
	k := &StaticKeys{}
	copy(k.enc[:], enc)
	copy(k.mac[:], mac)
	return k, nil
}

// Equal reports whether two StaticKeys hold the same key material, in
// constant time.
func (k *StaticKeys) Equal(other *StaticKeys) bool {
	if k == nil || other == nil {
		return k == other
	}
	return constantTimeEqual(k.enc[:], other.enc[:]) && constantTimeEqual(k.mac[:], other.mac[:])
}

// Wipe overwrites the key material with zeroes. After Wipe, the
// StaticKeys must not be used again. Safe to call multiple times.
func (k *StaticKeys) Wipe() {
	if k == nil {
		return
	}
	zero(k.enc[:])
	zero(k.mac[:])
}

// String never reveals key material; it exists so StaticKeys is safe
// to pass to %v/%s formatting and logging without a leak.
func (k *StaticKeys) String() string {
	return "hsm.StaticKeys{...}"
}

// sessionKeys holds the four per-session keys derived during the SCP03
// handshake: s_enc for command encryption, s_mac for command MAC,
// s_rmac for response MAC, plus the running MAC-chaining value. It
// exists only for the lifetime of a Channel.
type sessionKeys struct {
	enc     [keyLen]byte
	mac     [keyLen]byte
	rmac    [keyLen]byte
	chain   [keyLen]byte // MAC chaining value, full 16 bytes
}

func (k *sessionKeys) wipe() {
	if k == nil {
		return
	}
	zero(k.enc[:])
	zero(k.mac[:])
	zero(k.rmac[:])
	zero(k.chain[:])
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
