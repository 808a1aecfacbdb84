package hsm

import (
	"bytes"
	"testing"
)

func TestDeriveKeyLength(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, keyLen)
	hc := bytes.Repeat([]byte{0x02}, challengeLen)
	cc := bytes.Repeat([]byte{0x03}, challengeLen)

	k, err := deriveKey(key, kdfConstSEnc, keyLen, hc, cc)
	if err != nil {
		t.Fatalf("deriveKey: %v", err)
	}
	if len(k) != keyLen {
		t.Fatalf("deriveKey length = %d, want %d", len(k), keyLen)
	}

	cg, err := deriveKey(key, kdfConstCardCryptogram, cryptogramLen, hc, cc)
	if err != nil {
		t.Fatalf("deriveKey: %v", err)
	}
	if len(cg) != cryptogramLen {
		t.Fatalf("deriveKey cryptogram length = %d, want %d", len(cg), cryptogramLen)
	}
}

func TestDeriveKeyDeterministicAndDistinctPerConstant(t *testing.T) {
	key := bytes.Repeat([]byte{0xAA}, keyLen)
	hc := bytes.Repeat([]byte{0xBB}, challengeLen)
	cc := bytes.Repeat([]byte{0xCC}, challengeLen)

	a, err := deriveKey(key, kdfConstSEnc, keyLen, hc, cc)
	if err != nil {
		t.Fatalf("deriveKey: %v", err)
	}
	b, err := deriveKey(key, kdfConstSEnc, keyLen, hc, cc)
	if err != nil {
		t.Fatalf("deriveKey: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("deriveKey is not deterministic")
	}

	c, err := deriveKey(key, kdfConstSMac, keyLen, hc, cc)
	if err != nil {
		t.Fatalf("deriveKey: %v", err)
	}
	if bytes.Equal(a, c) {
		t.Fatalf("s_enc and s_mac derivation constants produced identical keys")
	}
}

func TestBeginRejectsWrongPhase(t *testing.T) {
	c := NewChannel()
	c.phase = PhaseAuthenticated
	if _, _, err := c.Begin(DefaultAuthKeyID); err == nil {
		t.Fatalf("expected error calling Begin on a non-NotReady channel")
	}
}

func TestContinueCryptogramMismatchCloses(t *testing.T) {
	keys, err := NewStaticKeys(bytes.Repeat([]byte{1}, keyLen), bytes.Repeat([]byte{2}, keyLen))
	if err != nil {
		t.Fatalf("NewStaticKeys: %v", err)
	}
	c := NewChannel()
	if _, _, err := c.Begin(DefaultAuthKeyID); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	reply := &CreateSessionReply{SessionID: 1}
	body := make([]byte, 0, 1+challengeLen+cryptogramLen)
	body = putU8(body, reply.SessionID)
	body = append(body, bytes.Repeat([]byte{0x42}, challengeLen)...)
	body = append(body, bytes.Repeat([]byte{0xff}, cryptogramLen)...) // wrong cryptogram

	_, err = c.Continue(keys, body)
	if !IsCryptoErrorKind(err, CryptoErrCryptogramMismatch) {
		t.Fatalf("Continue error = %v, want CryptogramMismatch", err)
	}
	if c.Phase() != PhaseClosed {
		t.Fatalf("channel phase = %s, want Closed", c.Phase())
	}
}

func TestWrapRejectsUnauthenticatedChannel(t *testing.T) {
	c := NewChannel()
	if _, err := c.Wrap([]byte("hello")); err != ErrChannelClosed {
		t.Fatalf("Wrap on NotReady channel error = %v, want ErrChannelClosed", err)
	}
}

func TestWrapRejectsOverLongInnerFrame(t *testing.T) {
	c := NewChannel()
	c.phase = PhaseAuthenticated
	c.counter = 1
	big := make([]byte, MaxFrameBody+1)
	if _, err := c.Wrap(big); err == nil {
		t.Fatalf("expected UsageError for over-long inner frame")
	}
}

func TestWrapRejectsCounterAtMax(t *testing.T) {
	c := NewChannel()
	c.phase = PhaseAuthenticated
	c.counter = 0xffffffff
	_, err := c.Wrap([]byte("x"))
	if !IsCryptoErrorKind(err, CryptoErrCounterOverflow) {
		t.Fatalf("Wrap at max counter error = %v, want CounterOverflow", err)
	}
	if c.Phase() != PhaseClosed {
		t.Fatalf("channel phase = %s, want Closed", c.Phase())
	}
}

// buildDeviceResponse plays the device side of one SessionMessage
// exchange: it encrypts innerFrame under the same counter IV the host
// used for the matching request and computes a genuine RMAC, so tests
// can check both the accept and tamper-reject paths against a frame
// that would otherwise verify correctly.
func buildDeviceResponse(t *testing.T, c *Channel, innerFrame []byte) []byte {
	t.Helper()
	iv, err := c.counterIV()
	if err != nil {
		t.Fatalf("counterIV: %v", err)
	}
	ciphertext, err := aesCBCEncryptNoPad(c.keys.enc[:], iv, padMethod2(innerFrame))
	if err != nil {
		t.Fatalf("encrypt response: %v", err)
	}

	respCode := byte(CmdSessionMessage | responseBit)
	body := make([]byte, 0, 1+len(ciphertext)+macLength)
	body = putU8(body, c.sessionID)
	body = append(body, ciphertext...)

	header := make([]byte, 0, headerLength)
	header = putU8(header, respCode)
	header = putU16(header, uint16(len(body)+macLength))

	macInput := make([]byte, 0, keyLen+headerLength+len(body))
	macInput = append(macInput, c.pendingChain...)
	macInput = append(macInput, header...)
	macInput = append(macInput, body...)
	tag, err := aesCMAC(c.keys.rmac[:], macInput)
	if err != nil {
		t.Fatalf("response CMAC: %v", err)
	}

	return append(body, tag[:macLength]...)
}

func TestUnwrapAcceptsGenuineResponse(t *testing.T) {
	c := NewChannel()
	c.phase = PhaseAuthenticated
	c.counter = 1
	copy(c.keys.enc[:], bytes.Repeat([]byte{1}, keyLen))
	copy(c.keys.mac[:], bytes.Repeat([]byte{2}, keyLen))
	copy(c.keys.rmac[:], bytes.Repeat([]byte{3}, keyLen))
	c.sessionID = 7

	if _, err := c.Wrap([]byte{0x01, 0x00, 0x00}); err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	respBody := buildDeviceResponse(t, c, []byte("hello"))

	counterBefore := c.counter
	inner, err := c.Unwrap(byte(CmdSessionMessage|responseBit), respBody)
	if err != nil {
		t.Fatalf("Unwrap of genuine response: %v", err)
	}
	if string(inner) != "hello" {
		t.Fatalf("Unwrap inner = %q, want %q", inner, "hello")
	}
	if c.counter != counterBefore+1 {
		t.Fatalf("counter after = %d, want %d", c.counter, counterBefore+1)
	}
}

func TestUnwrapTamperedTagFailsAndCloses(t *testing.T) {
	c := NewChannel()
	c.phase = PhaseAuthenticated
	c.counter = 1
	copy(c.keys.enc[:], bytes.Repeat([]byte{1}, keyLen))
	copy(c.keys.mac[:], bytes.Repeat([]byte{2}, keyLen))
	copy(c.keys.rmac[:], bytes.Repeat([]byte{3}, keyLen))
	c.sessionID = 7

	if _, err := c.Wrap([]byte{0x01, 0x00, 0x00}); err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	respBody := buildDeviceResponse(t, c, []byte("hello"))
	respBody[len(respBody)-1] ^= 0xff // flip every bit of the MAC tag's last byte

	_, err := c.Unwrap(byte(CmdSessionMessage|responseBit), respBody)
	if !IsCryptoErrorKind(err, CryptoErrMacVerification) {
		t.Fatalf("Unwrap of tampered frame error = %v, want MacVerification", err)
	}
	if c.Phase() != PhaseClosed {
		t.Fatalf("channel phase = %s, want Closed", c.Phase())
	}
}

func TestClosedChannelRejectsFurtherCommandsWithoutIO(t *testing.T) {
	c := NewChannel()
	c.close()
	if _, err := c.Wrap([]byte("x")); err != ErrChannelClosed {
		t.Fatalf("Wrap on Closed channel error = %v, want ErrChannelClosed", err)
	}
	if _, err := c.Unwrap(byte(CmdSessionMessage|responseBit), []byte("x")); err != ErrChannelClosed {
		t.Fatalf("Unwrap on Closed channel error = %v, want ErrChannelClosed", err)
	}
}
