// Package mockhsm is an in-process implementation of the device side
// of the secure channel handshake and framing, plus a representative
// slice of the command catalog backed by an in-memory object store.
// It exists for tests: its cryptography is the real thing (the same
// AES-CBC/CMAC primitives the client uses), not a stub, so a test
// against a Peer exercises the whole handshake and every byte of
// framing rather than bypassing it.
package mockhsm

import (
	"context"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/vault-edge/go-hsm/pkg/hsm"
)

type objectKey struct {
	id  hsm.ObjectID
	typ hsm.ObjectType
}

// storedObject is one entry in the object store: the descriptor fields
// GetObjectInfo reports, plus the raw key/opaque material the matching
// command handlers read.
type storedObject struct {
	label        hsm.Label
	domains      hsm.Domains
	capabilities hsm.Capabilities
	algorithm    hsm.Algorithm
	origin       byte
	material     []byte
}

// authCredential is one entry in the auth key table: the static keys a
// CreateSession for this ID derives session keys from, and the
// capabilities a session opened under it may exercise.
type authCredential struct {
	keys                  *hsm.StaticKeys
	capabilities          hsm.Capabilities
	delegatedCapabilities hsm.DelegatedCapabilities
}

// deviceSession is the mock's view of the single handshake/session it
// allows open at a time, mirroring the device's single-session-per-
// physical-channel behavior.
type deviceSession struct {
	sessionID             byte
	authKeyID             hsm.AuthKeyID
	capabilities          hsm.Capabilities
	delegatedCapabilities hsm.DelegatedCapabilities
	hostChallenge         []byte
	cardChallenge         []byte
	enc, mac, rmac, chain []byte
	counter               uint32
	authenticated         bool
}

// Peer is an hsm.Transport backed entirely by in-process state: no
// sockets, no USB, no goroutines. A Session can be opened directly
// against it by having its Opener return the Peer itself.
//
// Peer implements the command set exercised by this repository's
// tests and CLI, not the device's full catalog — RSA, elliptic-curve,
// and wrap-key operations are out of scope for the mock.
type Peer struct {
	mu       sync.Mutex
	authKeys map[hsm.AuthKeyID]*authCredential
	objects  map[objectKey]*storedObject
	nextID   hsm.ObjectID
	serial   uint32
	log      *slog.Logger
	session  *deviceSession
}

// Option configures a new Peer.
type Option func(*Peer)

// WithLogger directs the Peer's diagnostic logging.
func WithLogger(log *slog.Logger) Option {
	return func(p *Peer) { p.log = log }
}

// WithSerial overrides the serial number DeviceInfo reports.
func WithSerial(serial uint32) Option {
	return func(p *Peer) { p.serial = serial }
}

// New builds a Peer with a single auth credential registered at
// hsm.DefaultAuthKeyID, holding every capability — the way a
// factory-reset device ships with its default admin key.
func New(defaultKeys *hsm.StaticKeys, opts ...Option) *Peer {
	full := hsm.Capabilities(^uint64(0))
	p := &Peer{
		authKeys: map[hsm.AuthKeyID]*authCredential{
			hsm.DefaultAuthKeyID: {
				keys:                  defaultKeys,
				capabilities:          full,
				delegatedCapabilities: hsm.DelegatedCapabilities(full),
			},
		},
		objects: make(map[objectKey]*storedObject),
		nextID:  1,
		serial:  1,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RegisterAuthKey adds an additional auth credential a CreateSession
// may authenticate against, as if PutAuthKey had been issued out of
// band before the test started.
func (p *Peer) RegisterAuthKey(id hsm.AuthKeyID, keys *hsm.StaticKeys, caps hsm.Capabilities, delegated hsm.DelegatedCapabilities) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authKeys[id] = &authCredential{keys: keys, capabilities: caps, delegatedCapabilities: delegated}
}

// Status reports the mock as always connected, with the configured
// serial number and no USB identity (there is no USB link to report).
func (p *Peer) Status(_ context.Context) (hsm.TransportStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return hsm.TransportStatus{
		Connected:       true,
		SerialNumber:    fmt.Sprintf("%d", p.serial),
		FirmwareVersion: "mockhsm",
	}, nil
}

// Close discards any in-flight session. Safe to call more than once.
func (p *Peer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = nil
	return nil
}

// SendFrame decodes one outer wire frame and returns the device's
// reply frame, exactly as a real transport round-trip would.
func (p *Peer) SendFrame(_ context.Context, frame []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	code, payload, err := hsm.DecodeFrame(frame)
	if err != nil {
		return nil, err
	}

	switch hsm.CommandCode(code) {
	case hsm.CmdCreateSession:
		return p.handleCreateSession(payload)
	case hsm.CmdAuthenticateSession:
		return p.handleAuthenticateSession(payload)
	case hsm.CmdSessionMessage:
		return p.handleSessionMessage(payload)
	default:
		p.log.Debug("mockhsm: unrecognized top-level command", "code", code)
		return errorFrame(hsm.DeviceErrInvalidCommand)
	}
}

func errorFrame(kind hsm.DeviceErrorKind) ([]byte, error) {
	return hsm.EncodeFrame(byte(hsm.ErrorFrameCode), []byte{byte(kind)})
}

// handleCreateSession draws a card challenge, derives session keys
// against the credential named by the request, and returns the
// CreateSession reply: session id, card challenge, and card
// cryptogram. An unknown auth key id is reported as a device error
// rather than crashing the exchange.
func (p *Peer) handleCreateSession(payload []byte) ([]byte, error) {
	if len(payload) != 2+hsm.ChallengeLen {
		return errorFrame(hsm.DeviceErrWrongLength)
	}
	authKeyID := hsm.AuthKeyID(binary.BigEndian.Uint16(payload[:2]))
	hostChallenge := append([]byte(nil), payload[2:2+hsm.ChallengeLen]...)

	cred, ok := p.authKeys[authKeyID]
	if !ok {
		return errorFrame(hsm.DeviceErrInvalidID)
	}

	cardChallenge, err := hsm.RandomBytes(hsm.ChallengeLen)
	if err != nil {
		return nil, err
	}

	encKey, macKey := hsm.StaticKeyMaterial(cred.keys)
	sEnc, err := hsm.DeriveKey(encKey, hsm.KDFConstSEnc, hsm.KeyLen, hostChallenge, cardChallenge)
	if err != nil {
		return nil, err
	}
	sMac, err := hsm.DeriveKey(macKey, hsm.KDFConstSMac, hsm.KeyLen, hostChallenge, cardChallenge)
	if err != nil {
		return nil, err
	}
	sRmac, err := hsm.DeriveKey(macKey, hsm.KDFConstSRmac, hsm.KeyLen, hostChallenge, cardChallenge)
	if err != nil {
		return nil, err
	}
	cardCryptogram, err := hsm.DeriveKey(sMac, hsm.KDFConstCardCryptogram, hsm.CryptogramLen, hostChallenge, cardChallenge)
	if err != nil {
		return nil, err
	}

	p.session = &deviceSession{
		sessionID:             1,
		authKeyID:             authKeyID,
		capabilities:          cred.capabilities,
		delegatedCapabilities: cred.delegatedCapabilities,
		hostChallenge:         hostChallenge,
		cardChallenge:         cardChallenge,
		enc:                   sEnc,
		mac:                   sMac,
		rmac:                  sRmac,
		chain:                 make([]byte, hsm.KeyLen),
	}

	body := make([]byte, 0, 1+hsm.ChallengeLen+hsm.CryptogramLen)
	body = append(body, p.session.sessionID)
	body = append(body, cardChallenge...)
	body = append(body, cardCryptogram...)
	return hsm.EncodeFrame(byte(hsm.CmdCreateSession|hsm.ResponseBit), body)
}

// handleAuthenticateSession verifies the host's cryptogram and MAC
// tag against the session key derived during CreateSession, and
// marks the session authenticated on success.
func (p *Peer) handleAuthenticateSession(payload []byte) ([]byte, error) {
	s := p.session
	if s == nil {
		return errorFrame(hsm.DeviceErrInvalidSession)
	}
	if len(payload) != 1+hsm.CryptogramLen+8 {
		p.session = nil
		return errorFrame(hsm.DeviceErrWrongLength)
	}
	sid := payload[0]
	hostCryptogram := payload[1 : 1+hsm.CryptogramLen]
	recvTag := payload[1+hsm.CryptogramLen:]
	if sid != s.sessionID {
		p.session = nil
		return errorFrame(hsm.DeviceErrInvalidSession)
	}

	expectedCryptogram, err := hsm.DeriveKey(s.mac, hsm.KDFConstHostCryptogram, hsm.CryptogramLen, s.hostChallenge, s.cardChallenge)
	if err != nil {
		return nil, err
	}

	header := make([]byte, 0, hsm.HeaderLength)
	header = append(header, byte(hsm.CmdAuthenticateSession))
	header = binary.BigEndian.AppendUint16(header, uint16(len(payload)))

	macInput := make([]byte, 0, hsm.KeyLen+len(header)+1+hsm.CryptogramLen)
	macInput = append(macInput, s.chain...) // all-zero initial chain
	macInput = append(macInput, header...)
	macInput = append(macInput, sid)
	macInput = append(macInput, hostCryptogram...)
	tagFull, err := hsm.CMAC(s.mac, macInput)
	if err != nil {
		return nil, err
	}

	if !hsm.ConstantTimeEqual(expectedCryptogram, hostCryptogram) || !hsm.ConstantTimeEqual(tagFull[:8], recvTag) {
		p.session = nil
		return errorFrame(hsm.DeviceErrAuthFail)
	}

	s.chain = tagFull
	s.counter = 1
	s.authenticated = true
	return hsm.EncodeFrame(byte(hsm.CmdAuthenticateSession|hsm.ResponseBit), nil)
}

// handleSessionMessage verifies and decrypts one wrapped command,
// dispatches it to the matching handler, and encrypts/MACs the reply
// under the same counter-derived IV the request used.
func (p *Peer) handleSessionMessage(payload []byte) ([]byte, error) {
	s := p.session
	if s == nil || !s.authenticated {
		return errorFrame(hsm.DeviceErrInvalidSession)
	}
	if len(payload) < 1+8 {
		return errorFrame(hsm.DeviceErrWrongLength)
	}
	sid := payload[0]
	ciphertext := payload[1 : len(payload)-8]
	recvTag := payload[len(payload)-8:]
	if sid != s.sessionID || len(ciphertext)%16 != 0 {
		return errorFrame(hsm.DeviceErrInvalidSession)
	}

	header := make([]byte, 0, hsm.HeaderLength)
	header = append(header, byte(hsm.CmdSessionMessage))
	header = binary.BigEndian.AppendUint16(header, uint16(len(payload)))

	macInput := make([]byte, 0, hsm.KeyLen+len(header)+1+len(ciphertext))
	macInput = append(macInput, s.chain...)
	macInput = append(macInput, header...)
	macInput = append(macInput, sid)
	macInput = append(macInput, ciphertext...)
	tagFull, err := hsm.CMAC(s.mac, macInput)
	if err != nil {
		return nil, err
	}
	if !hsm.ConstantTimeEqual(tagFull[:8], recvTag) {
		return errorFrame(hsm.DeviceErrAuthFail)
	}

	var block [16]byte
	binary.BigEndian.PutUint32(block[12:], s.counter)
	iv, err := hsm.ECBEncryptBlock(s.enc, block[:])
	if err != nil {
		return nil, err
	}
	plaintext, err := hsm.CBCDecryptNoPad(s.enc, iv, ciphertext)
	if err != nil {
		return nil, err
	}
	inner, err := hsm.UnpadMethod2(plaintext)
	if err != nil {
		return nil, err
	}
	innerCode, innerBody, err := hsm.DecodeFrame(inner)
	if err != nil {
		return nil, err
	}

	respCode, respBody := p.dispatch(s, hsm.CommandCode(innerCode), innerBody)
	innerResp, err := hsm.EncodeFrame(respCode, respBody)
	if err != nil {
		return nil, err
	}
	respCiphertext, err := hsm.CBCEncryptNoPad(s.enc, iv, hsm.PadMethod2(innerResp))
	if err != nil {
		return nil, err
	}

	outBody := make([]byte, 0, 1+len(respCiphertext)+8)
	outBody = append(outBody, sid)
	outBody = append(outBody, respCiphertext...)

	outHeader := make([]byte, 0, hsm.HeaderLength)
	outHeader = append(outHeader, byte(hsm.CmdSessionMessage|hsm.ResponseBit))
	outHeader = binary.BigEndian.AppendUint16(outHeader, uint16(len(outBody)+8))

	rmacInput := make([]byte, 0, hsm.KeyLen+len(outHeader)+len(outBody))
	rmacInput = append(rmacInput, tagFull...)
	rmacInput = append(rmacInput, outHeader...)
	rmacInput = append(rmacInput, outBody...)
	respTag, err := hsm.CMAC(s.rmac, rmacInput)
	if err != nil {
		return nil, err
	}
	outBody = append(outBody, respTag[:8]...)

	s.chain = tagFull
	s.counter++
	if hsm.CommandCode(innerCode) == hsm.CmdCloseSession {
		p.session = nil
	}
	return hsm.EncodeFrame(byte(hsm.CmdSessionMessage|hsm.ResponseBit), outBody)
}

// dispatch runs one decrypted inner command against the object store
// and returns the inner response code (either the matching response
// bit or hsm.ErrorFrameCode) and body.
func (p *Peer) dispatch(s *deviceSession, code hsm.CommandCode, body []byte) (byte, []byte) {
	h, ok := handlers[code]
	if !ok {
		p.log.Debug("mockhsm: unsupported inner command", "code", code)
		return byte(hsm.ErrorFrameCode), []byte{byte(hsm.DeviceErrInvalidCommand)}
	}
	resp, kind := h(p, s, body)
	if kind != 0 {
		return byte(hsm.ErrorFrameCode), []byte{byte(kind)}
	}
	return byte(code | hsm.ResponseBit), resp
}

// handlerFunc implements one inner command against the store. A
// non-zero DeviceErrorKind return short-circuits to an error response.
type handlerFunc func(p *Peer, s *deviceSession, body []byte) ([]byte, hsm.DeviceErrorKind)

var handlers = map[hsm.CommandCode]handlerFunc{
	hsm.CmdEcho:                  handleEcho,
	hsm.CmdGetPseudoRandom:       handleGetPseudoRandom,
	hsm.CmdGenerateAsymmetricKey: handleGenerateAsymmetricKey,
	hsm.CmdGetPublicKey:          handleGetPublicKey,
	hsm.CmdSignDataEddsa:         handleSignDataEddsa,
	hsm.CmdPutAuthKey:            handlePutAuthKey,
	hsm.CmdPutHmacKey:            handlePutHmacKey,
	hsm.CmdSignHmac:              handleSignHmac,
	hsm.CmdVerifyHmac:            handleVerifyHmac,
	hsm.CmdPutOpaqueObject:       handlePutOpaqueObject,
	hsm.CmdGetOpaqueObject:       handleGetOpaqueObject,
	hsm.CmdGetObjectInfo:         handleGetObjectInfo,
	hsm.CmdListObjects:           handleListObjects,
	hsm.CmdDeleteObject:          handleDeleteObject,
	hsm.CmdDeviceInfo:            handleDeviceInfo,
	hsm.CmdStorageStatus:         handleStorageStatus,
	hsm.CmdBlink:                 handleBlink,
	hsm.CmdCloseSession:          handleCloseSession,
}

func requireCap(caps hsm.Capabilities, want hsm.Capability) hsm.DeviceErrorKind {
	if !caps.Has(want) {
		return hsm.DeviceErrInsufficientPerms
	}
	return 0
}

func handleEcho(_ *Peer, _ *deviceSession, body []byte) ([]byte, hsm.DeviceErrorKind) {
	return append([]byte(nil), body...), 0
}

func handleGetPseudoRandom(p *Peer, s *deviceSession, body []byte) ([]byte, hsm.DeviceErrorKind) {
	if len(body) != 1 {
		return nil, hsm.DeviceErrWrongLength
	}
	if k := requireCap(s.capabilities, hsm.CapGetPseudoRandom); k != 0 {
		return nil, k
	}
	out, err := hsm.RandomBytes(int(body[0]))
	if err != nil {
		return nil, hsm.DeviceErrStorageFailed
	}
	return out, 0
}

const (
	objHeaderLen = 2 + 40 + 2 + 8 // id, label, domains, capabilities
)

func handleGenerateAsymmetricKey(p *Peer, s *deviceSession, body []byte) ([]byte, hsm.DeviceErrorKind) {
	if len(body) != objHeaderLen+1 {
		return nil, hsm.DeviceErrWrongLength
	}
	if k := requireCap(s.capabilities, hsm.CapGenerateAsymKey); k != 0 {
		return nil, k
	}
	id := hsm.ObjectID(binary.BigEndian.Uint16(body[:2]))
	var label hsm.Label
	copy(label[:], body[2:42])
	domains := hsm.Domains(binary.BigEndian.Uint16(body[42:44]))
	caps := hsm.Capabilities(binary.BigEndian.Uint64(body[44:52]))
	algorithm := hsm.Algorithm(body[52])

	if algorithm != hsm.AlgEd25519 {
		return nil, hsm.DeviceErrInvalidData
	}
	if uint64(caps)&^uint64(s.delegatedCapabilities) != 0 {
		return nil, hsm.DeviceErrInsufficientPerms
	}
	seed, err := hsm.RandomBytes(ed25519.SeedSize)
	if err != nil {
		return nil, hsm.DeviceErrStorageFailed
	}
	priv := ed25519.NewKeyFromSeed(seed)

	id = p.assignID(id)
	p.objects[objectKey{id: id, typ: hsm.TypeAsymmetricKey}] = &storedObject{
		label: label, domains: domains, capabilities: caps, algorithm: algorithm,
		origin: 1, material: priv,
	}

	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, uint16(id))
	return out, 0
}

func handleGetPublicKey(p *Peer, s *deviceSession, body []byte) ([]byte, hsm.DeviceErrorKind) {
	if len(body) != 2 {
		return nil, hsm.DeviceErrWrongLength
	}
	if k := requireCap(s.capabilities, hsm.CapGetPublicKey); k != 0 {
		return nil, k
	}
	id := hsm.ObjectID(binary.BigEndian.Uint16(body))
	obj, ok := p.objects[objectKey{id: id, typ: hsm.TypeAsymmetricKey}]
	if !ok {
		return nil, hsm.DeviceErrObjectNotFound
	}
	priv := ed25519.PrivateKey(obj.material)
	pub := priv.Public().(ed25519.PublicKey)
	out := make([]byte, 0, 1+len(pub))
	out = append(out, byte(obj.algorithm))
	out = append(out, pub...)
	return out, 0
}

func handleSignDataEddsa(p *Peer, s *deviceSession, body []byte) ([]byte, hsm.DeviceErrorKind) {
	if len(body) < 2 {
		return nil, hsm.DeviceErrWrongLength
	}
	if k := requireCap(s.capabilities, hsm.CapSignEddsa); k != 0 {
		return nil, k
	}
	id := hsm.ObjectID(binary.BigEndian.Uint16(body[:2]))
	data := body[2:]
	obj, ok := p.objects[objectKey{id: id, typ: hsm.TypeAsymmetricKey}]
	if !ok {
		return nil, hsm.DeviceErrObjectNotFound
	}
	if k := requireCap(obj.capabilities, hsm.CapSignEddsa); k != 0 {
		return nil, k
	}
	priv := ed25519.PrivateKey(obj.material)
	return ed25519.Sign(priv, data), 0
}

func handlePutAuthKey(p *Peer, s *deviceSession, body []byte) ([]byte, hsm.DeviceErrorKind) {
	const fixed = 2 + 40 + 2 + 8 + 8 + 1
	if len(body) != fixed+2*hsm.KeyLen {
		return nil, hsm.DeviceErrWrongLength
	}
	if k := requireCap(s.capabilities, hsm.CapPutAuthKey); k != 0 {
		return nil, k
	}
	id := hsm.ObjectID(binary.BigEndian.Uint16(body[:2]))
	var label hsm.Label
	copy(label[:], body[2:42])
	domains := hsm.Domains(binary.BigEndian.Uint16(body[42:44]))
	caps := hsm.Capabilities(binary.BigEndian.Uint64(body[44:52]))
	delegated := hsm.DelegatedCapabilities(binary.BigEndian.Uint64(body[52:60]))
	algorithm := hsm.Algorithm(body[60])
	encKey := body[61 : 61+hsm.KeyLen]
	macKey := body[61+hsm.KeyLen:]

	if uint64(caps)&^uint64(s.delegatedCapabilities) != 0 || uint64(delegated)&^uint64(s.delegatedCapabilities) != 0 {
		return nil, hsm.DeviceErrInsufficientPerms
	}
	keys, err := hsm.NewStaticKeys(encKey, macKey)
	if err != nil {
		return nil, hsm.DeviceErrInvalidData
	}

	id = p.assignID(id)
	p.authKeys[hsm.AuthKeyID(id)] = &authCredential{keys: keys, capabilities: caps, delegatedCapabilities: delegated}
	p.objects[objectKey{id: id, typ: hsm.TypeAuthKey}] = &storedObject{
		label: label, domains: domains, capabilities: caps, algorithm: algorithm, origin: 1,
	}

	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, uint16(id))
	return out, 0
}

func handlePutHmacKey(p *Peer, s *deviceSession, body []byte) ([]byte, hsm.DeviceErrorKind) {
	if len(body) < objHeaderLen+1 {
		return nil, hsm.DeviceErrWrongLength
	}
	if k := requireCap(s.capabilities, hsm.CapPutHmacKey); k != 0 {
		return nil, k
	}
	id := hsm.ObjectID(binary.BigEndian.Uint16(body[:2]))
	var label hsm.Label
	copy(label[:], body[2:42])
	domains := hsm.Domains(binary.BigEndian.Uint16(body[42:44]))
	caps := hsm.Capabilities(binary.BigEndian.Uint64(body[44:52]))
	algorithm := hsm.Algorithm(body[52])
	key := append([]byte(nil), body[53:]...)

	switch algorithm {
	case hsm.AlgHmacSha1, hsm.AlgHmacSha256, hsm.AlgHmacSha384, hsm.AlgHmacSha512:
	default:
		return nil, hsm.DeviceErrInvalidData
	}
	if uint64(caps)&^uint64(s.delegatedCapabilities) != 0 {
		return nil, hsm.DeviceErrInsufficientPerms
	}

	id = p.assignID(id)
	p.objects[objectKey{id: id, typ: hsm.TypeHmacKey}] = &storedObject{
		label: label, domains: domains, capabilities: caps, algorithm: algorithm, origin: 1, material: key,
	}
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, uint16(id))
	return out, 0
}

// handleSignHmac (like handleVerifyHmac) uses SHA-256 regardless of the
// object's declared algorithm tag — the mock does not model every HMAC
// width.
func handleSignHmac(p *Peer, s *deviceSession, body []byte) ([]byte, hsm.DeviceErrorKind) {
	if len(body) < 2 {
		return nil, hsm.DeviceErrWrongLength
	}
	if k := requireCap(s.capabilities, hsm.CapSignHmac); k != 0 {
		return nil, k
	}
	id := hsm.ObjectID(binary.BigEndian.Uint16(body[:2]))
	obj, ok := p.objects[objectKey{id: id, typ: hsm.TypeHmacKey}]
	if !ok {
		return nil, hsm.DeviceErrObjectNotFound
	}
	if k := requireCap(obj.capabilities, hsm.CapSignHmac); k != 0 {
		return nil, k
	}
	mac := hmac.New(sha256.New, obj.material)
	mac.Write(body[2:])
	return mac.Sum(nil), 0
}

func handleVerifyHmac(p *Peer, s *deviceSession, body []byte) ([]byte, hsm.DeviceErrorKind) {
	if len(body) < 3 {
		return nil, hsm.DeviceErrWrongLength
	}
	if k := requireCap(s.capabilities, hsm.CapVerifyHmac); k != 0 {
		return nil, k
	}
	id := hsm.ObjectID(binary.BigEndian.Uint16(body[:2]))
	macLen := int(body[2])
	if len(body) < 3+macLen {
		return nil, hsm.DeviceErrWrongLength
	}
	recvMac := body[3 : 3+macLen]
	data := body[3+macLen:]
	obj, ok := p.objects[objectKey{id: id, typ: hsm.TypeHmacKey}]
	if !ok {
		return nil, hsm.DeviceErrObjectNotFound
	}
	if k := requireCap(obj.capabilities, hsm.CapVerifyHmac); k != 0 {
		return nil, k
	}
	mac := hmac.New(sha256.New, obj.material)
	mac.Write(data)
	verified := hsm.ConstantTimeEqual(mac.Sum(nil), recvMac)
	if verified {
		return []byte{1}, 0
	}
	return []byte{0}, 0
}

func handlePutOpaqueObject(p *Peer, s *deviceSession, body []byte) ([]byte, hsm.DeviceErrorKind) {
	if len(body) < objHeaderLen+1 {
		return nil, hsm.DeviceErrWrongLength
	}
	if k := requireCap(s.capabilities, hsm.CapPutOpaque); k != 0 {
		return nil, k
	}
	id := hsm.ObjectID(binary.BigEndian.Uint16(body[:2]))
	var label hsm.Label
	copy(label[:], body[2:42])
	domains := hsm.Domains(binary.BigEndian.Uint16(body[42:44]))
	caps := hsm.Capabilities(binary.BigEndian.Uint64(body[44:52]))
	algorithm := hsm.Algorithm(body[52])
	data := append([]byte(nil), body[53:]...)

	id = p.assignID(id)
	p.objects[objectKey{id: id, typ: hsm.TypeOpaque}] = &storedObject{
		label: label, domains: domains, capabilities: caps, algorithm: algorithm, origin: 1, material: data,
	}
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, uint16(id))
	return out, 0
}

func handleGetOpaqueObject(p *Peer, s *deviceSession, body []byte) ([]byte, hsm.DeviceErrorKind) {
	if len(body) != 2 {
		return nil, hsm.DeviceErrWrongLength
	}
	if k := requireCap(s.capabilities, hsm.CapGetOpaque); k != 0 {
		return nil, k
	}
	id := hsm.ObjectID(binary.BigEndian.Uint16(body))
	obj, ok := p.objects[objectKey{id: id, typ: hsm.TypeOpaque}]
	if !ok {
		return nil, hsm.DeviceErrObjectNotFound
	}
	return append([]byte(nil), obj.material...), 0
}

func handleGetObjectInfo(p *Peer, s *deviceSession, body []byte) ([]byte, hsm.DeviceErrorKind) {
	if len(body) != 3 {
		return nil, hsm.DeviceErrWrongLength
	}
	if k := requireCap(s.capabilities, hsm.CapGetObjectInfo); k != 0 {
		return nil, k
	}
	id := hsm.ObjectID(binary.BigEndian.Uint16(body[:2]))
	typ := hsm.ObjectType(body[2])
	obj, ok := p.objects[objectKey{id: id, typ: typ}]
	if !ok {
		return nil, hsm.DeviceErrObjectNotFound
	}

	out := make([]byte, 0, 8+2+2+2+1+1+1+1+40+8)
	out = binary.BigEndian.AppendUint64(out, uint64(obj.capabilities))
	out = binary.BigEndian.AppendUint16(out, uint16(id))
	out = binary.BigEndian.AppendUint16(out, uint16(len(obj.material)))
	out = binary.BigEndian.AppendUint16(out, uint16(obj.domains))
	out = append(out, byte(typ))
	out = append(out, byte(obj.algorithm))
	out = append(out, 0) // sequence
	out = append(out, obj.origin)
	out = append(out, obj.label[:]...)
	out = binary.BigEndian.AppendUint64(out, 0) // delegated capabilities, objects don't carry any
	return out, 0
}

func handleListObjects(p *Peer, s *deviceSession, body []byte) ([]byte, hsm.DeviceErrorKind) {
	if k := requireCap(s.capabilities, hsm.CapListObjects); k != 0 {
		return nil, k
	}
	filter, ok := parseListFilters(body)
	if !ok {
		return nil, hsm.DeviceErrInvalidData
	}

	var out []byte
	for key, obj := range p.objects {
		if !filter.matches(key, obj) {
			continue
		}
		out = binary.BigEndian.AppendUint16(out, uint16(key.id))
		out = append(out, byte(key.typ), 0)
	}
	return out, 0
}

func handleDeleteObject(p *Peer, s *deviceSession, body []byte) ([]byte, hsm.DeviceErrorKind) {
	if len(body) != 3 {
		return nil, hsm.DeviceErrWrongLength
	}
	id := hsm.ObjectID(binary.BigEndian.Uint16(body[:2]))
	typ := hsm.ObjectType(body[2])
	want, ok := deleteCapFor(typ)
	if !ok {
		return nil, hsm.DeviceErrInvalidData
	}
	if k := requireCap(s.capabilities, want); k != 0 {
		return nil, k
	}
	key := objectKey{id: id, typ: typ}
	if _, ok := p.objects[key]; !ok {
		return nil, hsm.DeviceErrObjectNotFound
	}
	delete(p.objects, key)
	if typ == hsm.TypeAuthKey {
		delete(p.authKeys, hsm.AuthKeyID(id))
	}
	return nil, 0
}

func deleteCapFor(typ hsm.ObjectType) (hsm.Capability, bool) {
	switch typ {
	case hsm.TypeAsymmetricKey:
		return hsm.CapDeleteAsymKey, true
	case hsm.TypeAuthKey:
		return hsm.CapDeleteAuthKey, true
	case hsm.TypeHmacKey:
		return hsm.CapDeleteHmacKey, true
	case hsm.TypeWrapKey:
		return hsm.CapDeleteWrapKey, true
	case hsm.TypeOpaque:
		return hsm.CapDeleteOpaque, true
	default:
		return 0, false
	}
}

func handleDeviceInfo(p *Peer, _ *deviceSession, body []byte) ([]byte, hsm.DeviceErrorKind) {
	if len(body) != 0 {
		return nil, hsm.DeviceErrWrongLength
	}
	out := []byte{1, 0, 0}
	out = binary.BigEndian.AppendUint32(out, p.serial)
	out = binary.BigEndian.AppendUint16(out, 256)
	out = binary.BigEndian.AppendUint16(out, uint16(len(p.objects)))
	out = append(out, byte(hsm.AlgEd25519), byte(hsm.AlgHmacSha256), byte(hsm.AlgOpaqueData))
	return out, 0
}

func handleStorageStatus(p *Peer, _ *deviceSession, body []byte) ([]byte, hsm.DeviceErrorKind) {
	if len(body) != 0 {
		return nil, hsm.DeviceErrWrongLength
	}
	const totalRecords = 1000
	used := len(p.objects)
	out := make([]byte, 0, 10)
	out = binary.BigEndian.AppendUint16(out, totalRecords)
	out = binary.BigEndian.AppendUint16(out, uint16(totalRecords-used))
	out = binary.BigEndian.AppendUint16(out, 126)
	out = binary.BigEndian.AppendUint16(out, 1024)
	out = binary.BigEndian.AppendUint16(out, uint16(1024-used))
	return out, 0
}

func handleBlink(_ *Peer, _ *deviceSession, body []byte) ([]byte, hsm.DeviceErrorKind) {
	if len(body) != 1 {
		return nil, hsm.DeviceErrWrongLength
	}
	return nil, 0
}

func handleCloseSession(_ *Peer, _ *deviceSession, body []byte) ([]byte, hsm.DeviceErrorKind) {
	if len(body) != 0 {
		return nil, hsm.DeviceErrWrongLength
	}
	return nil, 0
}

// assignID returns requested unchanged if non-zero, otherwise the
// next auto-assigned id.
func (p *Peer) assignID(requested hsm.ObjectID) hsm.ObjectID {
	if requested != 0 {
		return requested
	}
	id := p.nextID
	p.nextID++
	return id
}

// listFilter holds the optional ListObjects predicates the mock
// understands; each predicate applies only when its *Set flag is true.
type listFilter struct {
	typ      hsm.ObjectType
	typSet   bool
	domains  hsm.Domains
	domSet   bool
	caps     hsm.Capability
	capsSet  bool
	algo     hsm.Algorithm
	algoSet  bool
	label    hsm.Label
	labelSet bool
}

const (
	listFilterType      = 0x01
	listFilterDomains   = 0x02
	listFilterCaps      = 0x03
	listFilterAlgorithm = 0x05
	listFilterLabel     = 0x06
)

func parseListFilters(body []byte) (listFilter, bool) {
	var f listFilter
	pos := 0
	for pos < len(body) {
		tag := body[pos]
		pos++
		switch tag {
		case listFilterType:
			if pos+1 > len(body) {
				return f, false
			}
			f.typ, f.typSet = hsm.ObjectType(body[pos]), true
			pos++
		case listFilterDomains:
			if pos+2 > len(body) {
				return f, false
			}
			f.domains, f.domSet = hsm.Domains(binary.BigEndian.Uint16(body[pos:])), true
			pos += 2
		case listFilterCaps:
			if pos+8 > len(body) {
				return f, false
			}
			f.caps, f.capsSet = hsm.Capability(binary.BigEndian.Uint64(body[pos:])), true
			pos += 8
		case listFilterAlgorithm:
			if pos+1 > len(body) {
				return f, false
			}
			f.algo, f.algoSet = hsm.Algorithm(body[pos]), true
			pos++
		case listFilterLabel:
			if pos+40 > len(body) {
				return f, false
			}
			copy(f.label[:], body[pos:pos+40])
			f.labelSet = true
			pos += 40
		default:
			return f, false
		}
	}
	return f, true
}

func (f listFilter) matches(key objectKey, obj *storedObject) bool {
	if f.typSet && key.typ != f.typ {
		return false
	}
	if f.domSet && obj.domains&f.domains == 0 {
		return false
	}
	if f.capsSet && !obj.capabilities.Has(f.caps) {
		return false
	}
	if f.algoSet && obj.algorithm != f.algo {
		return false
	}
	if f.labelSet && obj.label != f.label {
		return false
	}
	return true
}
