package hsm

import "fmt"

// --- Echo --------------------------------------------------------------

// EchoCommand asks the device to return its body unchanged. Used as the
// cheapest possible liveness check and round-trip test fixture.
type EchoCommand struct {
	Data []byte
}

func (c *EchoCommand) code() CommandCode { return CmdEcho }

func (c *EchoCommand) encode(buf []byte) ([]byte, error) {
	return putBytes(buf, c.Data), nil
}

type EchoResponse struct {
	Data []byte
}

func (r *EchoResponse) decode(body []byte) error {
	r.Data = append([]byte(nil), body...)
	return nil
}

// --- GetPseudoRandom -----------------------------------------------------

type GetPseudoRandomCommand struct {
	Length byte
}

func (c *GetPseudoRandomCommand) code() CommandCode { return CmdGetPseudoRandom }

func (c *GetPseudoRandomCommand) encode(buf []byte) ([]byte, error) {
	return putU8(buf, c.Length), nil
}

type GetPseudoRandomResponse struct {
	Data []byte
}

func (r *GetPseudoRandomResponse) decode(body []byte) error {
	r.Data = append([]byte(nil), body...)
	return nil
}

// --- GenerateAsymmetricKey -----------------------------------------------

type GenerateAsymmetricKeyCommand struct {
	ID           ObjectID
	Label        Label
	Domains      Domains
	Capabilities Capabilities
	Algorithm    Algorithm
}

func (c *GenerateAsymmetricKeyCommand) code() CommandCode { return CmdGenerateAsymmetricKey }

func (c *GenerateAsymmetricKeyCommand) encode(buf []byte) ([]byte, error) {
	buf = putU16(buf, uint16(c.ID))
	buf = putBytes(buf, c.Label[:])
	buf = putU16(buf, uint16(c.Domains))
	buf = putU64(buf, uint64(c.Capabilities))
	buf = putU8(buf, byte(c.Algorithm))
	return buf, nil
}

type GenerateAsymmetricKeyResponse struct {
	ID ObjectID
}

func (r *GenerateAsymmetricKeyResponse) decode(body []byte) error {
	cur := newCursor(body)
	r.ID = ObjectID(cur.u16())
	if !cur.atEnd() {
		return trailingBytesError("GenerateAsymmetricKeyResponse", cur)
	}
	return nil
}

// --- GetPublicKey ---------------------------------------------------------

type GetPublicKeyCommand struct {
	ID ObjectID
}

func (c *GetPublicKeyCommand) code() CommandCode { return CmdGetPublicKey }

func (c *GetPublicKeyCommand) encode(buf []byte) ([]byte, error) {
	return putU16(buf, uint16(c.ID)), nil
}

type GetPublicKeyResponse struct {
	Algorithm Algorithm
	KeyData   []byte
}

func (r *GetPublicKeyResponse) decode(body []byte) error {
	if len(body) < 1 {
		return &ProtocolError{Msg: "GetPublicKeyResponse: empty body"}
	}
	r.Algorithm = Algorithm(body[0])
	r.KeyData = append([]byte(nil), body[1:]...)
	return nil
}

// --- SignDataEddsa ---------------------------------------------------------

type SignDataEddsaCommand struct {
	ID   ObjectID
	Data []byte
}

func (c *SignDataEddsaCommand) code() CommandCode { return CmdSignDataEddsa }

func (c *SignDataEddsaCommand) encode(buf []byte) ([]byte, error) {
	buf = putU16(buf, uint16(c.ID))
	return putBytes(buf, c.Data), nil
}

type SignDataEddsaResponse struct {
	Signature []byte
}

func (r *SignDataEddsaResponse) decode(body []byte) error {
	if len(body) != 64 {
		return &ProtocolError{Msg: fmt.Sprintf("SignDataEddsaResponse: %d bytes, want 64", len(body))}
	}
	r.Signature = append([]byte(nil), body...)
	return nil
}

// --- SignDataEcdsa ---------------------------------------------------------

type SignDataEcdsaCommand struct {
	ID   ObjectID
	Data []byte // pre-hashed digest
}

func (c *SignDataEcdsaCommand) code() CommandCode { return CmdSignDataEcdsa }

func (c *SignDataEcdsaCommand) encode(buf []byte) ([]byte, error) {
	buf = putU16(buf, uint16(c.ID))
	return putBytes(buf, c.Data), nil
}

type SignDataEcdsaResponse struct {
	Signature []byte // DER-encoded
}

func (r *SignDataEcdsaResponse) decode(body []byte) error {
	r.Signature = append([]byte(nil), body...)
	return nil
}

// --- SignDataPkcs1 ---------------------------------------------------------

type SignDataPkcs1Command struct {
	ID   ObjectID
	Data []byte
}

func (c *SignDataPkcs1Command) code() CommandCode { return CmdSignDataPkcs1 }

func (c *SignDataPkcs1Command) encode(buf []byte) ([]byte, error) {
	buf = putU16(buf, uint16(c.ID))
	return putBytes(buf, c.Data), nil
}

type SignDataPkcs1Response struct {
	Signature []byte
}

func (r *SignDataPkcs1Response) decode(body []byte) error {
	r.Signature = append([]byte(nil), body...)
	return nil
}

// --- SignDataPss -----------------------------------------------------------

type SignDataPssCommand struct {
	ID         ObjectID
	SaltLength byte
	Data       []byte
}

func (c *SignDataPssCommand) code() CommandCode { return CmdSignDataPss }

func (c *SignDataPssCommand) encode(buf []byte) ([]byte, error) {
	buf = putU16(buf, uint16(c.ID))
	buf = putU8(buf, c.SaltLength)
	return putBytes(buf, c.Data), nil
}

type SignDataPssResponse struct {
	Signature []byte
}

func (r *SignDataPssResponse) decode(body []byte) error {
	r.Signature = append([]byte(nil), body...)
	return nil
}

// --- DecryptPkcs1 ------------------------------------------------------------

type DecryptPkcs1Command struct {
	ID   ObjectID
	Data []byte
}

func (c *DecryptPkcs1Command) code() CommandCode { return CmdDecryptPkcs1 }

func (c *DecryptPkcs1Command) encode(buf []byte) ([]byte, error) {
	buf = putU16(buf, uint16(c.ID))
	return putBytes(buf, c.Data), nil
}

type DecryptPkcs1Response struct {
	Data []byte
}

func (r *DecryptPkcs1Response) decode(body []byte) error {
	r.Data = append([]byte(nil), body...)
	return nil
}

// --- DecryptOaep --------------------------------------------------------------

type DecryptOaepCommand struct {
	ID    ObjectID
	Hash  byte
	Label []byte
	Data  []byte
}

func (c *DecryptOaepCommand) code() CommandCode { return CmdDecryptOaep }

func (c *DecryptOaepCommand) encode(buf []byte) ([]byte, error) {
	var err error
	buf = putU16(buf, uint16(c.ID))
	buf = putU8(buf, c.Hash)
	buf, err = putBlob8(buf, c.Label)
	if err != nil {
		return nil, err
	}
	return putBytes(buf, c.Data), nil
}

type DecryptOaepResponse struct {
	Data []byte
}

func (r *DecryptOaepResponse) decode(body []byte) error {
	r.Data = append([]byte(nil), body...)
	return nil
}

// --- DeriveEcdh ----------------------------------------------------------------

type DeriveEcdhCommand struct {
	ID            ObjectID
	PeerPublicKey []byte
}

func (c *DeriveEcdhCommand) code() CommandCode { return CmdDeriveEcdh }

func (c *DeriveEcdhCommand) encode(buf []byte) ([]byte, error) {
	buf = putU16(buf, uint16(c.ID))
	return putBytes(buf, c.PeerPublicKey), nil
}

type DeriveEcdhResponse struct {
	SharedSecret []byte
}

func (r *DeriveEcdhResponse) decode(body []byte) error {
	r.SharedSecret = append([]byte(nil), body...)
	return nil
}

// --- PutAuthKey ------------------------------------------------------------

type PutAuthKeyCommand struct {
	ID                    ObjectID
	Label                 Label
	Domains               Domains
	Capabilities          Capabilities
	DelegatedCapabilities DelegatedCapabilities
	Algorithm             Algorithm
	EncKey                []byte
	MacKey                []byte
}

func (c *PutAuthKeyCommand) code() CommandCode { return CmdPutAuthKey }

func (c *PutAuthKeyCommand) encode(buf []byte) ([]byte, error) {
	buf = putU16(buf, uint16(c.ID))
	buf = putBytes(buf, c.Label[:])
	buf = putU16(buf, uint16(c.Domains))
	buf = putU64(buf, uint64(c.Capabilities))
	buf = putU64(buf, uint64(c.DelegatedCapabilities))
	buf = putU8(buf, byte(c.Algorithm))
	buf = putBytes(buf, c.EncKey)
	buf = putBytes(buf, c.MacKey)
	return buf, nil
}

type PutAuthKeyResponse struct {
	ID ObjectID
}

func (r *PutAuthKeyResponse) decode(body []byte) error {
	cur := newCursor(body)
	r.ID = ObjectID(cur.u16())
	if !cur.atEnd() {
		return trailingBytesError("PutAuthKeyResponse", cur)
	}
	return nil
}

// --- PutAsymmetricKey --------------------------------------------------------

type PutAsymmetricKeyCommand struct {
	ID           ObjectID
	Label        Label
	Domains      Domains
	Capabilities Capabilities
	Algorithm    Algorithm
	KeyData      []byte
}

func (c *PutAsymmetricKeyCommand) code() CommandCode { return CmdPutAsymmetricKey }

func (c *PutAsymmetricKeyCommand) encode(buf []byte) ([]byte, error) {
	buf = putU16(buf, uint16(c.ID))
	buf = putBytes(buf, c.Label[:])
	buf = putU16(buf, uint16(c.Domains))
	buf = putU64(buf, uint64(c.Capabilities))
	buf = putU8(buf, byte(c.Algorithm))
	return putBytes(buf, c.KeyData), nil
}

type PutAsymmetricKeyResponse struct {
	ID ObjectID
}

func (r *PutAsymmetricKeyResponse) decode(body []byte) error {
	cur := newCursor(body)
	r.ID = ObjectID(cur.u16())
	if !cur.atEnd() {
		return trailingBytesError("PutAsymmetricKeyResponse", cur)
	}
	return nil
}

// --- PutHmacKey ---------------------------------------------------------------

type PutHmacKeyCommand struct {
	ID           ObjectID
	Label        Label
	Domains      Domains
	Capabilities Capabilities
	Algorithm    Algorithm
	Key          []byte
}

func (c *PutHmacKeyCommand) code() CommandCode { return CmdPutHmacKey }

func (c *PutHmacKeyCommand) encode(buf []byte) ([]byte, error) {
	buf = putU16(buf, uint16(c.ID))
	buf = putBytes(buf, c.Label[:])
	buf = putU16(buf, uint16(c.Domains))
	buf = putU64(buf, uint64(c.Capabilities))
	buf = putU8(buf, byte(c.Algorithm))
	return putBytes(buf, c.Key), nil
}

type PutHmacKeyResponse struct {
	ID ObjectID
}

func (r *PutHmacKeyResponse) decode(body []byte) error {
	cur := newCursor(body)
	r.ID = ObjectID(cur.u16())
	if !cur.atEnd() {
		return trailingBytesError("PutHmacKeyResponse", cur)
	}
	return nil
}

// --- SignHmac / VerifyHmac -----------------------------------------------------

type SignHmacCommand struct {
	ID   ObjectID
	Data []byte
}

func (c *SignHmacCommand) code() CommandCode { return CmdSignHmac }

func (c *SignHmacCommand) encode(buf []byte) ([]byte, error) {
	buf = putU16(buf, uint16(c.ID))
	return putBytes(buf, c.Data), nil
}

type SignHmacResponse struct {
	Mac []byte
}

func (r *SignHmacResponse) decode(body []byte) error {
	r.Mac = append([]byte(nil), body...)
	return nil
}

type VerifyHmacCommand struct {
	ID   ObjectID
	Mac  []byte
	Data []byte
}

func (c *VerifyHmacCommand) code() CommandCode { return CmdVerifyHmac }

func (c *VerifyHmacCommand) encode(buf []byte) ([]byte, error) {
	var err error
	buf = putU16(buf, uint16(c.ID))
	buf, err = putBlob8(buf, c.Mac)
	if err != nil {
		return nil, err
	}
	return putBytes(buf, c.Data), nil
}

type VerifyHmacResponse struct {
	Verified bool
}

func (r *VerifyHmacResponse) decode(body []byte) error {
	if len(body) != 1 {
		return &ProtocolError{Msg: fmt.Sprintf("VerifyHmacResponse: %d bytes, want 1", len(body))}
	}
	r.Verified = body[0] != 0
	return nil
}

// --- PutOpaqueObject / GetOpaqueObject -------------------------------------------

type PutOpaqueObjectCommand struct {
	ID           ObjectID
	Label        Label
	Domains      Domains
	Capabilities Capabilities
	Algorithm    Algorithm
	Data         []byte
}

func (c *PutOpaqueObjectCommand) code() CommandCode { return CmdPutOpaqueObject }

func (c *PutOpaqueObjectCommand) encode(buf []byte) ([]byte, error) {
	buf = putU16(buf, uint16(c.ID))
	buf = putBytes(buf, c.Label[:])
	buf = putU16(buf, uint16(c.Domains))
	buf = putU64(buf, uint64(c.Capabilities))
	buf = putU8(buf, byte(c.Algorithm))
	return putBytes(buf, c.Data), nil
}

type PutOpaqueObjectResponse struct {
	ID ObjectID
}

func (r *PutOpaqueObjectResponse) decode(body []byte) error {
	cur := newCursor(body)
	r.ID = ObjectID(cur.u16())
	if !cur.atEnd() {
		return trailingBytesError("PutOpaqueObjectResponse", cur)
	}
	return nil
}

type GetOpaqueObjectCommand struct {
	ID ObjectID
}

func (c *GetOpaqueObjectCommand) code() CommandCode { return CmdGetOpaqueObject }

func (c *GetOpaqueObjectCommand) encode(buf []byte) ([]byte, error) {
	return putU16(buf, uint16(c.ID)), nil
}

type GetOpaqueObjectResponse struct {
	Data []byte
}

func (r *GetOpaqueObjectResponse) decode(body []byte) error {
	r.Data = append([]byte(nil), body...)
	return nil
}

// --- PutWrapKey / ExportWrapped / ImportWrapped ------------------------------------

type PutWrapKeyCommand struct {
	ID                    ObjectID
	Label                 Label
	Domains               Domains
	Capabilities          Capabilities
	DelegatedCapabilities DelegatedCapabilities
	Algorithm             Algorithm
	Key                   []byte
}

func (c *PutWrapKeyCommand) code() CommandCode { return CmdPutWrapKey }

func (c *PutWrapKeyCommand) encode(buf []byte) ([]byte, error) {
	buf = putU16(buf, uint16(c.ID))
	buf = putBytes(buf, c.Label[:])
	buf = putU16(buf, uint16(c.Domains))
	buf = putU64(buf, uint64(c.Capabilities))
	buf = putU64(buf, uint64(c.DelegatedCapabilities))
	buf = putU8(buf, byte(c.Algorithm))
	return putBytes(buf, c.Key), nil
}

type PutWrapKeyResponse struct {
	ID ObjectID
}

func (r *PutWrapKeyResponse) decode(body []byte) error {
	cur := newCursor(body)
	r.ID = ObjectID(cur.u16())
	if !cur.atEnd() {
		return trailingBytesError("PutWrapKeyResponse", cur)
	}
	return nil
}

type ExportWrappedCommand struct {
	WrapID     ObjectID
	ObjectType ObjectType
	ObjectID   ObjectID
}

func (c *ExportWrappedCommand) code() CommandCode { return CmdExportWrapped }

func (c *ExportWrappedCommand) encode(buf []byte) ([]byte, error) {
	buf = putU16(buf, uint16(c.WrapID))
	buf = putU8(buf, byte(c.ObjectType))
	return putU16(buf, uint16(c.ObjectID)), nil
}

type ExportWrappedResponse struct {
	WrappedData []byte
}

func (r *ExportWrappedResponse) decode(body []byte) error {
	r.WrappedData = append([]byte(nil), body...)
	return nil
}

type ImportWrappedCommand struct {
	WrapID      ObjectID
	WrappedData []byte
}

func (c *ImportWrappedCommand) code() CommandCode { return CmdImportWrapped }

func (c *ImportWrappedCommand) encode(buf []byte) ([]byte, error) {
	buf = putU16(buf, uint16(c.WrapID))
	return putBytes(buf, c.WrappedData), nil
}

type ImportWrappedResponse struct {
	ObjectType ObjectType
	ObjectID   ObjectID
}

func (r *ImportWrappedResponse) decode(body []byte) error {
	cur := newCursor(body)
	r.ObjectType = ObjectType(cur.u8())
	r.ObjectID = ObjectID(cur.u16())
	if !cur.atEnd() {
		return trailingBytesError("ImportWrappedResponse", cur)
	}
	return nil
}

// --- GetObjectInfo / ListObjects / DeleteObject --------------------------------

type GetObjectInfoCommand struct {
	ID   ObjectID
	Type ObjectType
}

func (c *GetObjectInfoCommand) code() CommandCode { return CmdGetObjectInfo }

func (c *GetObjectInfoCommand) encode(buf []byte) ([]byte, error) {
	buf = putU16(buf, uint16(c.ID))
	return putU8(buf, byte(c.Type)), nil
}

// GetObjectInfoResponse mirrors the device's full object descriptor.
type GetObjectInfoResponse struct {
	Capabilities          Capabilities
	ID                    ObjectID
	Length                uint16
	Domains               Domains
	Type                  ObjectType
	Algorithm             Algorithm
	Sequence              byte
	Origin                byte
	Label                 Label
	DelegatedCapabilities DelegatedCapabilities
}

func (r *GetObjectInfoResponse) decode(body []byte) error {
	cur := newCursor(body)
	r.Capabilities = Capabilities(cur.u64())
	r.ID = ObjectID(cur.u16())
	r.Length = cur.u16()
	r.Domains = Domains(cur.u16())
	r.Type = ObjectType(cur.u8())
	r.Algorithm = Algorithm(cur.u8())
	r.Sequence = cur.u8()
	r.Origin = cur.u8()
	copy(r.Label[:], cur.bytes(labelLen))
	r.DelegatedCapabilities = DelegatedCapabilities(cur.u64())
	if cur.err != nil {
		return &ProtocolError{Msg: cur.err.Error(), Cause: cur.err}
	}
	if !cur.atEnd() {
		return trailingBytesError("GetObjectInfoResponse", cur)
	}
	return nil
}

// ListObjectsCommand's fields are all optional filters; a zero value
// (together with its *Set flag) means "don't filter on this field".
type ListObjectsCommand struct {
	Type         ObjectType
	TypeSet      bool
	Domains      Domains
	DomainsSet   bool
	Capabilities Capability
	CapsSet      bool
	Algorithm    Algorithm
	AlgorithmSet bool
	Label        string
	LabelSet     bool
}

const (
	listFilterType      = 0x01
	listFilterDomains   = 0x02
	listFilterCaps      = 0x03
	listFilterAlgorithm = 0x05
	listFilterLabel     = 0x06
)

func (c *ListObjectsCommand) code() CommandCode { return CmdListObjects }

func (c *ListObjectsCommand) encode(buf []byte) ([]byte, error) {
	if c.TypeSet {
		buf = putU8(buf, listFilterType)
		buf = putU8(buf, byte(c.Type))
	}
	if c.DomainsSet {
		buf = putU8(buf, listFilterDomains)
		buf = putU16(buf, uint16(c.Domains))
	}
	if c.CapsSet {
		buf = putU8(buf, listFilterCaps)
		buf = putU64(buf, uint64(c.Capabilities))
	}
	if c.AlgorithmSet {
		buf = putU8(buf, listFilterAlgorithm)
		buf = putU8(buf, byte(c.Algorithm))
	}
	if c.LabelSet {
		label, err := NewLabel(c.Label)
		if err != nil {
			return nil, err
		}
		buf = putU8(buf, listFilterLabel)
		buf = putBytes(buf, label[:])
	}
	return buf, nil
}

type ListObjectsResponse struct {
	Objects []ObjectHandle
}

func (r *ListObjectsResponse) decode(body []byte) error {
	cur := newCursor(body)
	r.Objects = nil
	for !cur.atEnd() {
		id := ObjectID(cur.u16())
		typ := ObjectType(cur.u8())
		cur.u8() // sequence, not surfaced in ObjectHandle
		if cur.err != nil {
			break
		}
		r.Objects = append(r.Objects, ObjectHandle{ID: id, Type: typ})
	}
	if cur.err != nil {
		return &ProtocolError{Msg: cur.err.Error(), Cause: cur.err}
	}
	return nil
}

type DeleteObjectCommand struct {
	ID   ObjectID
	Type ObjectType
}

func (c *DeleteObjectCommand) code() CommandCode { return CmdDeleteObject }

func (c *DeleteObjectCommand) encode(buf []byte) ([]byte, error) {
	buf = putU16(buf, uint16(c.ID))
	return putU8(buf, byte(c.Type)), nil
}

type DeleteObjectResponse struct{}

func (r *DeleteObjectResponse) decode(body []byte) error {
	if len(body) != 0 {
		return trailingBytesError("DeleteObjectResponse", newCursor(body))
	}
	return nil
}

// --- GetLogEntries / SetLogIndex ------------------------------------------------

type GetLogEntriesCommand struct{}

func (c *GetLogEntriesCommand) code() CommandCode { return CmdGetLogEntries }

func (c *GetLogEntriesCommand) encode(buf []byte) ([]byte, error) { return buf, nil }

// LogEntry is one append-only audit record.
type LogEntry struct {
	Number     uint16
	Command    byte
	Length     uint16
	SessionKey ObjectID
	TargetKey  ObjectID
	SecondKey  ObjectID
	Result     byte
	Systick    uint32
	Digest     [16]byte
}

const logEntryLen = 2 + 1 + 2 + 2 + 2 + 2 + 1 + 4 + 16

type GetLogEntriesResponse struct {
	UnloggedBoundary uint16
	NumEntries       byte
	Entries          []LogEntry
}

func (r *GetLogEntriesResponse) decode(body []byte) error {
	cur := newCursor(body)
	r.UnloggedBoundary = cur.u16()
	r.NumEntries = cur.u8()
	r.Entries = nil
	for !cur.atEnd() {
		var e LogEntry
		e.Number = cur.u16()
		e.Command = cur.u8()
		e.Length = cur.u16()
		e.SessionKey = ObjectID(cur.u16())
		e.TargetKey = ObjectID(cur.u16())
		e.SecondKey = ObjectID(cur.u16())
		e.Result = cur.u8()
		e.Systick = cur.u32()
		copy(e.Digest[:], cur.bytes(16))
		if cur.err != nil {
			break
		}
		r.Entries = append(r.Entries, e)
	}
	if cur.err != nil {
		return &ProtocolError{Msg: cur.err.Error(), Cause: cur.err}
	}
	return nil
}

type SetLogIndexCommand struct {
	Index uint16
}

func (c *SetLogIndexCommand) code() CommandCode { return CmdSetLogIndex }

func (c *SetLogIndexCommand) encode(buf []byte) ([]byte, error) {
	return putU16(buf, c.Index), nil
}

type SetLogIndexResponse struct{}

func (r *SetLogIndexResponse) decode(body []byte) error {
	if len(body) != 0 {
		return trailingBytesError("SetLogIndexResponse", newCursor(body))
	}
	return nil
}

// --- Blink -----------------------------------------------------------------------

type BlinkCommand struct {
	Seconds byte
}

func (c *BlinkCommand) code() CommandCode { return CmdBlink }

func (c *BlinkCommand) encode(buf []byte) ([]byte, error) {
	return putU8(buf, c.Seconds), nil
}

type BlinkResponse struct{}

func (r *BlinkResponse) decode(body []byte) error {
	if len(body) != 0 {
		return trailingBytesError("BlinkResponse", newCursor(body))
	}
	return nil
}

// --- DeviceInfo ---------------------------------------------------------------

type DeviceInfoCommand struct{}

func (c *DeviceInfoCommand) code() CommandCode { return CmdDeviceInfo }

func (c *DeviceInfoCommand) encode(buf []byte) ([]byte, error) { return buf, nil }

type DeviceInfoResponse struct {
	MajorVersion     byte
	MinorVersion     byte
	PatchVersion     byte
	SerialNumber     uint32
	LogStoreCapacity uint16
	LogStoreUsed     uint16
	Algorithms       []Algorithm
}

func (r *DeviceInfoResponse) decode(body []byte) error {
	cur := newCursor(body)
	r.MajorVersion = cur.u8()
	r.MinorVersion = cur.u8()
	r.PatchVersion = cur.u8()
	r.SerialNumber = cur.u32()
	r.LogStoreCapacity = cur.u16()
	r.LogStoreUsed = cur.u16()
	rest := cur.remaining()
	if cur.err != nil {
		return &ProtocolError{Msg: cur.err.Error(), Cause: cur.err}
	}
	r.Algorithms = make([]Algorithm, len(rest))
	for i, b := range rest {
		r.Algorithms[i] = Algorithm(b)
	}
	return nil
}

// --- Reset -----------------------------------------------------------------------

// ResetCommand asks the device to reboot. The device does not send a
// reply frame before resetting; callers treat a dropped connection
// immediately after sending it as success.
type ResetCommand struct{}

func (c *ResetCommand) code() CommandCode { return CmdReset }

func (c *ResetCommand) encode(buf []byte) ([]byte, error) { return buf, nil }

// --- CloseSession ---------------------------------------------------------------

type CloseSessionCommand struct{}

func (c *CloseSessionCommand) code() CommandCode { return CmdCloseSession }

func (c *CloseSessionCommand) encode(buf []byte) ([]byte, error) { return buf, nil }

type CloseSessionResponse struct{}

func (r *CloseSessionResponse) decode(body []byte) error {
	if len(body) != 0 {
		return trailingBytesError("CloseSessionResponse", newCursor(body))
	}
	return nil
}

// --- StorageStatus --------------------------------------------------------------

type StorageStatusCommand struct{}

func (c *StorageStatusCommand) code() CommandCode { return CmdStorageStatus }

func (c *StorageStatusCommand) encode(buf []byte) ([]byte, error) { return buf, nil }

type StorageStatusResponse struct {
	TotalRecords uint16
	FreeRecords  uint16
	PageSize     uint16
	TotalPages   uint16
	FreePages    uint16
}

func (r *StorageStatusResponse) decode(body []byte) error {
	cur := newCursor(body)
	r.TotalRecords = cur.u16()
	r.FreeRecords = cur.u16()
	r.PageSize = cur.u16()
	r.TotalPages = cur.u16()
	r.FreePages = cur.u16()
	if cur.err != nil {
		return &ProtocolError{Msg: cur.err.Error(), Cause: cur.err}
	}
	if !cur.atEnd() {
		return trailingBytesError("StorageStatusResponse", cur)
	}
	return nil
}

// trailingBytesError reports bytes left over after a fixed-shape
// response has been fully parsed.
func trailingBytesError(what string, cur *cursor) error {
	return &ProtocolError{Msg: fmt.Sprintf("%s: %d trailing bytes", what, len(cur.buf)-cur.pos)}
}
