package hsm

import (
	"bytes"
	"testing"
)

func TestEncodeCommandRoundTripsThroughFrame(t *testing.T) {
	cmd := &EchoCommand{Data: []byte("hello")}
	body, err := encodeCommand(cmd)
	if err != nil {
		t.Fatalf("encodeCommand: %v", err)
	}
	frame, err := encodeFrame(byte(cmd.code()), body)
	if err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}

	code, payload, err := decodeFrame(frame)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if CommandCode(code) != CmdEcho {
		t.Fatalf("decoded code = 0x%02x, want 0x%02x", code, CmdEcho)
	}
	if !bytes.Equal(payload, body) {
		t.Fatalf("decoded payload = %v, want %v", payload, body)
	}
}

func TestEchoResponseDecode(t *testing.T) {
	r := &EchoResponse{}
	if err := r.decode([]byte("hello")); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(r.Data) != "hello" {
		t.Fatalf("Data = %q, want %q", r.Data, "hello")
	}
}

func TestGetPseudoRandomCommandAndResponse(t *testing.T) {
	cmd := &GetPseudoRandomCommand{Length: 32}
	body, err := cmd.encode(nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(body, []byte{32}) {
		t.Fatalf("encoded body = %v, want [32]", body)
	}

	r := &GetPseudoRandomResponse{}
	want := bytes.Repeat([]byte{0xaa}, 32)
	if err := r.decode(want); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(r.Data, want) {
		t.Fatalf("Data = %v, want %v", r.Data, want)
	}
}

func TestGenerateAsymmetricKeyCommandEncode(t *testing.T) {
	label, err := NewLabel("test-key")
	if err != nil {
		t.Fatalf("NewLabel: %v", err)
	}
	cmd := &GenerateAsymmetricKeyCommand{
		ID:           0x1234,
		Label:        label,
		Domains:      Domains(1),
		Capabilities: Capabilities(CapSignEddsa),
		Algorithm:    AlgEd25519,
	}
	body, err := cmd.encode(nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	wantLen := 2 + labelLen + 2 + 8 + 1
	if len(body) != wantLen {
		t.Fatalf("body length = %d, want %d", len(body), wantLen)
	}
	cur := newCursor(body)
	if id := cur.u16(); id != uint16(cmd.ID) {
		t.Fatalf("decoded ID = %d, want %d", id, cmd.ID)
	}
	gotLabel := cur.bytes(labelLen)
	if !bytes.Equal(gotLabel, label[:]) {
		t.Fatalf("decoded label = %v, want %v", gotLabel, label[:])
	}
	if d := cur.u16(); Domains(d) != cmd.Domains {
		t.Fatalf("decoded domains = %d, want %d", d, cmd.Domains)
	}
	if c := cur.u64(); Capabilities(c) != cmd.Capabilities {
		t.Fatalf("decoded capabilities = %d, want %d", c, cmd.Capabilities)
	}
	if a := cur.u8(); Algorithm(a) != cmd.Algorithm {
		t.Fatalf("decoded algorithm = %d, want %d", a, cmd.Algorithm)
	}
	if !cur.atEnd() {
		t.Fatalf("trailing bytes after decoding all known fields")
	}
}

func TestGenerateAsymmetricKeyResponseDecode(t *testing.T) {
	body := []byte{0x12, 0x34}
	r := &GenerateAsymmetricKeyResponse{}
	if err := r.decode(body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.ID != 0x1234 {
		t.Fatalf("ID = 0x%04x, want 0x1234", r.ID)
	}
}

func TestSignDataEddsaResponseRejectsWrongLength(t *testing.T) {
	r := &SignDataEddsaResponse{}
	if err := r.decode(make([]byte, 63)); err == nil {
		t.Fatalf("expected error for a 63-byte signature")
	}
	if err := r.decode(make([]byte, 64)); err != nil {
		t.Fatalf("decode of a 64-byte signature: %v", err)
	}
}

func TestListObjectsCommandEncodesOnlySetFilters(t *testing.T) {
	cmd := &ListObjectsCommand{
		TypeSet: true,
		Type:    TypeAsymmetricKey,
	}
	body, err := cmd.encode(nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{listFilterType, byte(TypeAsymmetricKey)}
	if !bytes.Equal(body, want) {
		t.Fatalf("body = %v, want %v", body, want)
	}

	empty := &ListObjectsCommand{}
	body, err = empty.encode(nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(body) != 0 {
		t.Fatalf("expected no bytes when no filters are set, got %v", body)
	}
}

func TestListObjectsResponseDecode(t *testing.T) {
	body := []byte{
		0x00, 0x01, byte(TypeAsymmetricKey), 0x00,
		0x00, 0x02, byte(TypeHmacKey), 0x00,
	}
	r := &ListObjectsResponse{}
	if err := r.decode(body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []ObjectHandle{
		{ID: 1, Type: TypeAsymmetricKey},
		{ID: 2, Type: TypeHmacKey},
	}
	if len(r.Objects) != len(want) {
		t.Fatalf("got %d objects, want %d", len(r.Objects), len(want))
	}
	for i, h := range want {
		if r.Objects[i] != h {
			t.Fatalf("object[%d] = %+v, want %+v", i, r.Objects[i], h)
		}
	}
}

func TestGetObjectInfoResponseDecode(t *testing.T) {
	label, err := NewLabel("key-info")
	if err != nil {
		t.Fatalf("NewLabel: %v", err)
	}
	body := make([]byte, 0, 8+2+2+2+1+1+1+1+labelLen+8)
	body = putU64(body, uint64(CapSignEcdsa))
	body = putU16(body, 0x0042)
	body = putU16(body, 512)
	body = putU16(body, 1)
	body = putU8(body, byte(TypeAsymmetricKey))
	body = putU8(body, byte(AlgEcP256))
	body = putU8(body, 3)
	body = putU8(body, 1)
	body = putBytes(body, label[:])
	body = putU64(body, uint64(CapPutAsymKey))

	r := &GetObjectInfoResponse{}
	if err := r.decode(body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.ID != 0x0042 || r.Length != 512 || r.Type != TypeAsymmetricKey || r.Algorithm != AlgEcP256 {
		t.Fatalf("decoded record = %+v", r)
	}
	if !r.Capabilities.Has(CapSignEcdsa) {
		t.Fatalf("expected CapSignEcdsa set")
	}
	if !r.DelegatedCapabilities.Has(CapPutAsymKey) {
		t.Fatalf("expected CapPutAsymKey delegated")
	}
	if r.Label.String() != "key-info" {
		t.Fatalf("Label = %q, want %q", r.Label.String(), "key-info")
	}
}

func TestFixedShapeResponsesRejectTruncatedBody(t *testing.T) {
	cases := []struct {
		name string
		rsp  response
	}{
		{"GenerateAsymmetricKeyResponse", &GenerateAsymmetricKeyResponse{}},
		{"PutAuthKeyResponse", &PutAuthKeyResponse{}},
		{"ImportWrappedResponse", &ImportWrappedResponse{}},
		{"StorageStatusResponse", &StorageStatusResponse{}},
	}
	for _, tc := range cases {
		if err := tc.rsp.decode([]byte{0x01}); err == nil {
			t.Errorf("%s.decode of a 1-byte body: expected error", tc.name)
		}
	}
}

func TestFixedShapeResponsesRejectTrailingBytes(t *testing.T) {
	r := &GenerateAsymmetricKeyResponse{}
	if err := r.decode([]byte{0x00, 0x01, 0xff}); err == nil {
		t.Fatalf("expected error for a trailing byte after the object ID")
	}
}

func TestEmptyBodyResponsesRejectExtraBytes(t *testing.T) {
	cases := []response{
		&CloseSessionResponse{},
		&DeleteObjectResponse{},
		&SetLogIndexResponse{},
		&BlinkResponse{},
	}
	for _, rsp := range cases {
		if err := rsp.decode(nil); err != nil {
			t.Errorf("%T.decode(nil) = %v, want nil", rsp, err)
		}
		if err := rsp.decode([]byte{0x00}); err == nil {
			t.Errorf("%T.decode of a non-empty body: expected error", rsp)
		}
	}
}

func TestDecodeResponseSurfacesDeviceError(t *testing.T) {
	var rsp EchoResponse
	err := decodeResponse(CmdEcho, byte(errorCode), []byte{byte(DeviceErrAuthFail)}, &rsp)
	if !IsDeviceErrorKind(err, DeviceErrAuthFail) {
		t.Fatalf("decodeResponse error = %v, want DeviceError{AuthFail}", err)
	}
}

func TestDecodeResponseRejectsMismatchedCode(t *testing.T) {
	var rsp EchoResponse
	err := decodeResponse(CmdEcho, byte(CmdGetPseudoRandom|responseBit), []byte("x"), &rsp)
	if err == nil {
		t.Fatalf("expected error for a response code that doesn't answer the request")
	}
}

func TestDecodeResponseHappyPath(t *testing.T) {
	var rsp EchoResponse
	err := decodeResponse(CmdEcho, byte(CmdEcho|responseBit), []byte("hi"), &rsp)
	if err != nil {
		t.Fatalf("decodeResponse: %v", err)
	}
	if string(rsp.Data) != "hi" {
		t.Fatalf("Data = %q, want %q", rsp.Data, "hi")
	}
}

func TestDeviceInfoResponseDecode(t *testing.T) {
	body := []byte{2, 3, 4, 0, 0, 0x10, 0x00, 0x00, 64, 0x00, 10}
	body = append(body, byte(AlgEd25519), byte(AlgEcP256))
	r := &DeviceInfoResponse{}
	if err := r.decode(body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.MajorVersion != 2 || r.MinorVersion != 3 || r.PatchVersion != 4 {
		t.Fatalf("version = %d.%d.%d, want 2.3.4", r.MajorVersion, r.MinorVersion, r.PatchVersion)
	}
	if len(r.Algorithms) != 2 || r.Algorithms[0] != AlgEd25519 || r.Algorithms[1] != AlgEcP256 {
		t.Fatalf("Algorithms = %v", r.Algorithms)
	}
}
