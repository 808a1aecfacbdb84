package hsm

import "testing"

func TestLabelTruncatesAtFirstNUL(t *testing.T) {
	l, err := NewLabel("test")
	if err != nil {
		t.Fatalf("NewLabel: %v", err)
	}
	// Simulate an embedded NUL surviving a device round-trip: bytes
	// after the first NUL must never be observable via String().
	l[4] = 0x00
	l[5] = 'X'
	if got := l.String(); got != "test" {
		t.Fatalf("String() = %q, want %q", got, "test")
	}
}

func TestLabelTooLong(t *testing.T) {
	long := make([]byte, labelLen+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := NewLabel(string(long)); err == nil {
		t.Fatalf("expected error for over-long label")
	}
}

func TestDomainsHasDomain(t *testing.T) {
	var d Domains
	d |= 1 << 0 // domain 1
	d |= 1 << 15 // domain 16
	if !d.HasDomain(1) || !d.HasDomain(16) {
		t.Fatalf("expected domains 1 and 16 set")
	}
	if d.HasDomain(2) {
		t.Fatalf("domain 2 should not be set")
	}
	if d.HasDomain(0) || d.HasDomain(17) {
		t.Fatalf("out-of-range domain numbers must report false, not panic")
	}
}

func TestCapabilitiesHas(t *testing.T) {
	c := Capabilities(CapSignEcdsa | CapGetPublicKey)
	if !c.Has(CapSignEcdsa) {
		t.Fatalf("expected CapSignEcdsa set")
	}
	if c.Has(CapDecryptOaep) {
		t.Fatalf("did not expect CapDecryptOaep set")
	}
}

func TestDelegatedCapabilitiesHas(t *testing.T) {
	d := DelegatedCapabilities(CapPutAsymKey | CapDeleteAsymKey)
	if !d.Has(CapPutAsymKey) {
		t.Fatalf("expected CapPutAsymKey delegated")
	}
	if d.Has(CapPutAuthKey) {
		t.Fatalf("did not expect CapPutAuthKey delegated")
	}
}

func TestAlgorithmClassification(t *testing.T) {
	cases := []struct {
		alg          Algorithm
		asymmetric   bool
		ec           bool
		rsa          bool
	}{
		{AlgEd25519, true, false, false},
		{AlgEcP256, true, true, false},
		{AlgRsa2048, true, false, true},
		{AlgHmacSha256, false, false, false},
		{AlgWrapAes128Ccm, false, false, false},
	}
	for _, tc := range cases {
		if got := tc.alg.IsAsymmetric(); got != tc.asymmetric {
			t.Errorf("%s.IsAsymmetric() = %v, want %v", tc.alg, got, tc.asymmetric)
		}
		if got := tc.alg.IsEC(); got != tc.ec {
			t.Errorf("%s.IsEC() = %v, want %v", tc.alg, got, tc.ec)
		}
		if got := tc.alg.IsRSA(); got != tc.rsa {
			t.Errorf("%s.IsRSA() = %v, want %v", tc.alg, got, tc.rsa)
		}
	}
}
