package httpconnector

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendFrameRoundTrip(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		gotBody, err = io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte{0x81, 0x00, 0x02, 0xaa, 0xbb})
	}))
	defer srv.Close()

	conn, err := Open(Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	reply, err := conn.SendFrame(context.Background(), []byte{0x01, 0x00, 0x01, 0x42})
	if err != nil {
		t.Fatalf("SendFrame: %v", err)
	}
	if !bytes.Equal(gotBody, []byte{0x01, 0x00, 0x01, 0x42}) {
		t.Fatalf("server saw body %v, want request frame", gotBody)
	}
	want := []byte{0x81, 0x00, 0x02, 0xaa, 0xbb}
	if !bytes.Equal(reply, want) {
		t.Fatalf("reply = %v, want %v", reply, want)
	}
}

func TestSendFrameNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("connector busy"))
	}))
	defer srv.Close()

	conn, err := Open(Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	if _, err := conn.SendFrame(context.Background(), []byte{0x01, 0x00, 0x00}); err == nil {
		t.Fatalf("expected an error for a non-200 connector response")
	}
}

func TestOpenRequiresBaseURL(t *testing.T) {
	if _, err := Open(Options{}); err == nil {
		t.Fatalf("expected an error when BaseURL is empty")
	}
}
