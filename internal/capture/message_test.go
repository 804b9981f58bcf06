package capture

import (
	"bytes"
	"errors"
	"testing"
)

func TestDecodeMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		unknown bool
	}{
		{name: "check clipboard", raw: `{"type":"checkClipboard"}`},
		{name: "init", raw: `{"type":"init","init":{"fontFamily":"Hack","backgroundColor":"#fff"}}`},
		{name: "init without payload", raw: `{"type":"init"}`, wantErr: true},
		{name: "shoot without image", raw: `{"type":"shoot","shoot":{}}`, wantErr: true},
		{name: "state change", raw: `{"type":"onStateChange","stateChange":{"kind":"updateBgColor","payload":"#000"}}`},
		{name: "unknown kind", raw: `{"type":"onStateChange","stateChange":{"kind":"zoom"}}`, wantErr: true, unknown: true},
		{name: "unknown type", raw: `{"type":"paste"}`, wantErr: true, unknown: true},
		{name: "not json", raw: `type=init`, wantErr: true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeMessage([]byte(tc.raw))
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.unknown && !errors.Is(err, ErrUnknownMessage) {
				t.Errorf("err = %v, want ErrUnknownMessage", err)
			}
		})
	}
}

func TestShootImageBytesAreBase64(t *testing.T) {
	t.Parallel()
	m, err := DecodeMessage([]byte(`{"type":"shoot","shoot":{"imageBytes":"iVBORw=="}}`))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(m.Shoot.ImageBytes, []byte{0x89, 'P', 'N', 'G'}) {
		t.Errorf("ImageBytes = %v", m.Shoot.ImageBytes)
	}
}

func TestFingerprint(t *testing.T) {
	t.Parallel()
	a := ClipboardPayload{HTML: "<b>x</b>", Text: "x"}
	if a.Fingerprint() != (ClipboardPayload{HTML: "<b>x</b>", Text: "x"}).Fingerprint() {
		t.Errorf("fingerprint is not stable")
	}
	if a.Fingerprint() == (ClipboardPayload{HTML: "<b>x</b>x"}).Fingerprint() {
		t.Errorf("flavors are not separated")
	}
	if len(a.Fingerprint()) != 64 {
		t.Errorf("fingerprint length = %d", len(a.Fingerprint()))
	}
}
