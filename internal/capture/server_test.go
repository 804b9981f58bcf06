package capture

import (
	"encoding/json"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(t *testing.T, host *fakeHost) *httptest.Server {
	t.Helper()
	o, _ := openSession(t, host, nil, &stubDecoder{})
	srv := httptest.NewServer(NewServer(o))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func TestServerPageAndPaste(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, newFakeHost())

	resp := do(t, http.MethodGet, srv.URL+"/", "")
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("GET / = %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	payload, _ := json.Marshal(highlightedPayload)
	resp = do(t, http.MethodPost, srv.URL+"/paste", string(payload))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /paste = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["state"] != "previewing" || body["lines"] != float64(2) || body["background"] != "#2e3440" {
		t.Errorf("paste response = %v", body)
	}

	resp = do(t, http.MethodPost, srv.URL+"/paste", `{"html":"","text":"   "}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("blank paste = %d", resp.StatusCode)
	}
}

func TestServerOptions(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, newFakeHost())

	resp := do(t, http.MethodPut, srv.URL+"/options", `{"shadow":false,"transparentBackground":false,"backgroundColor":"#101010"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT /options = %d", resp.StatusCode)
	}
	resp = do(t, http.MethodGet, srv.URL+"/options", "")
	body := decodeBody(t, resp)
	if body["shadow"] != false || body["backgroundColor"] != "#101010" {
		t.Errorf("options = %v", body)
	}

	resp = do(t, http.MethodPut, srv.URL+"/options", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad JSON = %d", resp.StatusCode)
	}
}

func TestServerMessagesAndCapture(t *testing.T) {
	t.Parallel()
	host := newFakeHost()
	srv := newTestServer(t, host)

	resp := do(t, http.MethodPost, srv.URL+"/message", `{"type":"onStateChange","stateChange":{"kind":"invalidPasteContent"}}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("message = %d", resp.StatusCode)
	}
	if _, _, infos := host.counts(); infos != 1 {
		t.Errorf("infos = %d", infos)
	}
	resp = do(t, http.MethodPost, srv.URL+"/message", `{"type":"nope"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown message = %d", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, srv.URL+"/capture.png", "")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("GET /capture.png = %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if _, err := png.Decode(resp.Body); err != nil {
		t.Errorf("capture is not PNG: %v", err)
	}

	resp = do(t, http.MethodGet, srv.URL+"/capture.jpg?quality=0.8", "")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/jpeg" {
		t.Fatalf("GET /capture.jpg = %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if _, err := jpeg.Decode(resp.Body); err != nil {
		t.Errorf("capture is not JPEG: %v", err)
	}

	resp = do(t, http.MethodPost, srv.URL+"/shoot", "")
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK || body["saved"] != false {
		t.Errorf("shoot with cancelled dialog = %d %v", resp.StatusCode, body)
	}
}

func TestServerSelection(t *testing.T) {
	t.Parallel()
	host := newFakeHost(highlightedPayload)
	srv := newTestServer(t, host)

	resp := do(t, http.MethodPost, srv.URL+"/selection", `{"wait":true}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /selection = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["state"] != "previewing" || body["lines"] != float64(2) {
		t.Errorf("selection response = %v", body)
	}
	if copies, _, _ := host.counts(); copies != 1 {
		t.Errorf("copies = %d", copies)
	}
}
