package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "churnguard")
}

func Test_cfgDir_And_Paths(t *testing.T) {
	_ = withTmpConfig(t)
	got := cfgDir()
	base := os.Getenv("XDG_CONFIG_HOME") + "/churnguard"
	if got != base {
		t.Fatalf("cfgDir=%q, want %q", got, base)
	}
	if !strings.HasPrefix(tokenPath(), base) || !strings.HasSuffix(tokenPath(), "token.json") {
		t.Fatalf("tokenPath unexpected: %s", tokenPath())
	}
}

func Test_token_SaveLoad(t *testing.T) {
	_ = withTmpConfig(t)

	if _, err := loadToken(); err == nil {
		t.Fatalf("expected error when token file missing")
	}
	if err := saveToken("tok", "Acme", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("saveToken: %v", err)
	}
	tok, err := loadToken()
	if err != nil || tok != "tok" {
		t.Fatalf("loadToken: tok=%q err=%v", tok, err)
	}
	fi, err := os.Stat(tokenPath())
	if err != nil || fi.Mode().Perm() != 0o600 {
		t.Fatalf("token file mode: %v %v", fi, err)
	}
	if err := saveToken("tok2", "Acme", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("saveToken expired: %v", err)
	}
	if _, err := loadToken(); err == nil {
		t.Fatalf("want error for expired token")
	}
}

func Test_tokenExpiry(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(8 * time.Hour).Truncate(time.Second)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "t1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("whatever"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	got, err := tokenExpiry(tok)
	if err != nil || !got.Equal(exp) {
		t.Fatalf("tokenExpiry=%v err=%v, want %v", got, err, exp)
	}

	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "t1"}).SignedString([]byte("k"))
	if _, err := tokenExpiry(noExp); err == nil {
		t.Fatalf("want error for token without exp")
	}
	if _, err := tokenExpiry("garbage"); err == nil {
		t.Fatalf("want error for malformed token")
	}
}

func Test_readAll_File_And_Stdin(t *testing.T) {
	// file path
	tmp := filepath.Join(t.TempDir(), "f.txt")
	_ = os.WriteFile(tmp, []byte("hello"), 0o600)
	b, err := readAll(tmp)
	if err != nil || string(b) != "hello" {
		t.Fatalf("readAll(file): %q %v", b, err)
	}

	// stdin
	r, w, _ := os.Pipe()
	old := os.Stdin
	os.Stdin = r
	defer func() { os.Stdin = old }()
	go func() { _, _ = io.WriteString(w, "from-stdin"); _ = w.Close() }()
	b, err = readAll("-")
	if err != nil || string(b) != "from-stdin" {
		t.Fatalf("readAll(stdin): %q %v", b, err)
	}
}

func captureStdout(t *testing.T, fn func()) []byte {
	t.Helper()
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	defer func() { os.Stdout = old }()
	fn()
	_ = w.Close()
	out, _ := io.ReadAll(r)
	return out
}

func Test_printJSON_WritesPretty(t *testing.T) {
	out := captureStdout(t, func() { printJSON(map[string]any{"a": 1}) })

	var m map[string]any
	if json.Unmarshal(out, &m) != nil || m["a"] != float64(1) {
		t.Fatalf("printJSON produced invalid json: %s", string(out))
	}
	if !bytes.Contains(out, []byte("\n")) {
		t.Fatalf("printJSON should indent")
	}
}

func Test_printRaw(t *testing.T) {
	out := captureStdout(t, func() { printRaw([]byte(`{"a":1}`)) })
	if !bytes.Contains(out, []byte("\n  \"a\": 1")) {
		t.Fatalf("printRaw should indent json: %q", out)
	}
	out = captureStdout(t, func() { printRaw([]byte("plain")) })
	if string(out) != "plain" {
		t.Fatalf("printRaw non-json: %q", out)
	}
}

func Test_passwordOrPrompt(t *testing.T) {
	old := readPassword
	defer func() { readPassword = old }()
	called := false
	readPassword = func() ([]byte, error) { called = true; return []byte("typed"), nil }

	if got := passwordOrPrompt("given"); got != "given" || called {
		t.Fatalf("explicit password: %q called=%v", got, called)
	}
	if got := passwordOrPrompt(""); got != "typed" || !called {
		t.Fatalf("prompted password: %q called=%v", got, called)
	}
}

func Test_client_SignupMultipart(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/signup" || r.Method != http.MethodPost {
			http.Error(w, "bad route", http.StatusTeapot)
			return
		}
		if r.Header.Get("Idempotency-Key") != "k1" {
			http.Error(w, "no key", http.StatusTeapot)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusTeapot)
			return
		}
		f, hdr, err := r.FormFile("dataset")
		if err != nil {
			http.Error(w, err.Error(), http.StatusTeapot)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if hdr.Filename != "d.csv" || string(data) != "a,b\n1,2\n" ||
			r.FormValue("companyName") != "Acme" || r.FormValue("email") != "a@x.io" || r.FormValue("password") != "pw" {
			http.Error(w, "bad form", http.StatusTeapot)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"message":"ok","accuracy":0.9}`)
	}))
	defer srv.Close()

	b, err := newClient(srv.URL+"/", "").signup(context.Background(), "Acme", "a@x.io", "pw", "/tmp/d.csv", []byte("a,b\n1,2\n"), "k1")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if !bytes.Contains(b, []byte(`"accuracy":0.9`)) {
		t.Fatalf("signup body: %s", b)
	}
}

func Test_client_BearerAndJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer T" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":"Invalid token."}`)
			return
		}
		var in map[string]any
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || r.Header.Get("Content-Type") != "application/json" {
			http.Error(w, "bad body", http.StatusTeapot)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"echo": in["x"]})
	}))
	defer srv.Close()

	b, err := newClient(srv.URL, "T").json(context.Background(), http.MethodPost, "/predict", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if !bytes.Contains(b, []byte(`"echo":1`)) {
		t.Fatalf("body: %s", b)
	}

	_, err = newClient(srv.URL, "").json(context.Background(), http.MethodPost, "/predict", map[string]any{"x": 1})
	var ae *apiError
	if !errors.As(err, &ae) || ae.Status != http.StatusUnauthorized || ae.Msg != "Invalid token." {
		t.Fatalf("want apiError 401, got %v", err)
	}
}

func Test_client_ErrorDetail(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `{"error":"Prediction failed.","detail":{"error":"bad feature"}}`)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL, "T").json(context.Background(), http.MethodPost, "/predict", nil)
	var ae *apiError
	if !errors.As(err, &ae) {
		t.Fatalf("want apiError, got %v", err)
	}
	if ae.Status != http.StatusBadGateway || !strings.Contains(string(ae.Detail), "bad feature") {
		t.Fatalf("apiError: %+v", ae)
	}
	if !strings.Contains(ae.Error(), "Prediction failed.") {
		t.Fatalf("Error(): %s", ae.Error())
	}
}

func Test_client_NonJSONError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL, "").json(context.Background(), http.MethodGet, "/user", nil)
	var ae *apiError
	if !errors.As(err, &ae) || ae.Msg != "upstream exploded" {
		t.Fatalf("want plain-text apiError, got %v", err)
	}
}
