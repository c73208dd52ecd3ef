// Command cg is a CLI client for the ChurnGuard gateway.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/term"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	CompanyName string    `json:"company_name,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "churnguard")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "churnguard")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok, company string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, CompanyName: company, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (login required)")
	}
	return tf.AccessToken, nil
}

// tokenExpiry reads exp without verifying the signature; the server remains
// the authority, this only decides when to stop sending a stale token.
func tokenExpiry(tok string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("token has no exp")
	}
	return claims.ExpiresAt.Time, nil
}

// ---- http ----

// apiError is the gateway's uniform error body.
type apiError struct {
	Status int             `json:"-"`
	Msg    string          `json:"error"`
	Detail json.RawMessage `json:"detail,omitempty"`
}

func (e *apiError) Error() string {
	if len(e.Detail) > 0 {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Msg, e.Detail)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Msg)
}

type client struct {
	base   string
	bearer string
	hc     *http.Client
}

func newClient(addr, bearer string) *client {
	return &client{
		base:   strings.TrimRight(addr, "/"),
		bearer: bearer,
		hc:     &http.Client{},
	}
}

// do sends a request and returns the raw response body for 2xx answers.
func (c *client) do(ctx context.Context, method, path, contentType string, body io.Reader, hdr http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		ae := &apiError{Status: resp.StatusCode}
		if json.Unmarshal(b, ae) != nil || ae.Msg == "" {
			ae.Msg = strings.TrimSpace(string(b))
		}
		return nil, ae
	}
	return b, nil
}

func (c *client) json(ctx context.Context, method, path string, in any) ([]byte, error) {
	var body io.Reader
	ct := ""
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
		ct = "application/json"
	}
	return c.do(ctx, method, path, ct, body, nil)
}

func (c *client) signup(ctx context.Context, company, email, password, filename string, dataset []byte, key string) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{"companyName": company, "email": email, "password": password} {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	fw, err := mw.CreateFormFile("dataset", filepath.Base(filename))
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(dataset); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	hdr := http.Header{}
	if key != "" {
		hdr.Set("Idempotency-Key", key)
	}
	return c.do(ctx, http.MethodPost, "/signup", mw.FormDataContentType(), &buf, hdr)
}

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// printRaw pretty-prints a JSON body, falling back to the bytes as-is.
func printRaw(b []byte) {
	var out bytes.Buffer
	if json.Indent(&out, b, "", "  ") != nil {
		_, _ = os.Stdout.Write(b)
		return
	}
	out.WriteByte('\n')
	_, _ = out.WriteTo(os.Stdout)
}

var readPassword = func() ([]byte, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	defer fmt.Fprintln(os.Stderr)
	return term.ReadPassword(int(os.Stdin.Fd()))
}

func passwordOrPrompt(p string) string {
	if p != "" {
		return p
	}
	b, err := readPassword()
	if err != nil {
		fail(fmt.Errorf("read password: %w", err))
	}
	return string(b)
}

func usage() {
	fmt.Fprintf(os.Stderr, `cg CLI
Usage:
  cg [-addr URL] <cmd> [args]

Commands:
  version
  signup        -company <name> -email <email> -file <dataset.csv> [-password <p>] [-key <idempotency key>]
  login         -email <email> [-password <p>]           (saves token)
  logout
  user
  update        [-company <name>] [-email <email>] [-password <p>]
  verify        -email <email>
  dashboard
  churn-factors
  segmentation
  performance
  predict       -file <features.json | ->
  retrain       [-type <model type>]
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

var gatewayPaths = map[string]string{
	"dashboard":     "/dashboard",
	"churn-factors": "/churn_factors",
	"segmentation":  "/segmentation",
	"performance":   "/performance",
}

// main dispatches subcommands; authenticated ones read the saved token.
func main() {
	// global flags
	addr := flag.String("addr", "http://localhost:3000", "gateway base URL")
	timeout := flag.Duration("timeout", 6*time.Minute, "overall request timeout")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	authed := func() *client {
		tok, err := loadToken()
		if err != nil {
			fail(err)
		}
		return newClient(*addr, tok)
	}

	switch cmd {

	case "version":
		fmt.Printf("cg %s (%s)\n", version, buildDate)

	case "signup":
		fs := flag.NewFlagSet("signup", flag.ExitOnError)
		company := fs.String("company", "", "company name")
		email := fs.String("email", "", "email")
		pass := fs.String("password", "", "password (prompted if empty)")
		file := fs.String("file", "", "dataset CSV")
		key := fs.String("key", "", "idempotency key for retries")
		_ = fs.Parse(args)
		if *company == "" || *email == "" || *file == "" {
			fmt.Fprintln(os.Stderr, "need -company, -email and -file")
			os.Exit(1)
		}
		data, err := readAll(*file)
		if err != nil {
			fail(err)
		}
		p := passwordOrPrompt(*pass)
		b, err := newClient(*addr, "").signup(ctx, *company, *email, p, *file, data, *key)
		if err != nil {
			fail(err)
		}
		printRaw(b)

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		email := fs.String("email", "", "email")
		pass := fs.String("password", "", "password (prompted if empty)")
		_ = fs.Parse(args)
		if *email == "" {
			fmt.Fprintln(os.Stderr, "need -email")
			os.Exit(1)
		}
		p := passwordOrPrompt(*pass)
		b, err := newClient(*addr, "").json(ctx, http.MethodPost, "/login", map[string]string{"email": *email, "password": p})
		if err != nil {
			fail(err)
		}
		var resp struct {
			Token       string `json:"token"`
			CompanyName string `json:"companyName"`
		}
		if err := json.Unmarshal(b, &resp); err != nil {
			fail(err)
		}
		exp, err := tokenExpiry(resp.Token)
		if err != nil {
			fail(fmt.Errorf("parse token: %w", err))
		}
		if err := saveToken(resp.Token, resp.CompanyName, exp); err != nil {
			fail(err)
		}
		fmt.Printf("logged in as %s (until %s)\n", resp.CompanyName, exp.Local().Format(time.RFC3339))

	case "logout":
		if err := os.Remove(tokenPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			fail(err)
		}

	case "user":
		b, err := authed().json(ctx, http.MethodGet, "/user", nil)
		if err != nil {
			fail(err)
		}
		printRaw(b)

	case "update":
		fs := flag.NewFlagSet("update", flag.ExitOnError)
		company := fs.String("company", "", "new company name")
		email := fs.String("email", "", "new email")
		pass := fs.String("password", "", "new password")
		_ = fs.Parse(args)
		if *company == "" && *email == "" && *pass == "" {
			fmt.Fprintln(os.Stderr, "nothing to update")
			os.Exit(1)
		}
		b, err := authed().json(ctx, http.MethodPut, "/user/update", map[string]string{
			"companyName": *company,
			"email":       *email,
			"password":    *pass,
		})
		if err != nil {
			fail(err)
		}
		printRaw(b)

	case "verify":
		fs := flag.NewFlagSet("verify", flag.ExitOnError)
		email := fs.String("email", "", "email")
		_ = fs.Parse(args)
		if *email == "" {
			fmt.Fprintln(os.Stderr, "need -email")
			os.Exit(1)
		}
		b, err := authed().json(ctx, http.MethodPost, "/user/verify/start", map[string]string{"email": *email})
		if err != nil {
			fail(err)
		}
		printRaw(b)

	case "dashboard", "churn-factors", "segmentation", "performance":
		b, err := authed().json(ctx, http.MethodPost, gatewayPaths[cmd], nil)
		if err != nil {
			fail(err)
		}
		printRaw(b)

	case "predict":
		fs := flag.NewFlagSet("predict", flag.ExitOnError)
		file := fs.String("file", "-", "JSON features object (- for stdin)")
		_ = fs.Parse(args)
		raw, err := readAll(*file)
		if err != nil {
			fail(err)
		}
		var features map[string]any
		if err := json.Unmarshal(raw, &features); err != nil {
			fail(fmt.Errorf("features must be a JSON object: %w", err))
		}
		b, err := authed().json(ctx, http.MethodPost, "/predict", features)
		if err != nil {
			fail(err)
		}
		printRaw(b)

	case "retrain":
		fs := flag.NewFlagSet("retrain", flag.ExitOnError)
		typ := fs.String("type", "", "model type (server default if empty)")
		_ = fs.Parse(args)
		var body any
		if *typ != "" {
			body = map[string]string{"modelType": *typ}
		}
		b, err := authed().json(ctx, http.MethodPost, "/retrain", body)
		if err != nil {
			fail(err)
		}
		printRaw(b)

	default:
		usage()
	}
}

// ---- helpers ----

func fail(err error) {
	var ae *apiError
	if errors.As(err, &ae) {
		fmt.Fprintf(os.Stderr, "api error: status=%d msg=%s\n", ae.Status, ae.Msg)
		if len(ae.Detail) > 0 {
			fmt.Fprintf(os.Stderr, "detail: %s\n", ae.Detail)
		}
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
