package fetch

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/png"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/starford/inkwell/internal/testutil"
	"github.com/starford/inkwell/internal/vault"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newFetcher(t *testing.T, opts Options) (*Fetcher, []byte) {
	t.Helper()
	img := pngBytes(t)
	_, store := testutil.TestVault(t, map[string]string{
		"notes/post.md":         "# post",
		"attachments/pic 1.png": string(img),
	})
	return New(vault.New(store, "attachments", nil), opts, nil), img
}

func TestDecodeDataURIBase64(t *testing.T) {
	img := pngBytes(t)
	a, err := DecodeDataURI("data:image/png;base64," + base64.StdEncoding.EncodeToString(img))
	if err != nil {
		t.Fatal(err)
	}
	if a.MIME != "image/png" || a.Ext != ".png" {
		t.Errorf("got %s %s", a.MIME, a.Ext)
	}
	if !bytes.Equal(a.Data, img) {
		t.Error("data mismatch")
	}
	if !strings.HasSuffix(a.Name, ".png") {
		t.Errorf("name = %q", a.Name)
	}
}

func TestDecodeDataURIPercentEncoded(t *testing.T) {
	a, err := DecodeDataURI(`data:image/svg+xml;utf8,%3Csvg%20xmlns%3D%22http%3A%2F%2Fwww.w3.org%2F2000%2Fsvg%22%3E%3C%2Fsvg%3E`)
	if err != nil {
		t.Fatal(err)
	}
	if a.MIME != "image/svg+xml" {
		t.Errorf("mime = %q", a.MIME)
	}
}

func TestDecodeDataURIMissingComma(t *testing.T) {
	if _, err := DecodeDataURI("data:image/png;base64"); err == nil {
		t.Fatal("expected error")
	}
}

func TestFetchVaultReference(t *testing.T) {
	f, img := newFetcher(t, Options{AssetPrefix: "/api/assets/"})
	ctx := context.Background()

	a, err := f.Fetch(ctx, "pic 1.png", "notes/post.md")
	if err != nil {
		t.Fatal(err)
	}
	if a.VaultPath != "attachments/pic 1.png" || !bytes.Equal(a.Data, img) {
		t.Errorf("got %+v", a.VaultPath)
	}
	if a.Name != "pic_1.png" {
		t.Errorf("name = %q", a.Name)
	}

	a, err = f.Fetch(ctx, "/api/assets/attachments/pic%201.png", "notes/post.md")
	if err != nil {
		t.Fatal(err)
	}
	if a.VaultPath != "attachments/pic 1.png" {
		t.Errorf("asset url resolved to %q", a.VaultPath)
	}

	if _, err := f.Fetch(ctx, "missing.png", "notes/post.md"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFetchHTTP(t *testing.T) {
	img := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(img)
	}))
	defer srv.Close()

	f, _ := newFetcher(t, Options{AllowPrivate: true})
	a, err := f.Fetch(context.Background(), srv.URL+"/img/photo.png?x=1", "")
	if err != nil {
		t.Fatal(err)
	}
	if a.Name != "photo.png" || a.MIME != "image/png" {
		t.Errorf("got %s %s", a.Name, a.MIME)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/gone.png", ""); err == nil {
		t.Error("expected error on 404")
	}
}

func TestFetchBlocksPrivateAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	f, _ := newFetcher(t, Options{})
	_, err := f.Fetch(context.Background(), srv.URL+"/x.png", "")
	if err == nil || !strings.Contains(err.Error(), "blocked") {
		t.Errorf("err = %v, want blocked", err)
	}
}

func TestIsPrivateIP(t *testing.T) {
	for ip, want := range map[string]bool{
		"127.0.0.1":       true,
		"10.1.2.3":        true,
		"169.254.169.254": true,
		"::1":             true,
		"8.8.8.8":         false,
		"2001:4860::8888": false,
	} {
		if got := isPrivateIP(net.ParseIP(ip)); got != want {
			t.Errorf("isPrivateIP(%s) = %v, want %v", ip, got, want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	for in, want := range map[string]string{
		"../../etc/passwd": "passwd",
		`a\b\封面 图.png`:     "封面_图.png",
		"ok-name_1.jpg":    "ok-name_1.jpg",
	} {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFilenameFromURLFallback(t *testing.T) {
	got := FilenameFromURL("https://example.com/path/", ".jpg")
	if !strings.HasSuffix(got, ".jpg") || len(got) != 36+4 {
		t.Errorf("got %q", got)
	}
}
