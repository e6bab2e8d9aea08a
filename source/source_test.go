package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wippyai/wtd-bridge/errors"
)

var preamble = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func TestParse(t *testing.T) {
	tests := []struct {
		location string
		wantType string
		wantLoc  string
		wantErr  bool
	}{
		{"assets/wtd_rust_bg.wasm", "*source.File", "assets/wtd_rust_bg.wasm", false},
		{"/srv/pkg/wtd_rust_bg.wasm", "*source.File", "/srv/pkg/wtd_rust_bg.wasm", false},
		{"file:///srv/pkg/wtd_rust_bg.wasm", "*source.File", "/srv/pkg/wtd_rust_bg.wasm", false},
		{"https://cdn.example.test/wtd_rust_bg.wasm", "*source.HTTP", "https://cdn.example.test/wtd_rust_bg.wasm", false},
		{"ftp://example.test/x.wasm", "", "", true},
		{"   ", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			src, err := Parse(tt.location, Options{})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.IsLoad(err) {
					t.Errorf("expected load error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if got := typeName(src); got != tt.wantType {
				t.Errorf("type = %s, want %s", got, tt.wantType)
			}
			if src.Location() != tt.wantLoc {
				t.Errorf("location = %q, want %q", src.Location(), tt.wantLoc)
			}
		})
	}
}

func typeName(s Source) string {
	switch s.(type) {
	case *File:
		return "*source.File"
	case *HTTP:
		return "*source.HTTP"
	case *Static:
		return "*source.Static"
	default:
		return "?"
	}
}

func TestFile_Fetch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wtd_rust_bg.wasm")
	if err := os.WriteFile(path, preamble, 0o600); err != nil {
		t.Fatal(err)
	}

	src := &File{Path: path}
	data, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != string(preamble) {
		t.Errorf("data = %x", data)
	}
}

func TestFile_Missing(t *testing.T) {
	src := &File{Path: filepath.Join(t.TempDir(), "absent.wasm")}
	_, err := src.Fetch(context.Background())
	if !errors.IsLoad(err) || !os.IsNotExist(unwrapAll(err)) {
		t.Errorf("err = %v, want load error wrapping not-exist", err)
	}
}

func unwrapAll(err error) error {
	for {
		e, ok := err.(*errors.Error)
		if !ok || e.Cause == nil {
			return err
		}
		err = e.Cause
	}
}

func TestFile_TooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.wasm")
	if err := os.WriteFile(path, make([]byte, 64), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := (&File{Path: path, MaxBytes: 16}).Fetch(context.Background())
	if err == nil || !strings.Contains(err.Error(), "exceeds 16 bytes") {
		t.Errorf("err = %v", err)
	}
}

func TestHTTP_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/wtd_rust_bg.wasm":
			w.Header().Set("Content-Type", "application/wasm")
			_, _ = w.Write(preamble)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src, err := Parse(srv.URL+"/wtd_rust_bg.wasm", Options{Client: srv.Client()})
	if err != nil {
		t.Fatal(err)
	}
	data, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(data) != len(preamble) {
		t.Errorf("len = %d", len(data))
	}

	missing, _ := Parse(srv.URL+"/missing.wasm", Options{Client: srv.Client()})
	_, err = missing.Fetch(context.Background())
	if !errors.IsLoad(err) || !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v, want load error with status", err)
	}
}

func TestHTTP_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(preamble)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &HTTP{URL: srv.URL, Client: srv.Client()}
	if _, err := src.Fetch(ctx); !errors.IsLoad(err) {
		t.Errorf("err = %v", err)
	}
}

func TestStatic_FetchCopies(t *testing.T) {
	data := append([]byte(nil), preamble...)
	src := Bytes("embedded", data)

	got, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got[0] = 0xff
	if data[0] != 0x00 {
		t.Error("Fetch returned the backing slice")
	}
	if src.Location() != "embedded" {
		t.Errorf("location = %q", src.Location())
	}
}
