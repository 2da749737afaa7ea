package model

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func fixtureSHA(t *testing.T, name string) (string, []byte) {
	t.Helper()

	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:]), data
}

func TestFetch_HTTP(t *testing.T) {
	sum, data := fixtureSHA(t, "model.tar.bz2")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	var out bytes.Buffer

	l, err := Fetch(context.Background(), FetchOptions{
		Source: srv.URL + "/sherpa-model.tar.bz2?download=1",
		SHA256: strings.ToUpper(sum),
		Dest:   t.TempDir(),
		Stdout: &out,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if l.Manifest == "" || l.Tokens == "" {
		t.Errorf("layout = %+v", l)
	}

	if !strings.Contains(out.String(), sum) {
		t.Errorf("stdout = %q; want checksum", out.String())
	}
}

func TestFetch_LocalPathWithoutSuffix(t *testing.T) {
	_, data := fixtureSHA(t, "model.tar.gz")

	src := filepath.Join(t.TempDir(), "archive")
	if err := os.WriteFile(src, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	l, err := Fetch(context.Background(), FetchOptions{Source: "file://" + src, Dest: t.TempDir()})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if l.Manifest == "" {
		t.Errorf("layout = %+v; want manifest", l)
	}
}

func TestFetch_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	tests := []struct {
		name string
		opts FetchOptions
	}{
		{"no dest", FetchOptions{Source: "testdata/model.tar.bz2"}},
		{"no source", FetchOptions{Dest: "out"}},
		{"bad checksum format", FetchOptions{Source: "testdata/model.tar.bz2", Dest: "out", SHA256: "xyz"}},
		{"checksum mismatch", FetchOptions{Source: "testdata/model.tar.bz2", SHA256: strings.Repeat("0", 64)}},
		{"http 404", FetchOptions{Source: srv.URL + "/missing.tar.bz2"}},
		{"missing file", FetchOptions{Source: "testdata/missing.tar.bz2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.opts.Dest == "" && tt.name != "no dest" {
				tt.opts.Dest = t.TempDir()
			}

			if tt.opts.Dest == "out" {
				tt.opts.Dest = filepath.Join(t.TempDir(), "out")
			}

			if _, err := Fetch(context.Background(), tt.opts); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestArchiveSuffix(t *testing.T) {
	tests := map[string]string{
		"https://host/a/model.tar.bz2?x=1": ".tar.bz2",
		"/tmp/model.TGZ":                   ".tgz",
		"file:///tmp/m.zip":                ".zip",
		"/tmp/blob":                        "",
	}

	for in, want := range tests {
		if got := archiveSuffix(in); got != want {
			t.Errorf("archiveSuffix(%q) = %q; want %q", in, got, want)
		}
	}
}
