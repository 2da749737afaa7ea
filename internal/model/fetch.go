package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

type FetchOptions struct {
	// Source is an http(s) URL, a file:// URL or a local path.
	Source string
	// SHA256 is the expected archive checksum in hex. Empty skips the check.
	SHA256     string
	Dest       string
	HTTPClient *http.Client
	Stdout     io.Writer
}

// Fetch downloads (or opens) an archive, verifies its checksum and unpacks
// it into Dest. It returns the discovered model layout.
func Fetch(ctx context.Context, opts FetchOptions) (Layout, error) {
	if opts.Dest == "" {
		return Layout{}, errors.New("destination dir is required")
	}

	source := strings.TrimSpace(opts.Source)
	if source == "" {
		return Layout{}, errors.New("archive source is required")
	}

	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 0}
	}

	checksum := strings.ToLower(strings.TrimSpace(opts.SHA256))
	if checksum != "" && !isSHA256Hex(checksum) {
		return Layout{}, fmt.Errorf("invalid sha256 checksum %q", checksum)
	}

	tmpArchive, actualSHA, err := fetchArchive(ctx, opts.HTTPClient, source)
	if err != nil {
		return Layout{}, err
	}
	defer func() { _ = os.Remove(tmpArchive) }()

	if checksum != "" && checksum != actualSHA {
		return Layout{}, fmt.Errorf("archive checksum mismatch: expected %s got %s", checksum, actualSHA)
	}

	_, _ = fmt.Fprintf(opts.Stdout, "fetched %s sha256=%s\n", source, actualSHA)

	if err := Extract(tmpArchive, opts.Dest); err != nil {
		return Layout{}, err
	}

	_, _ = fmt.Fprintf(opts.Stdout, "extracted into %s\n", opts.Dest)

	return Discover(opts.Dest)
}

// fetchArchive copies the source into a temp file that keeps the source
// suffix, so Extract can still dispatch on it.
func fetchArchive(ctx context.Context, client *http.Client, source string) (string, string, error) {
	tmpFile, err := os.CreateTemp("", "onnxbridge-archive-*"+archiveSuffix(source))
	if err != nil {
		return "", "", fmt.Errorf("create temp archive file: %w", err)
	}

	tmpPath := tmpFile.Name()
	fail := func(err error) (string, string, error) {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return "", "", err
	}

	var reader io.ReadCloser
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return fail(fmt.Errorf("build archive request: %w", err))
		}

		// #nosec G107 -- the URL is an explicit caller argument.
		resp, err := client.Do(req)
		if err != nil {
			return fail(fmt.Errorf("archive download failed: %w", err))
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_ = resp.Body.Close()
			return fail(fmt.Errorf("archive download failed: %s", resp.Status))
		}

		reader = resp.Body
	} else {
		local := strings.TrimPrefix(source, "file://")

		fh, err := os.Open(local)
		if err != nil {
			return fail(fmt.Errorf("open local archive %q: %v: %w", local, err, ErrBadArchive))
		}

		reader = fh
	}
	defer func() { _ = reader.Close() }()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmpFile, h), reader); err != nil {
		return fail(fmt.Errorf("write temp archive file: %w", err))
	}

	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", "", fmt.Errorf("close temp archive file: %w", err)
	}

	return tmpPath, hex.EncodeToString(h.Sum(nil)), nil
}

func archiveSuffix(source string) string {
	if i := strings.IndexAny(source, "?#"); i >= 0 && strings.Contains(source, "://") {
		source = source[:i]
	}

	base := strings.ToLower(filepath.Base(source))
	for _, s := range []string{".tar.bz2", ".tbz2", ".tar.gz", ".tgz", ".zip"} {
		if strings.HasSuffix(base, s) {
			return s
		}
	}

	return ""
}

func isSHA256Hex(v string) bool {
	if len(v) != 64 {
		return false
	}

	_, err := hex.DecodeString(v)

	return err == nil
}
