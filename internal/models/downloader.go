// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/AthunSujith/echoversa/internal/faults"
)

// Progress reports download advancement to the caller. Total is zero when
// the server does not announce a content length.
type Progress struct {
	Model      string
	Downloaded int64
	Total      int64
}

// ProgressFunc receives download progress. It must be fast; it is called on
// the download goroutine.
type ProgressFunc func(Progress)

const (
	partialSuffix = ".partial"
	weightsFile   = "model.bin"
	checksumFile  = "model.bin.sha256"

	// integrityRetries bounds re-downloads after a checksum mismatch
	// before the failure escalates.
	integrityRetries = 2

	progressInterval = 500 * time.Millisecond
)

// Downloader fetches model weights into a local cache with resume and
// checksum verification.
type Downloader struct {
	cacheDir string
	client   *http.Client
	baseURL  string
}

// NewDownloader creates a downloader rooted at cacheDir. baseURL is the
// artifact host; the spec's repo id is appended to it.
func NewDownloader(cacheDir, baseURL string, client *http.Client) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: 0} // per-request contexts bound time
	}
	if baseURL == "" {
		baseURL = "https://huggingface.co"
	}
	return &Downloader{cacheDir: cacheDir, client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// ModelDir returns the cache directory for a model.
func (d *Downloader) ModelDir(name string) string {
	return filepath.Join(d.cacheDir, safeName(name))
}

// ModelPath returns where a model's weights live once downloaded.
func (d *Downloader) ModelPath(name string) string {
	return filepath.Join(d.ModelDir(name), weightsFile)
}

// Downloaded reports whether a model's weights are present and, when a
// checksum is recorded, verified.
func (d *Downloader) Downloaded(spec Spec) bool {
	path := d.ModelPath(spec.Name)
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return false
	}
	expected := d.expectedChecksum(spec)
	if expected == "" {
		return true
	}
	sum, err := hashFile(path)
	return err == nil && sum == expected
}

// ListDownloaded returns the names of models with weights in the cache.
func (d *Downloader) ListDownloaded() []string {
	entries, err := os.ReadDir(d.cacheDir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if info, err := os.Stat(filepath.Join(d.cacheDir, e.Name(), weightsFile)); err == nil && info.Size() > 0 {
			out = append(out, e.Name())
		}
	}
	return out
}

// Delete removes a model's cache directory.
func (d *Downloader) Delete(name string) error {
	return os.RemoveAll(d.ModelDir(name))
}

// Ensure makes a model's weights available locally and returns their path.
// An existing verified file returns immediately. A partial file resumes via
// an HTTP Range request. A checksum mismatch discards the file and retries a
// bounded number of times; exhausting the retries fails with a resource
// error so the caller falls over instead of retrying further.
func (d *Downloader) Ensure(ctx context.Context, spec Spec, progress ProgressFunc) (string, error) {
	dir := d.ModelDir(spec.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", faults.Wrap(faults.Resource, spec.Name, "cannot create model cache directory", err)
	}

	path := d.ModelPath(spec.Name)
	expected := d.expectedChecksum(spec)

	if d.Downloaded(spec) {
		log.WithField("model", spec.Name).Debug("Model already cached")
		return path, nil
	}

	url := d.artifactURL(spec)
	var lastErr error
	for attempt := 0; attempt <= integrityRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		if err := d.fetch(ctx, spec.Name, url, path, progress); err != nil {
			return "", err
		}

		if expected == "" {
			return path, d.writeChecksumSidecar(path)
		}
		sum, err := hashFile(path)
		if err != nil {
			return "", faults.Wrap(faults.Resource, spec.Name, "cannot hash downloaded weights", err)
		}
		if sum == expected {
			return path, nil
		}

		lastErr = faults.New(faults.Integrity, spec.Name,
			fmt.Sprintf("checksum mismatch for %s: got %s, want %s", spec.Name, sum, expected))
		log.WithFields(log.Fields{"model": spec.Name, "attempt": attempt + 1}).Warn("Checksum mismatch, discarding download")
		os.Remove(path)
	}

	// Every re-download failed verification: the artifact source itself is
	// unusable, which the chain treats as a resource failure rather than a
	// retryable one.
	return "", faults.Wrap(faults.Resource, spec.Name, "model weights failed verification after retries", lastErr)
}

// fetch downloads url into path, resuming from an existing partial file.
func (d *Downloader) fetch(ctx context.Context, model, url, path string, progress ProgressFunc) error {
	partial := path + partialSuffix

	var offset int64
	if info, err := os.Stat(partial); err == nil {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return faults.Wrap(faults.Fatal, model, "bad artifact url", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return faults.Wrap(faults.Transient, model, "download request failed", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Server ignored the range; restart from zero.
		offset = 0
	case http.StatusPartialContent:
	case http.StatusRequestedRangeNotSatisfiable:
		// Partial file is at least as long as the artifact; treat it as
		// complete and let the checksum decide.
		return os.Rename(partial, path)
	default:
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return faults.Transientf(model, "artifact host returned status %d", resp.StatusCode)
		}
		return faults.Fatalf(model, "artifact host returned status %d", resp.StatusCode)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(partial, flags, 0o644)
	if err != nil {
		return faults.Wrap(faults.Resource, model, "cannot open partial file", err)
	}

	total := offset
	if resp.ContentLength > 0 {
		total = offset + resp.ContentLength
	}

	downloaded := offset
	lastReport := time.Time{}
	report := func(force bool) {
		if progress == nil {
			return
		}
		if force || time.Since(lastReport) >= progressInterval {
			lastReport = time.Now()
			progress(Progress{Model: model, Downloaded: downloaded, Total: total})
		}
	}
	report(true)

	buf := make([]byte, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			f.Close()
			return err
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				return faults.Wrap(faults.Resource, model, "cannot write weights to disk", werr)
			}
			downloaded += int64(n)
			report(false)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			// Keep the partial file so the next attempt resumes.
			return faults.Wrap(faults.Transient, model, "download interrupted", readErr)
		}
	}
	if err := f.Close(); err != nil {
		return faults.Wrap(faults.Resource, model, "cannot finalize weights file", err)
	}
	report(true)

	return os.Rename(partial, path)
}

// expectedChecksum returns the spec's checksum, falling back to a sidecar
// file written by a previous run.
func (d *Downloader) expectedChecksum(spec Spec) string {
	if spec.SHA256 != "" {
		return strings.ToLower(spec.SHA256)
	}
	data, err := os.ReadFile(filepath.Join(d.ModelDir(spec.Name), checksumFile))
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(string(data)))
}

// writeChecksumSidecar records the hash of a freshly downloaded file so
// later runs can verify the cache even without a spec checksum.
func (d *Downloader) writeChecksumSidecar(path string) error {
	sum, err := hashFile(path)
	if err != nil {
		return nil
	}
	return os.WriteFile(filepath.Join(filepath.Dir(path), checksumFile), []byte(sum+"\n"), 0o644)
}

func (d *Downloader) artifactURL(spec Spec) string {
	return fmt.Sprintf("%s/%s/resolve/main/%s", d.baseURL, spec.RepoID, weightsFile)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// safeName keeps cache directory names filesystem-friendly.
func safeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
