// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AthunSujith/echoversa/internal/faults"
)

func sum(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// artifactServer serves body at any path, honoring Range requests.
func artifactServer(body []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data := body
		if rng := r.Header.Get("Range"); rng != "" {
			var offset int64
			fmt.Sscanf(rng, "bytes=%d-", &offset)
			if offset >= int64(len(data)) {
				w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
				return
			}
			w.Header().Set("Content-Range",
				fmt.Sprintf("bytes %d-%d/%d", offset, len(data)-1, len(data)))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(data[offset:])
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}))
}

func testSpec(body []byte) Spec {
	return Spec{Name: "test-model", SizeGB: 0.001, MinRAMGB: 1, Hardware: CPUOnly,
		RepoID: "acme/test-model", SHA256: sum(body)}
}

func TestEnsureDownloadsAndVerifies(t *testing.T) {
	body := []byte(strings.Repeat("weights!", 1024))
	srv := artifactServer(body)
	defer srv.Close()

	d := NewDownloader(t.TempDir(), srv.URL, srv.Client())

	var events []Progress
	path, err := d.Ensure(context.Background(), testSpec(body), func(p Progress) {
		events = append(events, p)
	})
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	require.NotEmpty(t, events, "progress callback never fired")
	last := events[len(events)-1]
	assert.Equal(t, int64(len(body)), last.Downloaded)
	assert.Equal(t, int64(len(body)), last.Total)
}

func TestEnsureCachedReturnsImmediately(t *testing.T) {
	body := []byte("cached-weights")
	srv := artifactServer(body)
	d := NewDownloader(t.TempDir(), srv.URL, srv.Client())
	spec := testSpec(body)

	_, err := d.Ensure(context.Background(), spec, nil)
	require.NoError(t, err)
	srv.Close() // second call must not touch the network

	path, err := d.Ensure(context.Background(), spec, nil)
	require.NoError(t, err)
	assert.True(t, d.Downloaded(spec))
	assert.FileExists(t, path)
}

func TestEnsureResumesPartial(t *testing.T) {
	body := []byte(strings.Repeat("0123456789", 2048))
	var sawRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawRange = r.Header.Get("Range")
		var offset int64
		fmt.Sscanf(sawRange, "bytes=%d-", &offset)
		w.Header().Set("Content-Range",
			fmt.Sprintf("bytes %d-%d/%d", offset, len(body)-1, len(body)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[offset:])
	}))
	defer srv.Close()

	d := NewDownloader(t.TempDir(), srv.URL, srv.Client())
	spec := testSpec(body)

	// Simulate an interrupted earlier download.
	require.NoError(t, os.MkdirAll(d.ModelDir(spec.Name), 0o755))
	half := body[:len(body)/2]
	require.NoError(t, os.WriteFile(d.ModelPath(spec.Name)+partialSuffix, half, 0o644))

	path, err := d.Ensure(context.Background(), spec, nil)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("bytes=%d-", len(half)), sawRange)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestEnsureChecksumMismatchBoundedRetries(t *testing.T) {
	body := []byte("corrupted-every-time")
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write(body)
	}))
	defer srv.Close()

	d := NewDownloader(t.TempDir(), srv.URL, srv.Client())
	spec := testSpec(body)
	spec.SHA256 = strings.Repeat("0", 64) // never matches

	_, err := d.Ensure(context.Background(), spec, nil)
	require.Error(t, err)
	assert.Equal(t, faults.Resource, faults.KindOf(err), "exhausted verification escalates past retryable")
	assert.Contains(t, err.Error(), "checksum mismatch")
	assert.Equal(t, 1+integrityRetries, hits, "bounded re-download attempts")

	_, statErr := os.Stat(d.ModelPath(spec.Name))
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "corrupt file must be discarded")
}

func TestEnsureServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewDownloader(t.TempDir(), srv.URL, srv.Client())
	_, err := d.Ensure(context.Background(), testSpec([]byte("x")), nil)
	require.Error(t, err)
	assert.Equal(t, faults.Transient, faults.KindOf(err))
}

func TestEnsureNotFoundIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	d := NewDownloader(t.TempDir(), srv.URL, srv.Client())
	_, err := d.Ensure(context.Background(), testSpec([]byte("x")), nil)
	require.Error(t, err)
	assert.Equal(t, faults.Fatal, faults.KindOf(err))
}

func TestSidecarVerifiesWhenSpecHasNoChecksum(t *testing.T) {
	body := []byte("no-declared-checksum")
	srv := artifactServer(body)
	defer srv.Close()

	d := NewDownloader(t.TempDir(), srv.URL, srv.Client())
	spec := testSpec(body)
	spec.SHA256 = ""

	path, err := d.Ensure(context.Background(), spec, nil)
	require.NoError(t, err)

	assert.True(t, d.Downloaded(spec), "sidecar should verify the cache")

	// Corrupt the cached file; the sidecar must now reject it.
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o644))
	assert.False(t, d.Downloaded(spec))
}

func TestListDownloadedAndDelete(t *testing.T) {
	body := []byte("w")
	srv := artifactServer(body)
	defer srv.Close()

	d := NewDownloader(t.TempDir(), srv.URL, srv.Client())
	spec := testSpec(body)

	assert.Empty(t, d.ListDownloaded())
	_, err := d.Ensure(context.Background(), spec, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"test-model"}, d.ListDownloaded())

	require.NoError(t, d.Delete(spec.Name))
	assert.Empty(t, d.ListDownloaded())
}
