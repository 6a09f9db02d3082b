// Copyright 2025 Esmero
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package ami

import (
	"archive/zip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchLocalPath(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "images"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "images", "cover.jpg"), []byte("jpeg"), 0644))

	f := &LocalFetcher{BaseDir: base, SpoolDir: t.TempDir()}

	got, err := f.Fetch(context.Background(), "images/cover.jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "images", "cover.jpg"), got)

	// Missing files and escapes resolve to nothing, not errors.
	got, err = f.Fetch(context.Background(), "images/missing.jpg")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.Fetch(context.Background(), "../outside.jpg")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFetchURLSpools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/files/cover.jpg" {
			_, _ = w.Write([]byte("jpeg-bytes"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	spool := t.TempDir()
	f := &LocalFetcher{BaseDir: t.TempDir(), SpoolDir: spool, Client: srv.Client()}

	got, err := f.Fetch(context.Background(), srv.URL+"/files/cover.jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(spool, "cover.jpg"), got)
	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	// A 404 is an unresolved token, not a failure.
	got, err = f.Fetch(context.Background(), srv.URL+"/files/nope.jpg")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFetchZipMember(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "payload.zip")
	zf, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(zf)
	w, err := zw.Create("scans/page1.tiff")
	require.NoError(t, err)
	_, err = w.Write([]byte("tiff-bytes"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, zf.Close())

	spool := t.TempDir()
	f := &LocalFetcher{BaseDir: dir, SpoolDir: spool, ZipPath: zipPath}

	got, err := f.Fetch(context.Background(), "scans/page1.tiff")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(spool, "page1.tiff"), got)
	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "tiff-bytes", string(data))

	// Non-members fall through to (failed) path resolution.
	got, err = f.Fetch(context.Background(), "scans/missing.tiff")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFetchEmptyToken(t *testing.T) {
	f := &LocalFetcher{BaseDir: t.TempDir(), SpoolDir: t.TempDir()}
	got, err := f.Fetch(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, got)
}
