// Copyright 2025 Esmero
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ami

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalFetcher resolves file tokens to paths under a spool directory.
// Three token shapes are understood, tried in order:
//
//   - an http(s) URL, downloaded into the spool
//   - a member of the set's attached archive, extracted into the spool
//   - a path relative to the base directory, used in place
//
// An unresolvable token yields ("", nil): missing files degrade the row,
// they do not fail it.
type LocalFetcher struct {
	// BaseDir anchors relative path tokens.
	BaseDir string

	// SpoolDir receives downloaded and extracted files.
	SpoolDir string

	// ZipPath optionally points at the set's attached archive.
	ZipPath string

	// Client is used for URL tokens; http.DefaultClient when nil.
	Client *http.Client
}

// Fetch implements FileFetcher.
func (f *LocalFetcher) Fetch(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", nil
	}

	if u, err := url.Parse(token); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return f.fetchURL(ctx, token)
	}
	if f.ZipPath != "" {
		if path, err := f.extractMember(token); err != nil {
			return "", err
		} else if path != "" {
			return path, nil
		}
	}
	return f.localPath(token)
}

func (f *LocalFetcher) fetchURL(ctx context.Context, rawURL string) (string, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request for %s: %w", rawURL, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// A 404 means the token names nothing; other statuses too. The
		// caller logs and moves on.
		return "", nil
	}

	name := filepath.Base(req.URL.Path)
	if name == "/" || name == "." || name == "" {
		name = fmt.Sprintf("download-%d", time.Now().UnixNano())
	}
	dest, err := f.spoolFile(name, resp.Body)
	if err != nil {
		return "", fmt.Errorf("spool %s: %w", rawURL, err)
	}
	return dest, nil
}

// extractMember pulls one archive member into the spool. A token that
// names no member returns ("", nil) so path resolution can still run.
func (f *LocalFetcher) extractMember(token string) (string, error) {
	zr, err := zip.OpenReader(f.ZipPath)
	if err != nil {
		return "", fmt.Errorf("open archive %s: %w", f.ZipPath, err)
	}
	defer zr.Close()

	want := strings.TrimPrefix(filepath.ToSlash(token), "./")
	for _, member := range zr.File {
		if member.Name != want {
			continue
		}
		rc, err := member.Open()
		if err != nil {
			return "", fmt.Errorf("open member %s: %w", member.Name, err)
		}
		defer rc.Close()

		dest, err := f.spoolFile(filepath.Base(member.Name), rc)
		if err != nil {
			return "", fmt.Errorf("extract member %s: %w", member.Name, err)
		}
		return dest, nil
	}
	return "", nil
}

// localPath resolves a relative token under BaseDir, rejecting escapes.
func (f *LocalFetcher) localPath(token string) (string, error) {
	base := f.BaseDir
	if base == "" {
		base = "."
	}
	clean := filepath.Clean(token)
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", nil
	}
	path := filepath.Join(base, clean)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	return path, nil
}

// spoolFile writes r into the spool directory and returns the path.
func (f *LocalFetcher) spoolFile(name string, r io.Reader) (string, error) {
	if err := os.MkdirAll(f.SpoolDir, 0755); err != nil {
		return "", err
	}
	dest := filepath.Join(f.SpoolDir, filepath.Base(name))
	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(dest)
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return dest, nil
}
