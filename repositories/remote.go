// Copyright (C) 2025 the provhub authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package repositories

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"
)

// RemoteRepository is the wire contract against the remote versioned
// repository. Payloads are opaque blobs; callers treat any transport error
// as terminal for the invocation and rely on the next sync cycle to retry.
type RemoteRepository interface {
	Checkout(ctx context.Context, version int64) ([]byte, error)
	Commit(ctx context.Context, blob []byte, fromVersion int64) error
	GetRange(ctx context.Context) (low int64, high int64, err error)
	// Location identifies the remote for set-uniqueness bookkeeping.
	Location() string
}

// HTTPRemote talks the repository protocol over HTTP:
//
//	GET  {base}/repository/checkout?customer=&name=&version=
//	POST {base}/repository/commit?customer=&name=&version=
//	GET  {base}/repository/query?customer=&name=
//
// Concurrent checkouts of the same version are collapsed into one request.
type HTTPRemote struct {
	baseURL  string
	customer string
	name     string
	client   *http.Client
	group    singleflight.Group
}

func NewHTTPRemote(baseURL, customer, name string, client *http.Client) *HTTPRemote {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRemote{
		baseURL:  strings.TrimRight(baseURL, "/"),
		customer: customer,
		name:     name,
		client:   client,
	}
}

func (r *HTTPRemote) Location() string {
	return r.baseURL
}

func (r *HTTPRemote) query(params url.Values) string {
	params.Set("customer", r.customer)
	params.Set("name", r.name)
	return params.Encode()
}

func (r *HTTPRemote) Checkout(ctx context.Context, version int64) ([]byte, error) {
	key := strconv.FormatInt(version, 10)
	blob, err, _ := r.group.Do(key, func() (any, error) {
		params := url.Values{}
		params.Set("version", strconv.FormatInt(version, 10))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			r.baseURL+"/repository/checkout?"+r.query(params), nil)
		if err != nil {
			return nil, err
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("checkout of version %d failed: %w", version, err)
		}
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK:
			return io.ReadAll(resp.Body)
		case http.StatusNotFound:
			return nil, fmt.Errorf("%w: version %d", ErrNoSuchVersion, version)
		default:
			return nil, fmt.Errorf("checkout of version %d failed with status %d", version, resp.StatusCode)
		}
	})
	if err != nil {
		return nil, err
	}
	return blob.([]byte), nil
}

func (r *HTTPRemote) Commit(ctx context.Context, blob []byte, fromVersion int64) error {
	params := url.Values{}
	params.Set("version", strconv.FormatInt(fromVersion, 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/repository/commit?"+r.query(params), bytes.NewReader(blob))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("commit from version %d failed: %w", fromVersion, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusConflict:
		return fmt.Errorf("%w: commit based on version %d", ErrConflict, fromVersion)
	default:
		return fmt.Errorf("commit from version %d failed with status %d", fromVersion, resp.StatusCode)
	}
}

func (r *HTTPRemote) GetRange(ctx context.Context) (int64, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		r.baseURL+"/repository/query?"+r.query(url.Values{}), nil)
	if err != nil {
		return 0, 0, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("range query failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("range query failed with status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, err
	}
	return parseRangeLine(string(body))
}

// parseRangeLine parses a "customer,name,low-high" query response line.
func parseRangeLine(line string) (int64, int64, error) {
	line = strings.TrimSpace(line)
	parts := strings.Split(line, ",")
	rangePart := parts[len(parts)-1]
	bounds := strings.SplitN(rangePart, "-", 2)
	if len(bounds) != 2 {
		return 0, 0, fmt.Errorf("malformed version range %q", rangePart)
	}
	low, err := strconv.ParseInt(bounds[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed version range %q: %w", rangePart, err)
	}
	high, err := strconv.ParseInt(bounds[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed version range %q: %w", rangePart, err)
	}
	return low, high, nil
}

// LocalRemote adapts a BlobStore to the RemoteRepository interface for
// single-node deployments and tests.
type LocalRemote struct {
	store    *BlobStore
	customer string
	name     string
}

func NewLocalRemote(store *BlobStore, customer, name string) *LocalRemote {
	return &LocalRemote{store: store, customer: customer, name: name}
}

func (r *LocalRemote) Location() string {
	return "local:" + r.customer + "/" + r.name
}

func (r *LocalRemote) Checkout(_ context.Context, version int64) ([]byte, error) {
	return r.store.Checkout(r.customer, r.name, version)
}

func (r *LocalRemote) Commit(_ context.Context, blob []byte, fromVersion int64) error {
	_, err := r.store.Commit(r.customer, r.name, blob, fromVersion)
	return err
}

func (r *LocalRemote) GetRange(_ context.Context) (int64, int64, error) {
	low, high := r.store.Range(r.customer, r.name)
	return low, high, nil
}
