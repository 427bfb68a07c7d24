// Package http provides atoms that fetch remote resources.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/openfroyo/manifold/pkg/atoms"
)

// DefaultTimeout bounds a single download.
const DefaultTimeout = 5 * time.Minute

// Download fetches URL into Path when Path does not exist.
type Download struct {
	URL  string
	Path string

	// Client is used for the request, a client with DefaultTimeout when nil.
	Client *nethttp.Client
}

var _ atoms.Atom = (*Download)(nil)

// StatusError reports a non-success HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download %s: unexpected status %d", e.URL, e.StatusCode)
}

func (d *Download) String() string {
	return fmt.Sprintf("HttpDownload %s to %s", d.URL, d.Path)
}

// Plan reports ShouldRun when the destination is missing.
func (d *Download) Plan() (atoms.Outcome, error) {
	_, err := os.Stat(d.Path)
	if err == nil {
		return atoms.Skip(), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return atoms.Outcome{}, fmt.Errorf("failed to stat %s: %w", d.Path, err)
	}
	return atoms.Run(
		atoms.SideEffect{Kind: atoms.SideEffectNetwork, Description: "fetch " + d.URL},
		atoms.SideEffect{Kind: atoms.SideEffectWrite, Description: "write " + d.Path},
	), nil
}

// Execute downloads the resource. The destination only appears once the
// transfer completed.
func (d *Download) Execute(ctx context.Context) error {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, d.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.client().Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", d.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: d.URL, StatusCode: resp.StatusCode}
	}

	tmp, err := os.CreateTemp(filepath.Dir(d.Path), "."+filepath.Base(d.Path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", d.Path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", d.Path, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to set mode: %w", err)
	}
	if err := os.Rename(tmpName, d.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move download into place: %w", err)
	}

	return nil
}

func (d *Download) client() *nethttp.Client {
	if d.Client != nil {
		return d.Client
	}
	return &nethttp.Client{Timeout: DefaultTimeout}
}
