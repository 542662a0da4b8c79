package paste

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/dtroode/pastedb/internal/model"
)

const dpasteURL = "https://dpaste.org"

// DPaste stores blobs on dpaste.org.
type DPaste struct {
	client
}

var (
	_ model.Backend = (*DPaste)(nil)
	_ model.Pinger  = (*DPaste)(nil)
)

// NewDPaste creates a dpaste adapter.
func NewDPaste(opts ...Option) *DPaste {
	return &DPaste{client: newClient("dpaste", dpasteURL, opts...)}
}

// Store uploads content and returns the paste id.
func (d *DPaste) Store(ctx context.Context, content []byte, _ string) (string, error) {
	form := url.Values{}
	form.Set("content", string(content))
	form.Set("syntax", "json")

	body, err := d.postForm(ctx, "/api/", form)
	if err != nil {
		return "", model.NewBackendError(d.name, "store", err)
	}

	id, err := parseDPasteCreate(d.baseURL, body)
	if err != nil {
		return "", model.NewBackendError(d.name, "store", err)
	}
	return id, nil
}

// Fetch returns the raw content of a paste.
func (d *DPaste) Fetch(ctx context.Context, id string) ([]byte, error) {
	body, err := d.get(ctx, "/"+escapeID(id)+"/raw")
	if err != nil {
		return nil, model.NewBackendError(d.name, "fetch", err)
	}
	return body, nil
}

// parseDPasteCreate extracts the id from the plain-text URL dpaste answers with.
func parseDPasteCreate(baseURL string, body []byte) (string, error) {
	location := strings.Trim(strings.TrimSpace(string(body)), `"`)
	if !strings.HasPrefix(location, baseURL+"/") {
		return "", fmt.Errorf("%w: unexpected response %q", model.ErrMalformedResponse, location)
	}
	id := lastSegment(location)
	if id == "" {
		return "", fmt.Errorf("%w: empty paste id", model.ErrMalformedResponse)
	}
	return id, nil
}
