package paste

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/dtroode/pastedb/internal/model"
)

const pasteeeURL = "https://paste.ee"

// PasteEe stores blobs on paste.ee.
type PasteEe struct {
	client
	apiKey string
}

var (
	_ model.Backend = (*PasteEe)(nil)
	_ model.Pinger  = (*PasteEe)(nil)
)

// NewPasteEe creates a paste.ee adapter. The public key is used when apiKey is empty.
func NewPasteEe(apiKey string, opts ...Option) *PasteEe {
	if apiKey == "" {
		apiKey = "public"
	}
	return &PasteEe{client: newClient("pasteee", pasteeeURL, opts...), apiKey: apiKey}
}

// Store uploads content and returns the paste id.
func (p *PasteEe) Store(ctx context.Context, content []byte, title string) (string, error) {
	form := url.Values{}
	form.Set("key", p.apiKey)
	form.Set("description", title)
	form.Set("paste", string(content))
	form.Set("format", "json")
	form.Set("expire", "1Y")
	form.Set("privacy", "0")

	body, err := p.postForm(ctx, "/api", form)
	if err != nil {
		return "", model.NewBackendError(p.name, "store", err)
	}

	id, err := parsePasteEeCreate(body)
	if err != nil {
		return "", model.NewBackendError(p.name, "store", err)
	}
	return id, nil
}

// Fetch returns the raw content of a paste.
func (p *PasteEe) Fetch(ctx context.Context, id string) ([]byte, error) {
	body, err := p.get(ctx, "/r/"+escapeID(id))
	if err != nil {
		return nil, model.NewBackendError(p.name, "fetch", err)
	}
	return body, nil
}

type pasteEeResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
	Error  string `json:"error"`
}

func parsePasteEeCreate(body []byte) (string, error) {
	var resp pasteEeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrMalformedResponse, err)
	}
	if resp.Status != "success" {
		if resp.Error != "" {
			return "", fmt.Errorf("paste rejected: %s", resp.Error)
		}
		return "", fmt.Errorf("paste rejected with status %q", resp.Status)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%w: empty paste id", model.ErrMalformedResponse)
	}
	return resp.ID, nil
}
