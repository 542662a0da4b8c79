package paste

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dtroode/pastedb/internal/model"
)

const hastebinURL = "https://hastebin.com"

// Hastebin stores blobs on a hastebin-compatible server.
type Hastebin struct {
	client
}

var (
	_ model.Backend = (*Hastebin)(nil)
	_ model.Pinger  = (*Hastebin)(nil)
)

// NewHastebin creates a hastebin adapter.
func NewHastebin(opts ...Option) *Hastebin {
	return &Hastebin{client: newClient("hastebin", hastebinURL, opts...)}
}

// Store uploads content and returns the document key. Hastebin has no titles.
func (h *Hastebin) Store(ctx context.Context, content []byte, _ string) (string, error) {
	body, err := h.postText(ctx, "/documents", content)
	if err != nil {
		return "", model.NewBackendError(h.name, "store", err)
	}

	id, err := parseHastebinCreate(body)
	if err != nil {
		return "", model.NewBackendError(h.name, "store", err)
	}
	return id, nil
}

// Fetch returns the raw content of a document.
func (h *Hastebin) Fetch(ctx context.Context, id string) ([]byte, error) {
	body, err := h.get(ctx, "/raw/"+escapeID(id))
	if err != nil {
		return nil, model.NewBackendError(h.name, "fetch", err)
	}
	return body, nil
}

func parseHastebinCreate(body []byte) (string, error) {
	var resp struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrMalformedResponse, err)
	}
	if resp.Key == "" {
		return "", fmt.Errorf("%w: missing key", model.ErrMalformedResponse)
	}
	return resp.Key, nil
}
