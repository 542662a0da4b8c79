package paste

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/dtroode/pastedb/internal/model"
)

const justpasteURL = "https://justpaste.it"

// JustPaste stores blobs on justpaste.it.
type JustPaste struct {
	client
}

var (
	_ model.Backend = (*JustPaste)(nil)
	_ model.Pinger  = (*JustPaste)(nil)
)

// NewJustPaste creates a justpaste adapter.
func NewJustPaste(opts ...Option) *JustPaste {
	return &JustPaste{client: newClient("justpaste", justpasteURL, opts...)}
}

// Store uploads content and returns the paste id.
func (j *JustPaste) Store(ctx context.Context, content []byte, title string) (string, error) {
	form := url.Values{}
	form.Set("body", string(content))
	form.Set("title", title)

	body, err := j.postForm(ctx, "/api/create", form)
	if err != nil {
		return "", model.NewBackendError(j.name, "store", err)
	}

	id, err := parseJustPasteCreate(body)
	if err != nil {
		return "", model.NewBackendError(j.name, "store", err)
	}
	return id, nil
}

// Fetch returns the raw content of a paste.
func (j *JustPaste) Fetch(ctx context.Context, id string) ([]byte, error) {
	body, err := j.get(ctx, "/"+escapeID(id)+"/raw")
	if err != nil {
		return nil, model.NewBackendError(j.name, "fetch", err)
	}
	return body, nil
}

func parseJustPasteCreate(body []byte) (string, error) {
	var resp struct {
		Success bool   `json:"success"`
		ID      string `json:"id"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrMalformedResponse, err)
	}
	if !resp.Success {
		if resp.Error != "" {
			return "", fmt.Errorf("paste rejected: %s", resp.Error)
		}
		return "", fmt.Errorf("paste rejected")
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%w: empty paste id", model.ErrMalformedResponse)
	}
	return resp.ID, nil
}
