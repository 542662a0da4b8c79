package paste

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/dtroode/pastedb/internal/model"
)

const pastebinComURL = "https://pastebin.com"

// PastebinCom stores blobs on pastebin.com.
type PastebinCom struct {
	client
	devKey string
}

var (
	_ model.Backend = (*PastebinCom)(nil)
	_ model.Pinger  = (*PastebinCom)(nil)
)

// NewPastebinCom creates a pastebin.com adapter. The public key is used when devKey is empty.
func NewPastebinCom(devKey string, opts ...Option) *PastebinCom {
	if devKey == "" {
		devKey = "public"
	}
	return &PastebinCom{client: newClient("pastebincom", pastebinComURL, opts...), devKey: devKey}
}

// Store uploads content as a public paste and returns its id.
func (p *PastebinCom) Store(ctx context.Context, content []byte, title string) (string, error) {
	if title == "" {
		title = defaultTitle
	}
	form := url.Values{}
	form.Set("api_dev_key", p.devKey)
	form.Set("api_option", "paste")
	form.Set("api_paste_code", string(content))
	form.Set("api_paste_name", title)
	form.Set("api_paste_format", "json")
	form.Set("api_paste_private", "0")
	form.Set("api_paste_expire_date", "1Y")

	body, err := p.postForm(ctx, "/api/api_post.php", form)
	if err != nil {
		return "", model.NewBackendError(p.name, "store", err)
	}

	id, err := parsePastebinComCreate(body)
	if err != nil {
		return "", model.NewBackendError(p.name, "store", err)
	}
	return id, nil
}

// Fetch returns the raw content of a paste.
func (p *PastebinCom) Fetch(ctx context.Context, id string) ([]byte, error) {
	body, err := p.get(ctx, "/raw/"+escapeID(id))
	if err != nil {
		return nil, model.NewBackendError(p.name, "fetch", err)
	}
	return body, nil
}

// parsePastebinComCreate accepts a paste URL. Anything else is the API's error text.
func parsePastebinComCreate(body []byte) (string, error) {
	text := strings.TrimSpace(string(body))
	if !strings.HasPrefix(text, "http") {
		if text == "" {
			return "", fmt.Errorf("%w: empty response", model.ErrMalformedResponse)
		}
		return "", fmt.Errorf("paste rejected: %s", text)
	}
	id := lastSegment(text)
	if id == "" || strings.HasPrefix(id, "http") {
		return "", fmt.Errorf("%w: unexpected response %q", model.ErrMalformedResponse, text)
	}
	return id, nil
}
