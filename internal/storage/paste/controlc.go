package paste

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"regexp"

	"github.com/dtroode/pastedb/internal/model"
)

const controlcURL = "https://controlc.com"

var textareaPattern = regexp.MustCompile(`<textarea[^>]*>([\s\S]*?)</textarea>`)

// ControlC stores blobs on controlc.com. The service has no JSON API, so
// creation and retrieval scrape HTML.
type ControlC struct {
	client
	idPattern *regexp.Regexp
}

var (
	_ model.Backend = (*ControlC)(nil)
	_ model.Pinger  = (*ControlC)(nil)
)

// NewControlC creates a controlc adapter.
func NewControlC(opts ...Option) *ControlC {
	c := &ControlC{client: newClient("controlc", controlcURL, opts...)}
	c.idPattern = controlcIDPattern(c.baseURL)
	return c
}

func controlcIDPattern(baseURL string) *regexp.Regexp {
	host := "controlc.com"
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return regexp.MustCompile(regexp.QuoteMeta(host) + `/([a-zA-Z0-9]+)`)
}

// Store submits the paste form and scrapes the resulting id.
func (c *ControlC) Store(ctx context.Context, content []byte, title string) (string, error) {
	if title == "" {
		title = defaultTitle
	}
	form := url.Values{}
	form.Set("input_text", string(content))
	form.Set("input_name", title)
	form.Set("input_expire", "1Y")
	form.Set("input_private", "public")

	body, err := c.postForm(ctx, "/index.php", form)
	if err != nil {
		return "", model.NewBackendError(c.name, "store", err)
	}

	id, err := parseControlCCreate(c.idPattern, body)
	if err != nil {
		return "", model.NewBackendError(c.name, "store", err)
	}
	return id, nil
}

// Fetch loads the paste page and extracts the textarea content.
func (c *ControlC) Fetch(ctx context.Context, id string) ([]byte, error) {
	body, err := c.get(ctx, "/"+escapeID(id))
	if err != nil {
		return nil, model.NewBackendError(c.name, "fetch", err)
	}

	content, err := parseControlCPage(body)
	if err != nil {
		return nil, model.NewBackendError(c.name, "fetch", err)
	}
	return content, nil
}

func parseControlCCreate(pattern *regexp.Regexp, body []byte) (string, error) {
	m := pattern.FindSubmatch(body)
	if m == nil {
		return "", fmt.Errorf("%w: no paste link in response", model.ErrMalformedResponse)
	}
	return string(m[1]), nil
}

func parseControlCPage(body []byte) ([]byte, error) {
	m := textareaPattern.FindSubmatch(body)
	if m == nil {
		return nil, fmt.Errorf("%w: no paste content in page", model.ErrMalformedResponse)
	}
	return []byte(html.UnescapeString(string(m[1]))), nil
}
