package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/net/html"
)

// TokenFieldName is the hidden form input the page embeds its anti-forgery token in.
const TokenFieldName = "csrfmiddlewaretoken"

type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken always returns the same token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("empty csrf token")
	}
	return string(s), nil
}

// PageTokenSource loads a page and reads the token out of its hidden form field. The token is
// kept until Reset is called.
type PageTokenSource struct {
	client  *http.Client
	pageURL string

	mu    sync.Mutex
	token string
}

func NewPageTokenSource(client *http.Client, pageURL string) *PageTokenSource {
	return &PageTokenSource{client: client, pageURL: pageURL}
}

func (p *PageTokenSource) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" {
		return p.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to get page: unexpected status code: %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse page: %w", err)
	}
	token, ok := findToken(doc)
	if !ok {
		return "", fmt.Errorf("no %s field on %s", TokenFieldName, p.pageURL)
	}
	p.token = token
	return token, nil
}

// Reset drops the cached token so the next call reloads the page.
func (p *PageTokenSource) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
}

func findToken(n *html.Node) (string, bool) {
	if n.Type == html.ElementNode && n.Data == "input" {
		var name, value string
		for _, a := range n.Attr {
			switch a.Key {
			case "name":
				name = a.Val
			case "value":
				value = a.Val
			}
		}
		if name == TokenFieldName && value != "" {
			return value, true
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if token, ok := findToken(c); ok {
			return token, true
		}
	}
	return "", false
}
