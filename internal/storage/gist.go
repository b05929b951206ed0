package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"
)

const (
	gistAPIURL    = "https://api.github.com/gists"
	gistTimeout   = 15 * time.Second
	base64Suffix  = ".b64"
	githubAccept  = "application/vnd.github.v3+json"
	maxGistObject = 10 << 20
)

// GistStore keeps each object as a file in a single private GitHub Gist.
// Binary objects are stored base64-encoded under "<key>.b64".
type GistStore struct {
	gistID      string
	githubToken string
	baseURL     string
	httpClient  *http.Client
}

// NewGistStore creates a Gist-backed store.
func NewGistStore(gistID, githubToken string) (*GistStore, error) {
	if gistID == "" {
		return nil, fmt.Errorf("gist ID is required")
	}
	if githubToken == "" {
		return nil, fmt.Errorf("GitHub token is required")
	}

	return &GistStore{
		gistID:      gistID,
		githubToken: githubToken,
		baseURL:     gistAPIURL,
		httpClient: &http.Client{
			Timeout: gistTimeout,
		},
	}, nil
}

type gistFile struct {
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
	RawURL    string `json:"raw_url"`
}

func (g *GistStore) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("token %s", g.githubToken))
	req.Header.Set("Accept", githubAccept)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Get reads the object stored under key.
func (g *GistStore) Get(ctx context.Context, key string) ([]byte, error) {
	req, err := g.newRequest(ctx, http.MethodGet, fmt.Sprintf("%s/%s", g.baseURL, g.gistID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching gist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Don't include response body in error to prevent information leakage
		return nil, fmt.Errorf("GitHub API error (status %d)", resp.StatusCode)
	}

	var gistResp struct {
		Files map[string]gistFile `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&gistResp); err != nil {
		return nil, fmt.Errorf("decoding gist response: %w", err)
	}

	if file, ok := gistResp.Files[key]; ok {
		return g.content(ctx, file)
	}
	if file, ok := gistResp.Files[key+base64Suffix]; ok {
		encoded, err := g.content(ctx, file)
		if err != nil {
			return nil, err
		}
		data, err := base64.StdEncoding.DecodeString(string(encoded))
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", key, err)
		}
		return data, nil
	}
	return nil, ErrNotFound
}

// content returns a file's content, following raw_url for files the API
// truncated.
func (g *GistStore) content(ctx context.Context, file gistFile) ([]byte, error) {
	if !file.Truncated {
		return []byte(file.Content), nil
	}

	req, err := g.newRequest(ctx, http.MethodGet, file.RawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching raw gist file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub raw error (status %d)", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxGistObject))
}

// Put replaces the file for key with a single PATCH, which GitHub applies as
// one revision.
func (g *GistStore) Put(ctx context.Context, key string, data []byte) error {
	name, content := key, string(data)
	if !utf8.Valid(data) {
		name, content = key+base64Suffix, base64.StdEncoding.EncodeToString(data)
	}

	payload := map[string]interface{}{
		"files": map[string]interface{}{
			name: map[string]string{
				"content": content,
			},
		},
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := g.newRequest(ctx, http.MethodPatch, fmt.Sprintf("%s/%s", g.baseURL, g.gistID), bytes.NewReader(payloadBytes))
	if err != nil {
		return err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("updating gist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Don't include response body in error to prevent information leakage
		return fmt.Errorf("GitHub API error (status %d)", resp.StatusCode)
	}

	return nil
}
