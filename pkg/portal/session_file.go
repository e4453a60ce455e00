package portal

import (
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type savedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type savedSession struct {
	BaseURL string        `json:"baseUrl"`
	SavedAt time.Time     `json:"savedAt"`
	Cookies []savedCookie `json:"cookies"`
}

// SaveSession writes the cookies held for the backend origin to path so a
// later process can resume the same backend session
func (c *Client) SaveSession(path string) error {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return errors.Wrap(err, "invalid base URL")
	}

	saved := savedSession{BaseURL: c.baseURL, SavedAt: time.Now().UTC()}
	for _, ck := range c.httpClient.Jar.Cookies(base) {
		saved.Cookies = append(saved.Cookies, savedCookie{Name: ck.Name, Value: ck.Value})
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrap(err, "failed to create session directory")
	}

	data, err := json.MarshalIndent(saved, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal session")
	}

	// Session cookies are credentials
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrap(err, "failed to write session file")
	}

	if c.options.Logger != nil {
		c.options.Logger.Info("Session saved", "path", path, "cookies", len(saved.Cookies))
	}
	return nil
}

// LoadSession restores cookies written by SaveSession. The file must have
// been saved for the same backend origin. The gate is not touched; call
// Gate.Verify to learn whether the restored session is still valid.
func (c *Client) LoadSession(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read session file")
	}

	var saved savedSession
	if err := json.Unmarshal(data, &saved); err != nil {
		return errors.Wrap(err, "failed to unmarshal session")
	}

	if strings.TrimRight(saved.BaseURL, "/") != c.baseURL {
		return errors.Errorf("session file is for %s, not %s", saved.BaseURL, c.baseURL)
	}

	base, err := url.Parse(c.baseURL)
	if err != nil {
		return errors.Wrap(err, "invalid base URL")
	}

	cookies := make([]*http.Cookie, 0, len(saved.Cookies))
	for _, ck := range saved.Cookies {
		cookies = append(cookies, &http.Cookie{Name: ck.Name, Value: ck.Value, Path: "/"})
	}
	c.httpClient.Jar.SetCookies(base, cookies)

	if c.options.Logger != nil {
		c.options.Logger.Info("Session loaded", "path", path, "cookies", len(cookies))
	}
	return nil
}
