// Utilities for turning a browser "Copy as cURL" request into ytmusicapi browser credentials.
package shared

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var (
	curlHeaderRe = regexp.MustCompile(`-H\s+'([^']+)'|-H\s+"([^"]+)"`)
	curlCookieRe = regexp.MustCompile(`-b\s+'([^']+)'|-b\s+"([^"]+)"`)
)

// Headers dropped from browser.json because the HTTP client sets them itself.
var ignoredBrowserHeaders = map[string]bool{
	"host":            true,
	"content-length":  true,
	"accept-encoding": true,
}

// CurlHeaders represents parsed headers and cookies from a cURL command.
type CurlHeaders struct {
	Headers map[string]string
	Cookie  string
}

// ParseCurlFile reads a .sh file containing a cURL command and extracts headers.
func ParseCurlFile(filepath string) (*CurlHeaders, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read curl file: %w", err)
	}

	return ParseCurlCommand(content)
}

// ParseCurlCommand parses a cURL command string and extracts headers.
//
// A cookie passed with -b wins over a "cookie:" header.
func ParseCurlCommand(data []byte) (*CurlHeaders, error) {
	curlCmd := string(data)
	curlCmd = strings.ReplaceAll(curlCmd, "\\\n", " ")
	curlCmd = strings.ReplaceAll(curlCmd, "\\", "")

	headers := make(map[string]string)
	var headerCookie string

	for _, match := range curlHeaderRe.FindAllStringSubmatch(curlCmd, -1) {
		key, value, ok := strings.Cut(firstGroup(match), ":")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)

		if strings.EqualFold(key, "cookie") {
			if headerCookie == "" {
				headerCookie = value
			}
			continue
		}
		headers[key] = value
	}

	cookie := headerCookie
	if m := curlCookieRe.FindStringSubmatch(curlCmd); m != nil {
		cookie = firstGroup(m)
	}

	if len(headers) == 0 && cookie == "" {
		return nil, fmt.Errorf("%w: no headers found in curl command", ErrInvalidInput)
	}

	return &CurlHeaders{Headers: headers, Cookie: cookie}, nil
}

func firstGroup(match []string) string {
	if match[1] != "" {
		return match[1]
	}
	return match[2]
}

// ToHeadersRaw converts parsed headers to headers_raw format for ytmusicapi.
//
// Format is newline-separated "Key: Value" pairs, sorted by key.
func (c *CurlHeaders) ToHeadersRaw() string {
	keys := make([]string, 0, len(c.Headers))
	for key := range c.Headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", key, c.Headers[key]))
	}

	if c.Cookie != "" {
		lines = append(lines, fmt.Sprintf("cookie: %s", c.Cookie))
	}

	return strings.Join(lines, "\n")
}

// BrowserAuth builds the header map ytmusicapi reads from browser.json.
//
// Keys are lower-cased, sec-* and transport headers are dropped, and the cookie and
// x-goog-authuser headers must be present for the history endpoint to authenticate.
func (c *CurlHeaders) BrowserAuth() (map[string]string, error) {
	auth := make(map[string]string, len(c.Headers)+1)
	for key, value := range c.Headers {
		k := strings.ToLower(key)
		if ignoredBrowserHeaders[k] || strings.HasPrefix(k, "sec") {
			continue
		}
		auth[k] = value
	}

	if c.Cookie != "" {
		auth["cookie"] = c.Cookie
	}

	for _, required := range []string{"cookie", "x-goog-authuser"} {
		if auth[required] == "" {
			return nil, fmt.Errorf("%w: request is missing the %s header", ErrInvalidCredentials, required)
		}
	}

	return auth, nil
}

// WriteBrowserAuth writes browser.json for ytmusicapi to path with owner-only permissions.
func (c *CurlHeaders) WriteBrowserAuth(path string) error {
	auth, err := c.BrowserAuth()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(auth, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode browser auth: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write browser auth: %w", err)
	}
	return nil
}
