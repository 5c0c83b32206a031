// Package browserstack talks to the BrowserStack remote browser grid:
// session capabilities, the connection endpoint and executor directives.
package browserstack

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// Capabilities describe the remote session to provision. Every key is sent,
// including empty ones.
type Capabilities struct {
	Browser       string `json:"browser"`
	AccessKey     string `json:"browserstack.accessKey"`
	UserName      string `json:"browserstack.username"`
	Build         string `json:"build"`
	ClientVersion string `json:"client.playwrightVersion"`
	Name          string `json:"name"`
	OS            string `json:"os"`
	OSVersion     string `json:"os_version"`
	Project       string `json:"project"`
}

// channelBrowsers maps local channel names to provider browser names.
var channelBrowsers = map[string]string{
	"msedge": "edge",
}

// BrowserName returns the provider browser name for an engine and channel.
// Without a channel the name is prefix-engine, e.g. "playwright-firefox".
func BrowserName(prefix, engine, channel string) string {
	if channel != "" {
		if name, ok := channelBrowsers[channel]; ok {
			return name
		}
		return channel
	}
	return prefix + "-" + engine
}

// Endpoint returns base with the JSON-encoded capabilities in the caps query
// parameter. Existing query parameters are kept.
func Endpoint(base string, caps Capabilities) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid remote endpoint %q: %w", base, err)
	}

	data, err := json.Marshal(caps)
	if err != nil {
		return "", fmt.Errorf("failed to encode capabilities: %w", err)
	}

	q := u.Query()
	q.Set("caps", string(data))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
