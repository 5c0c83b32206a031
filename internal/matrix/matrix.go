// Package matrix lists the engine/channel combinations a scenario is run
// against.
package matrix

import (
	"github.com/ahrdadan/sessionfixture/internal/browser"
)

// Entry is one browser identity.
type Entry struct {
	Engine  browser.Engine `json:"engine"`
	Channel string         `json:"channel,omitempty"`
}

func (e Entry) String() string {
	if e.Channel == "" {
		return string(e.Engine)
	}
	return string(e.Engine) + "_" + e.Channel
}

// Entries returns the matrix for a host. Branded channels are only
// installed on some platforms locally; the remote grid has all of them.
func Entries(useRemote bool, goos string) []Entry {
	entries := []Entry{{Engine: browser.Chromium}}
	if useRemote || goos != "windows" {
		entries = append(entries, Entry{Engine: browser.Chromium, Channel: "chrome"})
	}
	if useRemote || goos == "windows" {
		entries = append(entries, Entry{Engine: browser.Chromium, Channel: "msedge"})
	}
	return append(entries, Entry{Engine: browser.Firefox})
}
