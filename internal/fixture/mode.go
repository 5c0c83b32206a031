package fixture

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ahrdadan/sessionfixture/internal/browser"
)

// Mode is where the browser runs. It is resolved once, when the browser is
// acquired.
type Mode int

const (
	Local Mode = iota
	Remote
)

func (m Mode) String() string {
	switch m {
	case Local:
		return "local"
	case Remote:
		return "remote"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the mode name.
func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON parses a mode name.
func (m *Mode) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "local":
		*m = Local
	case "remote":
		*m = Remote
	default:
		return fmt.Errorf("unknown mode: %q", name)
	}
	return nil
}

// videoFinalizer turns a page recording into an artifact. It returns a URL
// when the recording is hosted remotely and still has to be downloaded.
type videoFinalizer func(f *Fixture, ctx context.Context, s *session, v browser.Video) (remoteURL string)

// modeStrategy holds the behavior that differs between local and remote
// sessions.
type modeStrategy struct {
	traces        bool
	reportStatus  bool
	finalizeVideo videoFinalizer
}

var strategies = map[Mode]modeStrategy{
	Local: {
		traces:        true,
		finalizeVideo: (*Fixture).saveLocalVideo,
	},
	Remote: {
		reportStatus:  true,
		finalizeVideo: (*Fixture).remoteVideoURL,
	},
}
