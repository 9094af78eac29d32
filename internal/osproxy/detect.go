// Package osproxy specifies the contract for the OS-specific helper that
// reads a platform's configured system proxy settings. It is an external
// collaborator per spec.md §1 ("the OS-specific helper that reads the
// system proxy settings") — this package defines only the contract, plus
// a default implementation that reports no system proxy is configured,
// used when no platform-specific detector is wired in.
package osproxy

import "github.com/hans009/winfoom/internal/config"

// Settings is what a platform-specific detector can tell us about the
// operator's system-wide proxy configuration.
type Settings struct {
	Found  bool
	Kind   config.Kind
	HTTP   config.Endpoint
	PacURL string
}

// Detector reads the operating system's configured proxy settings.
type Detector interface {
	Detect() (Settings, error)
}

// NoneDetector is a Detector that always reports no system proxy
// configured. It is the default when autodetect is enabled but no
// platform-specific Detector has been wired in.
type NoneDetector struct{}

// Detect implements Detector.
func (NoneDetector) Detect() (Settings, error) {
	return Settings{Found: false}, nil
}

// Apply merges detected settings into cfg, preferring detected values
// over cfg's existing ones, when settings.Found is true.
func Apply(cfg *config.Config, settings Settings) {
	if !settings.Found {
		return
	}
	cfg.ProxyType = settings.Kind
	switch settings.Kind {
	case config.KindHTTP:
		cfg.SetHTTPProxy(settings.HTTP.Host, settings.HTTP.Port)
	case config.KindPAC:
		cfg.PacFileLocation = settings.PacURL
	}
}
