// Package tlsprofile provides human-readable names for TLS versions and
// cipher suites, used to report the negotiated parameters of an
// upgraded connection (Connection.PeerCipher) and to apply a minimum
// version profile when a caller hasn't fully specified a
// tls.Config.
package tlsprofile

import "crypto/tls"

// Version name lookup for the versions crypto/tls actually negotiates.
func VersionName(version uint16) string {
	switch version {
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	default:
		return "Unknown"
	}
}

// VersionProfile is a pre-configured [Min, Max] TLS version range.
type VersionProfile struct {
	Min         uint16
	Max         uint16
	Description string
}

var (
	// ProfileModern restricts negotiation to TLS 1.3 only.
	ProfileModern = VersionProfile{
		Min:         tls.VersionTLS13,
		Max:         tls.VersionTLS13,
		Description: "TLS 1.3 only - maximum security, modern servers only",
	}

	// ProfileSecure is the default: TLS 1.2 and 1.3.
	ProfileSecure = VersionProfile{
		Min:         tls.VersionTLS12,
		Max:         tls.VersionTLS13,
		Description: "TLS 1.2+ - secure and widely compatible",
	}

	// ProfileCompatible extends down to TLS 1.0 for legacy servers.
	ProfileCompatible = VersionProfile{
		Min:         tls.VersionTLS10,
		Max:         tls.VersionTLS13,
		Description: "TLS 1.0+ - maximum compatibility, includes deprecated versions",
	}
)

// ApplyVersionProfile sets cfg's MinVersion/MaxVersion from profile.
func ApplyVersionProfile(cfg *tls.Config, profile VersionProfile) {
	cfg.MinVersion = profile.Min
	cfg.MaxVersion = profile.Max
}

// CipherSuiteName returns a human-readable name for a negotiated cipher
// suite, for use in diagnostics (Connection.PeerCipher).
func CipherSuiteName(suite uint16) string {
	if name := tls.CipherSuiteName(suite); name != "" {
		return name
	}
	return "Unknown"
}
