package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Hostnames that must never be fetched server-side, regardless of what
// they resolve to.
var forbiddenHosts = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
	"metadata.google":          true,
}

// ValidateEndpointURL decides whether a user-supplied notification
// endpoint is safe to call from the server. Loopback, private,
// link-local, and unspecified addresses are rejected, both as IP
// literals and behind DNS names, so a registered endpoint cannot be
// aimed at internal infrastructure.
func ValidateEndpointURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format")
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("URL scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}

	host := u.Hostname()
	if forbiddenHosts[strings.ToLower(host)] {
		return fmt.Errorf("URL host %q is not allowed", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkIP(ip)
	}

	// Not a literal, so every address the name resolves to gets the
	// same treatment.
	addrs, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("cannot resolve URL host: %s", host)
	}
	for _, addr := range addrs {
		if ip := net.ParseIP(addr); ip != nil {
			if err := checkIP(ip); err != nil {
				return fmt.Errorf("URL host %q resolves to blocked address: %v", host, err)
			}
		}
	}
	return nil
}

func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("loopback addresses are not allowed")
	case ip.IsPrivate():
		return fmt.Errorf("private addresses are not allowed")
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("link-local addresses are not allowed")
	case ip.IsUnspecified():
		return fmt.Errorf("unspecified addresses are not allowed")
	}
	return nil
}
