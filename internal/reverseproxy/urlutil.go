package reverseproxy

import "net/url"

// parseURLHostPort returns a dialable host:port for rawURL, defaulting
// the port from the scheme when absent.
func parseURLHostPort(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	switch u.Scheme {
	case "https":
		return u.Hostname() + ":443", nil
	default:
		return u.Hostname() + ":80", nil
	}
}
