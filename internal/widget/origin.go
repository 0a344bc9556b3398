package widget

import (
	"net/url"
	"strings"
)

// parseOrigin turns "https://shop.example:8443" into "shop.example:8443".
// Bare hosts and "*" pass through.
func parseOrigin(origin string) (string, error) {
	origin = strings.TrimSpace(origin)
	if origin == "*" || !strings.Contains(origin, "://") {
		return origin, nil
	}
	u, err := url.Parse(origin)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}
