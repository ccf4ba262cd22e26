package stores

import "strings"

// URLVariants returns the URLs to try for one connection round, original
// first. libsql:// and https:// stand in for each other; ws(s):// is also
// tried as http(s)://. Other schemes are tried as given.
func URLVariants(raw string) []string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || rest == "" {
		return []string{raw}
	}

	switch strings.ToLower(scheme) {
	case "libsql":
		return []string{raw, "https://" + rest}
	case "https":
		return []string{raw, "libsql://" + rest}
	case "wss":
		return []string{raw, "https://" + rest}
	case "ws":
		return []string{raw, "http://" + rest}
	default:
		return []string{raw}
	}
}

// scheme returns the lower-cased scheme of u, or "unknown".
func scheme(u string) string {
	s, _, ok := strings.Cut(u, "://")
	if !ok || s == "" {
		return "unknown"
	}
	return strings.ToLower(s)
}
