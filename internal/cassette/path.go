package cassette

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	// StorageDir is the directory, relative to the site or project root, that holds fixtures.
	StorageDir = "cassettes"

	// Extension is appended to the flattened source path.
	Extension = ".yaml"
)

var markerPattern = regexp.MustCompile(`__filepath__ = "([^"]*)";`)

// FixturePath maps a project-relative source path to its flattened fixture path.
//
// The first segment (the content root) is dropped and the rest are joined with
// underscores, so "content/docs/intro/sync.py" becomes "cassettes/docs_intro_sync.py.yaml".
// Both slash styles are accepted.
func FixturePath(relativePath string) string {
	normalized := strings.ReplaceAll(relativePath, `\`, "/")
	parts := strings.Split(normalized, "/")
	parts = parts[1:]
	return StorageDir + "/" + strings.Join(parts, "_") + Extension
}

// ExtractMarker returns the relative path assigned to __filepath__ in source.
func ExtractMarker(source string) (string, error) {
	m := markerPattern.FindStringSubmatch(source)
	if m == nil || m[1] == "" {
		return "", &MissingMarkerError{}
	}
	return m[1], nil
}

// FixtureURL resolves the fixture URL for example source rendered on the page at location.
//
// The marker is resolved against the page path and the absolute result is
// flattened with FixturePath. Only the empty segment before the leading "/" is
// dropped, so every page segment stays in the name: "/docs/mirascope/v2/" with
// "./intro/sync.py" gives "/cassettes/docs_mirascope_v2_intro_sync.py.yaml".
// The flattened path is resolved against the origin.
func FixtureURL(source string, location *url.URL) (*url.URL, error) {
	marker, err := ExtractMarker(source)
	if err != nil {
		return nil, err
	}

	marker = strings.TrimPrefix(marker, "./")
	marker = strings.TrimPrefix(marker, "/")

	basePath := location.Path
	if !strings.HasSuffix(basePath, "/") {
		basePath += "/"
	}
	origin := &url.URL{Scheme: location.Scheme, Host: location.Host, User: location.User}
	base := origin.ResolveReference(&url.URL{Path: basePath})
	nested := base.ResolveReference(&url.URL{Path: marker})

	return origin.ResolveReference(&url.URL{Path: "/" + FixturePath(nested.Path)}), nil
}
