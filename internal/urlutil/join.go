package urlutil

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// JoinPath joins path segments onto an absolute base URL. A trailing slash on
// the last segment is kept, since upstream endpoints are slash-terminated.
func JoinPath(base string, paths ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base url %q must be absolute", base)
	}

	allPaths := append([]string{u.Path}, paths...)
	u.Path = path.Join(allPaths...)
	if u.Path == "." {
		u.Path = ""
	}

	if len(paths) > 0 && strings.HasSuffix(paths[len(paths)-1], "/") {
		u.Path += "/"
	}

	return u.String(), nil
}
