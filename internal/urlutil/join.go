package urlutil

import (
	"net/url"
	"path"
	"strings"
)

// JoinPath joins path segments onto base, keeping a trailing slash only when
// the last segment carries one.
func JoinPath(base string, paths ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	u.Path = path.Join(append([]string{u.Path}, paths...)...)
	if len(paths) > 0 && strings.HasSuffix(paths[len(paths)-1], "/") {
		u.Path += "/"
	}

	return u.String(), nil
}

// Endpoint joins p onto base and merges query into any query already
// present on base. Empty query values are dropped.
func Endpoint(base, p string, query url.Values) (string, error) {
	joined, err := JoinPath(base, p)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(joined)
	if err != nil {
		return "", err
	}

	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			if v != "" {
				q.Add(k, v)
			}
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
