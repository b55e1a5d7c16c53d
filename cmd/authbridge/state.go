package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gcsewala/authbridge/internal/cookie"
	"github.com/gcsewala/authbridge/internal/gotrue"
)

const (
	cookieFile  = "cookies.json"
	sessionFile = "session.json"
)

// profile is the on-disk stand-in for a browser profile: a cookie jar for
// one host and the upstream client's session storage.
type profile struct {
	dir string
	jar *cookie.DocumentJar
}

func defaultProfileDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "authbridge")
	}
	return ".authbridge"
}

func openProfile(dir, host string) (*profile, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating profile dir: %w", err)
	}
	p := &profile{dir: dir, jar: cookie.NewDocumentJar(host, time.Now)}

	f, err := os.Open(filepath.Join(dir, cookieFile))
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening cookie jar: %w", err)
	}
	defer f.Close()
	if err := p.jar.Load(f); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *profile) sessionStorage() *gotrue.FileSessionStorage {
	return gotrue.NewFileSessionStorage(filepath.Join(p.dir, sessionFile))
}

// save writes the jar atomically.
func (p *profile) save() error {
	path := filepath.Join(p.dir, cookieFile)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("writing cookie jar: %w", err)
	}
	if err := p.jar.Save(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing cookie jar: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing cookie jar: %w", err)
	}
	return nil
}
