// Package session keeps per-platform cookie state on disk so that checks
// of the same platform share a login, and lets a blocked check wait until
// someone has refreshed that login.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cwygoda/streamwatch/internal/clock"
	"github.com/cwygoda/streamwatch/internal/domain"
	"github.com/cwygoda/streamwatch/internal/logger"
)

// Session is the cookie state of one platform.
type Session struct {
	platform domain.Platform
	path     string
	jar      *jar

	// save serializes Save calls.
	save sync.Mutex

	mu    sync.Mutex
	stale bool
	// modTime is the cookie file mtime after the last load or write.
	modTime time.Time
}

// Platform returns the platform the session belongs to.
func (s *Session) Platform() domain.Platform { return s.platform }

// Jar returns the cookie jar to use for requests to the platform.
func (s *Session) Jar() http.CookieJar { return s.jar }

// Path returns the cookie file.
func (s *Session) Path() string { return s.path }

// MarkStale flags the session for refresh before the next sweep.
func (s *Session) MarkStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale = true
}

// Stale reports whether the session was marked stale.
func (s *Session) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}

// Save writes the cookies to the session file if they changed. When the
// file was rewritten by someone else since it was last loaded, its cookies
// are merged into the jar first and take precedence.
func (s *Session) Save() error {
	s.save.Lock()
	defer s.save.Unlock()

	cookies, dirty := s.jar.snapshot()
	if s.changedOnDisk() {
		fresh, err := readCookies(s.path)
		if err != nil {
			return err
		}
		s.jar.load(fresh)
		s.setModTime()
		if !dirty {
			return nil
		}
		cookies, _ = s.jar.snapshot()
	}
	if !dirty {
		return nil
	}

	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cookies: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write cookies: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("write cookies: %w", err)
	}
	s.setModTime()
	return nil
}

func (s *Session) fileModTime() time.Time {
	info, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (s *Session) changedOnDisk() bool {
	mt := s.fileModTime()
	s.mu.Lock()
	defer s.mu.Unlock()
	return !mt.IsZero() && !mt.Equal(s.modTime)
}

func (s *Session) setModTime() {
	mt := s.fileModTime()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modTime = mt
}

// reload replaces the jar contents with the session file and clears the
// stale flag. A missing file leaves an empty jar.
func (s *Session) reload() error {
	cookies, err := readCookies(s.path)
	if err != nil {
		return err
	}
	s.jar.replace(cookies)
	mt := s.fileModTime()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale = false
	s.modTime = mt
	return nil
}

func readCookies(path string) ([]Cookie, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("decode cookies %s: %w", path, err)
	}
	return cookies, nil
}

// Store owns the sessions of all platforms, one cookie file each.
type Store struct {
	dir   string
	clock clock.Clock
	log   logger.Logger

	mu       sync.Mutex
	sessions map[domain.Platform]*Session
}

// Open creates the session directory if needed.
func Open(dir string, clk clock.Clock, log logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Store{
		dir:      dir,
		clock:    clk,
		log:      log,
		sessions: make(map[domain.Platform]*Session),
	}, nil
}

// FileName returns the cookie file name of a platform.
func FileName(p domain.Platform) string {
	return "cookies-" + p.Slug() + ".json"
}

// Session returns the session of a platform, loading it on first use.
func (st *Store) Session(p domain.Platform) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[p]; ok {
		return s, nil
	}
	s := &Session{
		platform: p,
		path:     filepath.Join(st.dir, FileName(p)),
		jar:      newJar(st.clock.Now),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	st.sessions[p] = s
	return s, nil
}

// RefreshStale reloads every session marked stale from its cookie file.
func (st *Store) RefreshStale(ctx context.Context) error {
	st.mu.Lock()
	var stale []*Session
	for _, s := range st.sessions {
		if s.Stale() {
			stale = append(stale, s)
		}
	}
	st.mu.Unlock()

	for _, s := range stale {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.reload(); err != nil {
			return fmt.Errorf("refresh %s session: %w", s.platform, err)
		}
		st.log.Info("session refreshed",
			logger.String("platform", string(s.platform)),
			logger.String("path", s.path),
		)
	}
	return nil
}

// Set stores the cookies of a Cookie header for the platform of rawURL and
// saves them.
func (st *Store) Set(rawURL, header string) (*Session, error) {
	p, ok := domain.Classify(rawURL)
	if !ok {
		return nil, fmt.Errorf("no platform for %q", rawURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	cookies, err := http.ParseCookie(header)
	if err != nil {
		return nil, fmt.Errorf("parse cookies: %w", err)
	}

	s, err := st.Session(p)
	if err != nil {
		return nil, err
	}
	domainAttr := "." + strings.TrimPrefix(u.Hostname(), "www.")
	for _, c := range cookies {
		c.Domain = domainAttr
		c.Path = "/"
		c.Secure = u.Scheme == "https"
	}
	s.jar.SetCookies(u, cookies)
	if err := s.Save(); err != nil {
		return nil, err
	}
	return s, nil
}

// WaitCleared blocks until the cookie file of p is rewritten, then reloads
// the session. It is meant to be called with a deadline; when it passes the
// returned error wraps domain.ErrChallengeTimeout.
func (st *Store) WaitCleared(ctx context.Context, p domain.Platform) error {
	s, err := st.Session(p)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch cookies: %w", err)
	}
	defer w.Close()
	// Editors and Save replace the file, so watch the directory.
	if err := w.Add(st.dir); err != nil {
		return fmt.Errorf("watch cookies: %w", err)
	}

	st.log.Info("waiting for cookie update",
		logger.String("platform", string(p)),
		logger.String("path", s.path),
	)
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", domain.ErrChallengeTimeout, ctx.Err())
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("cookie watcher closed")
			}
			return fmt.Errorf("watch cookies: %w", err)
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("cookie watcher closed")
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			return s.reload()
		}
	}
}
