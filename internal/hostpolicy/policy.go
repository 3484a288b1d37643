// Package hostpolicy decides which outbound endpoints the relay may dial.
// A relay that opens arbitrary TCP connections on behalf of browsers needs
// a guardrail; the policy file is that guardrail.
package hostpolicy

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const debounceInterval = 500 * time.Millisecond

// Policy holds the current allowlist rules. With no file configured every
// endpoint is allowed. The file is watched and reloaded on change; a file
// that fails to parse during reload keeps the previous rules.
type Policy struct {
	mu       sync.RWMutex
	path     string
	rules    []rule
	allowAll bool

	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}
}

// rule is one allowlist line. A wildcard rule matches any subdomain of
// host; port 0 matches any port.
type rule struct {
	host     string
	wildcard bool
	port     int
}

// AllowAll returns a policy with no restrictions and no watcher.
func AllowAll() *Policy {
	return &Policy{allowAll: true}
}

// Load reads the allowlist at path and starts watching it for changes.
// An empty path yields an allow-all policy.
func Load(path string) (*Policy, error) {
	if path == "" {
		return AllowAll(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open allowlist %s", path)
	}
	rules, err := parseRules(f)
	f.Close()
	if err != nil {
		return nil, errors.Wrapf(err, "parse allowlist %s", path)
	}

	p := &Policy{
		path:   path,
		rules:  rules,
		cancel: make(chan struct{}),
	}

	// Watch the directory, not the file: editors replace files by rename
	// and a watch on the old inode would go stale.
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create allowlist watcher")
	}
	if err := fsW.Add(filepath.Dir(path)); err != nil {
		fsW.Close()
		return nil, errors.Wrapf(err, "watch %s", filepath.Dir(path))
	}
	p.fsWatcher = fsW

	go p.watchLoop()
	return p, nil
}

// Allowed reports whether the policy permits dialing host:port.
func (p *Policy) Allowed(host string, port int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.allowAll {
		return true
	}

	host = strings.ToLower(host)
	for _, r := range p.rules {
		if r.port != 0 && r.port != port {
			continue
		}
		if r.wildcard {
			if r.host == "" || strings.HasSuffix(host, "."+r.host) || host == r.host {
				return true
			}
			continue
		}
		if host == r.host {
			return true
		}
	}
	return false
}

// Close stops the reload watcher.
func (p *Policy) Close() {
	if p.fsWatcher == nil {
		return
	}
	close(p.cancel)
	p.fsWatcher.Close()
}

// watchLoop reloads the allowlist on file changes, debounced.
func (p *Policy) watchLoop() {
	var timer *time.Timer

	for {
		select {
		case <-p.cancel:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-p.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(p.path) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, p.reload)

		case err, ok := <-p.fsWatcher.Errors:
			if !ok {
				return
			}
			logrus.Errorf("hostpolicy: watcher error: %v", err)
		}
	}
}

func (p *Policy) reload() {
	f, err := os.Open(p.path)
	if err != nil {
		logrus.Errorf("hostpolicy: reload failed, keeping previous rules: %v", err)
		return
	}
	defer f.Close()

	rules, err := parseRules(f)
	if err != nil {
		logrus.Errorf("hostpolicy: reload failed, keeping previous rules: %v", err)
		return
	}

	p.mu.Lock()
	p.rules = rules
	p.mu.Unlock()
	logrus.Infof("hostpolicy: reloaded %d rules from %s", len(rules), p.path)
}

// parseRules reads one pattern per line: "host", "host:port",
// "*.host", "*.host:port" or a bare "*". Blank lines and '#' comments
// are skipped.
func parseRules(r io.Reader) ([]rule, error) {
	var rules []rule

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var ru rule
		hostPart := text
		if i := strings.LastIndex(text, ":"); i >= 0 {
			port, err := strconv.Atoi(text[i+1:])
			if err != nil || port < 1 || port > 65535 {
				return nil, errors.Errorf("line %d: bad port in %q", line, text)
			}
			ru.port = port
			hostPart = text[:i]
		}

		switch {
		case hostPart == "*":
			ru.wildcard = true
		case strings.HasPrefix(hostPart, "*."):
			ru.wildcard = true
			ru.host = strings.ToLower(hostPart[2:])
		case strings.Contains(hostPart, "*"):
			return nil, errors.Errorf("line %d: wildcard only allowed as leading label in %q", line, text)
		default:
			ru.host = strings.ToLower(hostPart)
		}

		rules = append(rules, ru)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read allowlist")
	}
	return rules, nil
}
