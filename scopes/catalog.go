// Package scopes loads the catalog of OAuth scopes probed for delegation.
package scopes

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

//go:embed oauth_scopes.txt
var defaultCatalog string

// Catalog maps scope identifiers to descriptions and keeps file order.
type Catalog struct {
	scopes       []string
	descriptions map[string]string
}

// Parse reads "scope | description" records. Lines without a separator are skipped,
// a repeated scope keeps its first position and takes the last description.
func Parse(r io.Reader) (*Catalog, error) {
	c := &Catalog{descriptions: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		scope, description, ok := strings.Cut(line, "|")
		if !ok {
			continue
		}
		scope = strings.TrimSpace(scope)
		if scope == "" {
			continue
		}
		if _, seen := c.descriptions[scope]; !seen {
			c.scopes = append(c.scopes, scope)
		}
		c.descriptions[scope] = strings.TrimSpace(description)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

// Default returns the catalog shipped with the binary.
func Default() *Catalog {
	c, err := Parse(strings.NewReader(defaultCatalog))
	if err != nil {
		panic(fmt.Sprintf("embedded scope catalog: %v", err))
	}
	return c
}

// Load reads the catalog at path, or the embedded one when path is empty.
// A missing or unreadable file yields an empty catalog and a warning.
func Load(path string, logger *slog.Logger) *Catalog {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		logger.Warn("scopes file not readable, continuing with no scopes", "path", path, "error", err)
		return &Catalog{descriptions: map[string]string{}}
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		logger.Warn("scopes file malformed, continuing with no scopes", "path", path, "error", err)
		return &Catalog{descriptions: map[string]string{}}
	}
	if c.Len() == 0 {
		logger.Warn("no scopes loaded from scopes file", "path", path)
	}
	return c
}

// Scopes returns the scopes in file order.
func (c *Catalog) Scopes() []string {
	return append([]string(nil), c.scopes...)
}

// Description returns the human description of scope, or "".
func (c *Catalog) Description(scope string) string {
	return c.descriptions[scope]
}

func (c *Catalog) Len() int { return len(c.scopes) }
