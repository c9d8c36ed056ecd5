// Package operations holds the storefront GraphQL documents used by the
// application. Each .graphql file under queries/ and fragments/ contains a
// single definition; Document assembles an operation together with every
// fragment it needs so it can be sent as one request.
package operations

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	language "github.com/hanpama/marketctx/internal/language"
)

// FS provides access to the embedded operation files.
//
//go:embed queries/*.graphql fragments/*.graphql
var FS embed.FS

// ErrUnknownOperation is returned by Document for names not in the catalog.
var ErrUnknownOperation = errors.New("operations: unknown operation")

// Catalog indexes operations and fragments by name.
type Catalog struct {
	operations map[string]string
	fragments  map[string]string
	spreads    map[string][]string
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the catalog built from the embedded files.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() { defaultCatalog, defaultErr = Load(FS) })
	return defaultCatalog, defaultErr
}

// Load reads every .graphql file below queries/ and fragments/ in fsys.
func Load(fsys fs.FS) (*Catalog, error) {
	c := &Catalog{
		operations: map[string]string{},
		fragments:  map[string]string{},
		spreads:    map[string][]string{},
	}
	for _, dir := range []string{"queries", "fragments"} {
		files, err := fs.Glob(fsys, path.Join(dir, "*.graphql"))
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			src, err := fs.ReadFile(fsys, file)
			if err != nil {
				return nil, err
			}
			if err := c.add(file, strings.TrimSpace(string(src))); err != nil {
				return nil, err
			}
		}
	}
	for def, names := range c.spreads {
		for _, n := range names {
			if _, ok := c.fragments[n]; !ok {
				return nil, fmt.Errorf("operations: %s spreads unknown fragment %q", def, n)
			}
		}
	}
	return c, nil
}

func (c *Catalog) add(file, src string) error {
	doc, err := language.ParseQuery(src)
	if err != nil {
		return fmt.Errorf("operations: parse %s: %w", file, err)
	}
	if len(doc.Operations)+len(doc.Fragments) != 1 {
		return fmt.Errorf("operations: %s must contain exactly one definition", file)
	}
	if len(doc.Operations) == 1 {
		op := doc.Operations[0]
		if op.Name == "" {
			return fmt.Errorf("operations: %s: operation must be named", file)
		}
		if _, dup := c.operations[op.Name]; dup {
			return fmt.Errorf("operations: duplicate operation %q in %s", op.Name, file)
		}
		c.operations[op.Name] = src
		c.spreads[op.Name] = language.Spreads(op.SelectionSet)
		return nil
	}
	frag := doc.Fragments[0]
	if _, dup := c.fragments[frag.Name]; dup {
		return fmt.Errorf("operations: duplicate fragment %q in %s", frag.Name, file)
	}
	c.fragments[frag.Name] = src
	c.spreads[frag.Name] = language.Spreads(frag.SelectionSet)
	return nil
}

// Names lists the operation names in the catalog, sorted.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.operations))
	for n := range c.operations {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Document returns the named operation followed by the fragments it spreads,
// directly or through other fragments, each fragment once.
func (c *Catalog) Document(name string) (string, error) {
	src, ok := c.operations[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownOperation, name)
	}
	var b strings.Builder
	b.WriteString(src)
	b.WriteByte('\n')

	seen := map[string]bool{}
	queue := append([]string(nil), c.spreads[name]...)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n] {
			continue
		}
		seen[n] = true
		b.WriteByte('\n')
		b.WriteString(c.fragments[n])
		b.WriteByte('\n')
		queue = append(queue, c.spreads[n]...)
	}
	return b.String(), nil
}
