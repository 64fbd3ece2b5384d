// Package dirsource reads instance files from a local directory, by default
// vrp_instances/.
package dirsource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cvrpbc/internal/cvrp"
)

const Ext = ".vrp"

var ErrBadRef = errors.New("instance reference must be a plain file name")

type Source struct {
	Dir string
}

func New(dir string) Source { return Source{Dir: dir} }

func (s Source) Name() string { return "dir" }

// List returns the instance file names in lexical order.
func (s Source) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), Ext) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Open loads ref from the directory. The extension may be omitted.
func (s Source) Open(ctx context.Context, ref string) (*cvrp.Instance, error) {
	if ref == "" || ref != filepath.Base(ref) || ref == "." || ref == ".." {
		return nil, ErrBadRef
	}
	if !strings.HasSuffix(ref, Ext) {
		ref += Ext
	}
	return cvrp.LoadFile(filepath.Join(s.Dir, ref))
}
