package plan

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/segment-replay/internal/validation"
)

// CurrentAPIVersion is the newest plan schema this engine understands.
const CurrentAPIVersion = 10

var (
	ErrVersionMismatch = errors.New("plan requires a newer api version")
	ErrEmptyPlan       = errors.New("plan contains no segments")
)

// #region errors
// LoadError names the plan file that failed to load.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load plan file %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
// #endregion errors

// #region files
// File is one raw plan document.
type File struct {
	Name string
	Data []byte
}

// OrderFiles sorts names by numeric stem when every stem is an integer,
// otherwise lexicographically by base name. Ties keep the full names apart.
func OrderFiles(names []string) []string {
	out := make([]string, len(names))
	for i, idx := range fileOrder(names) {
		out[i] = names[idx]
	}
	return out
}

// fileOrder returns the indices of names in load order.
func fileOrder(names []string) []int {
	idx := make([]int, len(names))
	bases := make([]string, len(names))
	stems := make([]int, len(names))
	numeric := true
	for i, n := range names {
		idx[i] = i
		bases[i] = path.Base(filepath.ToSlash(n))
		v, err := strconv.Atoi(strings.TrimSuffix(bases[i], path.Ext(bases[i])))
		if err != nil {
			numeric = false
		}
		stems[i] = v
	}
	sort.SliceStable(idx, func(a, b int) bool {
		i, j := idx[a], idx[b]
		switch {
		case numeric && stems[i] != stems[j]:
			return stems[i] < stems[j]
		case !numeric && bases[i] != bases[j]:
			return bases[i] < bases[j]
		}
		return names[i] < names[j]
	})
	return idx
}

func isPlanFile(name string) bool {
	return strings.EqualFold(path.Ext(name), ".json")
}
// #endregion files

// #region sources
// ReadDir reads every .json file directly inside dir.
func ReadDir(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read plan dir: %w", err)
	}
	var files []File
	for _, e := range entries {
		if e.IsDir() || !isPlanFile(e.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, &LoadError{File: e.Name(), Err: err}
		}
		files = append(files, File{Name: e.Name(), Data: data})
	}
	return files, nil
}

// ReadZip reads every .json entry of a zip archive. Entries keep their full names so
// equal base names in different folders stay distinct.
func ReadZip(archive string) ([]File, error) {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return nil, fmt.Errorf("open plan zip: %w", err)
	}
	defer r.Close()

	var files []File
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !isPlanFile(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, &LoadError{File: f.Name, Err: err}
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, &LoadError{File: f.Name, Err: err}
		}
		files = append(files, File{Name: f.Name, Data: data})
	}
	return files, nil
}
// #endregion sources

// #region loader
// Loader turns a plan location into a Container.
// Locations are a directory, a .zip archive, a single .json file or s3://bucket/prefix.
type Loader struct {
	Store *ObjectStoreSource
}

// Load reads, orders and decodes every plan file at location. Nothing is returned on any failure.
func (l *Loader) Load(ctx context.Context, location string) (*Container, error) {
	files, err := l.read(ctx, location)
	if err != nil {
		return nil, err
	}
	c, err := Decode(ctx, files)
	if err != nil {
		return nil, err
	}
	c.Source = location
	log.Printf("[PLAN] loaded %d segments from %s (session %s)", c.Len(), location, c.SessionID)
	return c, nil
}

func (l *Loader) read(ctx context.Context, location string) ([]File, error) {
	if bucket, prefix, ok := ParseObjectURL(location); ok {
		if l == nil || l.Store == nil {
			return nil, fmt.Errorf("plan %s needs an object store but none is configured", location)
		}
		return l.Store.Files(ctx, bucket, prefix)
	}
	info, err := os.Stat(location)
	if err != nil {
		return nil, fmt.Errorf("stat plan: %w", err)
	}
	switch {
	case info.IsDir():
		return ReadDir(location)
	case strings.EqualFold(filepath.Ext(location), ".zip"):
		return ReadZip(location)
	}
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	return []File{{Name: filepath.Base(location), Data: data}}, nil
}

type decoded struct {
	name        string
	segments    []*Segment
	validations validation.Set
}

// Decode parses files in parallel and assembles them in file order.
func Decode(ctx context.Context, files []File) (*Container, error) {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	order := fileOrder(names)

	out := make([]decoded, len(order))
	g, ctx := errgroup.WithContext(ctx)
	for i, fi := range order {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			d, err := decodeFile(files[fi])
			if err != nil {
				return err
			}
			out[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var (
		segments []*Segment
		sequence validation.Set
		name     string
	)
	for _, d := range out {
		segments = append(segments, d.segments...)
		sequence = append(sequence, d.validations...)
		if name == "" {
			name = d.name
		}
	}
	if len(segments) == 0 {
		return nil, ErrEmptyPlan
	}
	c := NewContainer("", segments, sequence)
	c.Name = name
	return c, nil
}

type segmentList struct {
	APIVersion  int            `json:"apiVersion"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Segments    []*Segment     `json:"segments"`
	Validations validation.Set `json:"validations,omitempty"`
}

func decodeFile(f File) (decoded, error) {
	var shape struct {
		Segments json.RawMessage `json:"segments"`
	}
	if err := json.Unmarshal(f.Data, &shape); err != nil {
		return decoded{}, &LoadError{File: f.Name, Err: err}
	}

	var d decoded
	listVersion := 0
	if shape.Segments != nil {
		var list segmentList
		if err := json.Unmarshal(f.Data, &list); err != nil {
			return decoded{}, &LoadError{File: f.Name, Err: err}
		}
		for i, s := range list.Segments {
			if s.Name == "" {
				s.Name = fmt.Sprintf("%s - Segment #%d", list.Name, i)
			}
		}
		d = decoded{name: list.Name, segments: list.Segments, validations: list.Validations}
		listVersion = max(list.APIVersion, list.Validations.APIVersion())
	} else {
		var s Segment
		if err := json.Unmarshal(f.Data, &s); err != nil {
			return decoded{}, &LoadError{File: f.Name, Err: err}
		}
		d = decoded{segments: []*Segment{&s}}
	}

	for _, s := range d.segments {
		if v := max(listVersion, s.EffectiveAPIVersion()); v > CurrentAPIVersion {
			return decoded{}, &LoadError{
				File: f.Name,
				Err:  fmt.Errorf("%w: requires %d, current %d", ErrVersionMismatch, v, CurrentAPIVersion),
			}
		}
		if err := s.Validations.Compile(); err != nil {
			return decoded{}, &LoadError{File: f.Name, Err: err}
		}
	}
	if listVersion > CurrentAPIVersion {
		return decoded{}, &LoadError{
			File: f.Name,
			Err:  fmt.Errorf("%w: requires %d, current %d", ErrVersionMismatch, listVersion, CurrentAPIVersion),
		}
	}
	if err := d.validations.Compile(); err != nil {
		return decoded{}, &LoadError{File: f.Name, Err: err}
	}
	return d, nil
}
// #endregion loader

// #region encode
// Encode writes one segment as indented JSON. Replay state is not included.
func Encode(s *Segment) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("encode %s: %w", s, err)
	}
	return buf.Bytes(), nil
}
// #endregion encode
