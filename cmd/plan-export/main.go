package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/danielpatrickdp/segment-replay/internal/config"
	"github.com/danielpatrickdp/segment-replay/internal/plan"
	"github.com/danielpatrickdp/segment-replay/internal/validation"
)

// #region main

func main() {
	planPath := flag.String("plan", "", "plan location (directory, .zip, .json or s3://bucket/prefix)")
	outDir := flag.String("out", "", "output directory for normalized segment files")
	verify := flag.Bool("verify", true, "reload the exported plan and compare it with the source")
	flag.Parse()

	if *planPath == "" || *outDir == "" {
		fmt.Fprintln(os.Stderr, "usage: plan-export --plan location --out path/to/dir [--verify=false]")
		os.Exit(2)
	}

	if err := run(*planPath, *outDir, *verify); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region export

func run(location, outDir string, verify bool) error {
	cfg, err := config.Load(".env")
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	store, err := cfg.ObjectStoreSource()
	if err != nil {
		return err
	}
	loader := &plan.Loader{Store: store}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	p, err := loader.Load(ctx, location)
	if err != nil {
		return err
	}

	n, err := writePlan(p, outDir)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %d files to %s (%d segments, %d sequence validations)\n",
		n, outDir, p.Len(), len(p.Validations))

	if !verify {
		return nil
	}
	again, err := loader.Load(ctx, outDir)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	return compare(p, again)
}

// sequenceFile carries the plan level validations after the last segment file.
type sequenceFile struct {
	APIVersion  int            `json:"apiVersion"`
	Name        string         `json:"name,omitempty"`
	Segments    []struct{}     `json:"segments"`
	Validations validation.Set `json:"validations"`
}

// writePlan writes one <ordinal>.json per segment. Sequence validations go in a final list file.
func writePlan(p *plan.Container, outDir string) (int, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", outDir, err)
	}
	written := 0
	for _, s := range p.Segments() {
		data, err := plan.Encode(s)
		if err != nil {
			return written, err
		}
		if err := writeFile(outDir, s.Ordinal(), data); err != nil {
			return written, err
		}
		written++
	}

	if len(p.Validations) == 0 {
		return written, nil
	}
	data, err := json.MarshalIndent(sequenceFile{
		APIVersion:  p.Validations.APIVersion(),
		Name:        p.Name,
		Segments:    []struct{}{},
		Validations: p.Validations,
	}, "", "  ")
	if err != nil {
		return written, fmt.Errorf("marshal validations: %w", err)
	}
	if err := writeFile(outDir, p.Len()+1, data); err != nil {
		return written, err
	}
	return written + 1, nil
}

func writeFile(dir string, ordinal int, data []byte) error {
	path := filepath.Join(dir, strconv.Itoa(ordinal)+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// #endregion export

// #region verify

func compare(want, got *plan.Container) error {
	if want.Len() != got.Len() {
		return fmt.Errorf("verify: %d segments exported, %d reloaded", want.Len(), got.Len())
	}
	if len(want.Validations) != len(got.Validations) {
		return fmt.Errorf("verify: %d sequence validations exported, %d reloaded", len(want.Validations), len(got.Validations))
	}
	for i, s := range want.Segments() {
		a, err := plan.Encode(s)
		if err != nil {
			return err
		}
		b, err := plan.Encode(got.Segments()[i])
		if err != nil {
			return err
		}
		if string(a) != string(b) {
			return fmt.Errorf("verify: segment %d differs after reload", s.Ordinal())
		}
	}
	fmt.Println("Verified: reloaded plan matches")
	return nil
}

// #endregion verify
