// Package batch walks the four fixed camera input folders, rectifies
// every image in them and writes the results to a mirrored output
// layout.
package batch

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/omnicam/undistort/internal/fsutil"
	"github.com/omnicam/undistort/pkg/calib"
	"github.com/omnicam/undistort/pkg/imageio"
	"github.com/omnicam/undistort/pkg/rectify"
)

// Fatal error kinds; the run aborts before touching any image when one
// of these is detected.
var (
	ErrInputRootMissing = errors.New("input directory does not exist")
	ErrBadLayout        = errors.New("input directory must contain exactly the folders front, left, rear, right")
	ErrOutputExists     = errors.New("output camera folder already exists, refusing to overwrite")
	ErrBadOptions       = errors.New("invalid options")
)

// Options configures a batch run.
type Options struct {
	InputRoot  string
	OutputRoot string
	CalibFile  string
	Scale      int    // output focal-length divisor, default 5
	Ext        string // image extension to process, default ".png"
	Workers    int    // images rectified concurrently per folder, default 1
	Verbose    bool
}

// Validate checks the options and fills in defaults.
func (o *Options) Validate() error {
	if o.InputRoot == "" || o.OutputRoot == "" || o.CalibFile == "" {
		return fmt.Errorf("%w: input, output and calibration paths are all required", ErrBadOptions)
	}
	if o.Scale == 0 {
		o.Scale = 5
	}
	if o.Scale < 0 {
		return fmt.Errorf("%w: scale must be positive, got %d", ErrBadOptions, o.Scale)
	}
	if o.Ext == "" {
		o.Ext = ".png"
	}
	if o.Ext[0] != '.' {
		o.Ext = "." + o.Ext
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	return nil
}

// Summary reports what a completed run did.
type Summary struct {
	Processed int
	Skipped   int
}

// Run executes a full batch. Configuration and folder-layout problems
// abort the run before any image is read; individual image failures
// are logged and skipped.
func Run(opts Options) (Summary, error) {
	var summary Summary

	if err := opts.Validate(); err != nil {
		return summary, err
	}

	doc, err := calib.Load(opts.CalibFile)
	if err != nil {
		return summary, err
	}

	// All four camera models up front, so a bad record aborts before
	// any image I/O.
	rectifiers := make(map[calib.Slot]*rectify.Rectifier, len(calib.Slots()))
	for _, slot := range calib.Slots() {
		model, err := calib.Extract(doc, slot, float64(opts.Scale))
		if err != nil {
			return summary, fmt.Errorf("camera %s: %w", slot, err)
		}
		r, err := rectify.New(model)
		if err != nil {
			return summary, fmt.Errorf("camera %s: %w", slot, err)
		}
		rectifiers[slot] = r
	}

	if err := checkInputLayout(opts.InputRoot); err != nil {
		return summary, err
	}
	if err := prepareOutputLayout(opts.OutputRoot, opts.Verbose); err != nil {
		return summary, err
	}

	for _, slot := range calib.Slots() {
		inDir := filepath.Join(opts.InputRoot, slot.String())
		outDir := filepath.Join(opts.OutputRoot, slot.String())

		files, err := fsutil.ListImageFiles(inDir, opts.Ext)
		if err != nil {
			return summary, fmt.Errorf("failed to list %s: %w", inDir, err)
		}

		log.Printf("rectifying %d image(s) in %s", len(files), inDir)
		processed, skipped := processFolder(files, outDir, rectifiers[slot], opts)
		summary.Processed += processed
		summary.Skipped += skipped
	}

	return summary, nil
}

// checkInputLayout requires the immediate subdirectories of the input
// root to be exactly the four camera folders, no more, no fewer.
func checkInputLayout(root string) error {
	if !fsutil.DirExists(root) {
		return fmt.Errorf("%w: %s", ErrInputRootMissing, root)
	}

	subdirs, err := fsutil.ListSubdirs(root)
	if err != nil {
		return fmt.Errorf("failed to read input directory: %w", err)
	}

	want := calib.SlotNames()
	if len(subdirs) != len(want) {
		return fmt.Errorf("%w: found %d folder(s)", ErrBadLayout, len(subdirs))
	}
	found := make(map[string]bool, len(subdirs))
	for _, name := range subdirs {
		found[name] = true
	}
	for _, name := range want {
		if !found[name] {
			return fmt.Errorf("%w: missing %s", ErrBadLayout, name)
		}
	}
	return nil
}

// prepareOutputLayout creates the output root and the four camera
// folders. A pre-existing root is tolerated; a pre-existing camera
// folder aborts the run so no earlier results get overwritten.
func prepareOutputLayout(root string, verbose bool) error {
	if fsutil.DirExists(root) {
		if verbose {
			log.Printf("output directory %s already exists", root)
		}
	} else if err := fsutil.EnsureDir(root); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	for _, name := range calib.SlotNames() {
		dir := filepath.Join(root, name)
		if fsutil.DirExists(dir) {
			return fmt.Errorf("%w: %s", ErrOutputExists, dir)
		}
	}
	for _, name := range calib.SlotNames() {
		if err := os.MkdirAll(filepath.Join(root, name), 0755); err != nil {
			return fmt.Errorf("failed to create output folder %s: %w", name, err)
		}
	}
	return nil
}

// processFolder rectifies every file into outDir. A failing image is
// logged with its own path and skipped; it never aborts its siblings.
func processFolder(files []string, outDir string, r *rectify.Rectifier, opts Options) (processed, skipped int) {
	if opts.Workers <= 1 {
		for _, path := range files {
			if processOne(path, outDir, r, opts.Verbose) {
				processed++
			} else {
				skipped++
			}
		}
		return processed, skipped
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		queue = make(chan string)
	)
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range queue {
				ok := processOne(path, outDir, r, opts.Verbose)
				mu.Lock()
				if ok {
					processed++
				} else {
					skipped++
				}
				mu.Unlock()
			}
		}()
	}
	for _, path := range files {
		queue <- path
	}
	close(queue)
	wg.Wait()
	return processed, skipped
}

// processOne decodes, rectifies and writes a single image, reporting
// whether it succeeded.
func processOne(path, outDir string, r *rectify.Rectifier, verbose bool) bool {
	img, err := imageio.Load(path)
	if err != nil {
		log.Printf("warning: skipping %s: %v", path, err)
		return false
	}

	out, err := r.Rectify(img)
	if err != nil {
		log.Printf("warning: skipping %s: rectification failed: %v", path, err)
		return false
	}

	outPath := filepath.Join(outDir, filepath.Base(path))
	if err := imageio.Save(out, outPath); err != nil {
		log.Printf("warning: failed to save %s: %v", outPath, err)
		return false
	}

	if verbose {
		log.Printf("wrote %s", outPath)
	}
	return true
}
