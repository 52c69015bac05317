package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/omnicam/undistort/pkg/batch"
)

func main() {
	var opts batch.Options

	flag.StringVar(&opts.InputRoot, "in", "", "input directory with the distorted images; must contain the 4 camera sub-folders")
	flag.StringVar(&opts.OutputRoot, "out", "", "output directory for the rectified images; the 4 camera sub-folders are created")
	flag.StringVar(&opts.CalibFile, "calib", "", "path of the calibration .yaml file ('ncameras' format)")
	flag.IntVar(&opts.Scale, "scale", 5, "focal-length divisor for the rectified output (field of view)")
	flag.StringVar(&opts.Ext, "ext", "png", "image extension to process")
	flag.IntVar(&opts.Workers, "workers", 1, "images rectified concurrently per folder")
	flag.BoolVar(&opts.Verbose, "v", false, "verbose output")
	flag.Parse()

	if opts.InputRoot == "" || opts.OutputRoot == "" || opts.CalibFile == "" {
		log.Fatalf("usage: %s -in inputs_dir -out outputs_dir -calib calibration.yaml [-scale 5] [-ext png] [-workers 4] [-v]", filepath.Base(os.Args[0]))
	}

	if opts.Verbose {
		log.Printf("inputs: %s", opts.InputRoot)
		log.Printf("outputs: %s", opts.OutputRoot)
		log.Printf("calibration: %s", opts.CalibFile)
		log.Printf("scale: %d", opts.Scale)
	}

	summary, err := batch.Run(opts)
	if err != nil {
		log.Fatalf("aborted: %v", err)
	}

	log.Printf("finished: %d image(s) rectified, %d skipped, outputs in %s", summary.Processed, summary.Skipped, opts.OutputRoot)
}
