// cmd/resolve/main.go
//
// resolve fills in missing scope positions of an annotation file offline,
// using the same resolver as the review server.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Corphon/AutoAnnotator/internal/services"
	"github.com/Corphon/AutoAnnotator/internal/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	in := fs.String("in", "-", "input JSONL file, - for stdin")
	out := fs.String("out", "-", "output JSONL file, - for stdout")
	workers := fs.Int("workers", 4, "number of annotations resolved concurrently")
	level := fs.String("log-level", "warn", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *workers <= 0 {
		fmt.Fprintln(stderr, "workers must be positive")
		return 2
	}

	logger := utils.NewLogger(stderr, utils.ParseLogLevel(*level))
	metrics := utils.NewMetricsCollector()
	svc := services.NewAnnotationService(services.AnnotationServiceOptions{
		Workers: *workers,
		Logger:  logger,
		Metrics: metrics,
	})

	content, err := readInput(*in, stdin)
	if err != nil {
		logger.Error("failed to read input", map[string]interface{}{"path": *in, "error": err.Error()})
		return 1
	}

	anns, warnings := svc.ParseLines(content)
	if err := svc.ResolveAll(ctx, anns); err != nil {
		logger.Error("resolution aborted", map[string]interface{}{"error": err.Error()})
		return 1
	}

	if err := writeOutput(*out, stdout, func(w *bufio.Writer) error {
		for _, ann := range anns {
			line, err := json.Marshal(ann)
			if err != nil {
				return err
			}
			w.Write(line)
			w.WriteByte('\n')
		}
		return nil
	}); err != nil {
		logger.Error("failed to write output", map[string]interface{}{"path": *out, "error": err.Error()})
		return 1
	}

	logger.Info("resolution finished", map[string]interface{}{
		"annotations":   len(anns),
		"skipped_lines": len(warnings),
		"window":        metrics.GetCounterValue("resolver.window"),
		"literal":       metrics.GetCounterValue("resolver.literal"),
		"missed":        metrics.GetCounterValue("resolver.miss"),
	})
	return 0
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// createFile opens the output file; replaced in tests
var createFile = func(path string) (io.WriteCloser, error) {
	return os.Create(path)
}

func writeOutput(path string, stdout io.Writer, write func(*bufio.Writer) error) (err error) {
	dst := stdout
	if path != "-" {
		file, cerr := createFile(path)
		if cerr != nil {
			return cerr
		}
		defer func() {
			if cerr := file.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		dst = file
	}

	w := bufio.NewWriter(dst)
	if err := write(w); err != nil {
		return err
	}
	return w.Flush()
}
