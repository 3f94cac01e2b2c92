package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunResolvesStdin(t *testing.T) {
	input := strings.Join([]string{
		`{"id":1,"text":"The patient has no signs of infection.","cues":["no"],"scopes":[{"scope":"signs of infection"}]}`,
		`not json`,
		`{"id":2,"text":"no fever","cues":["no"],"scopes":[{"scope":"fever","positions":[[0,2]]}]}`,
	}, "\n")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-log-level", "info"}, strings.NewReader(input), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr.String())
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d output lines, want 2: %s", len(lines), stdout.String())
	}
	if !strings.Contains(lines[0], `"positions":[[19,37]]`) {
		t.Errorf("first line not resolved: %s", lines[0])
	}
	if !strings.Contains(lines[0], `"id":1`) {
		t.Errorf("numeric id not preserved: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"positions":[[0,2]]`) {
		t.Errorf("existing positions overwritten: %s", lines[1])
	}
	if !strings.Contains(stderr.String(), "skipping malformed line") {
		t.Errorf("malformed line not reported: %s", stderr.String())
	}
}

func TestRunWritesFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.jsonl")
	out := filepath.Join(dir, "out.jsonl")
	if err := os.WriteFile(in, []byte(`{"id":"a","text":"no fever","cues":[],"scopes":[{"scope":"fever"}]}`+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-in", in, "-out", out}, nil, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr.String())
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"positions":[[3,8]]`) {
		t.Errorf("output = %s", data)
	}
	if stdout.Len() != 0 {
		t.Errorf("unexpected stdout: %s", stdout.String())
	}
}

func TestRunRejectsBadFlags(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-workers", "0"}, nil, &stdout, &stderr); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
	if code := run(context.Background(), []string{"-in", filepath.Join(t.TempDir(), "missing.jsonl")}, nil, &stdout, &stderr); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

type failingCloser struct {
	bytes.Buffer
}

func (f *failingCloser) Close() error {
	return errors.New("disk full")
}

func TestRunReportsCloseError(t *testing.T) {
	orig := createFile
	t.Cleanup(func() { createFile = orig })
	out := &failingCloser{}
	createFile = func(string) (io.WriteCloser, error) { return out, nil }

	var stdout, stderr bytes.Buffer
	input := strings.NewReader(`{"id":"a","text":"no fever","cues":[],"scopes":[{"scope":"fever"}]}`)
	if code := run(context.Background(), []string{"-out", "out.jsonl"}, input, &stdout, &stderr); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(out.String(), `"positions":[[3,8]]`) {
		t.Errorf("output not flushed before close: %q", out.String())
	}
	if !strings.Contains(stderr.String(), "disk full") {
		t.Errorf("close error not logged: %s", stderr.String())
	}
}
