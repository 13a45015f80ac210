package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	flag "github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"

	"mp_publisher/server"
	"mp_publisher/service"
)

// Version is set at build time via ldflags.
var Version = "dev"

const usage = `mp-publisher %s

Usage:
  mp-publisher <command> [flags] [argument]

Commands:
  publish <document>   convert and push a markdown note to the WeChat draft box
  preview <document>   print the styled article HTML
  copy <document>      print the clipboard payload with images inlined
  materials            list uploaded image materials
  cover <image>        upload a cover image and print its media id
  serve                start the HTTP API
  version              print the version

Documents are vault paths or file paths inside the vault.
Run "mp-publisher <command> --help" for command flags.
`

func main() {
	verbose := slices.Contains(os.Args[1:], "-v") || slices.Contains(os.Args[1:], "--verbose")
	if verbose {
		_, _ = maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		}))
	} else {
		_, _ = maxprocs.Set(maxprocs.Logger(func(string, ...interface{}) {}))
	}

	ctx, stop := notifyContext(context.Background())
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(ExitSuccess)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprintf(stderr, usage, Version)
		return fmt.Errorf("%w: missing command", ErrUsage)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "publish":
		return runPublish(ctx, rest, stdout, stderr)
	case "preview":
		return runPreview(ctx, rest, stdout, stderr)
	case "copy":
		return runCopy(ctx, rest, stdout, stderr)
	case "materials":
		return runMaterials(ctx, rest, stdout, stderr)
	case "cover":
		return runCover(ctx, rest, stdout, stderr)
	case "serve":
		return runServe(ctx, rest, stderr)
	case "version", "--version":
		fmt.Fprintf(stdout, "mp-publisher %s\n", Version)
		return nil
	case "help", "-h", "--help":
		fmt.Fprintf(stdout, usage, Version)
		return nil
	default:
		fmt.Fprintf(stderr, usage, Version)
		return fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
	}
}

// setup loads the configuration and wires the pipeline. The caller closes the app.
func setup(ctx context.Context, f commonFlags, stderr io.Writer) (*app, error) {
	cfg, err := loadConfig(f.config, f.verbose)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, stderr)
}

func runPublish(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	f, arg, err := parsePublishFlags(args, stderr)
	if err != nil {
		return err
	}
	a, err := setup(ctx, f.common, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.documentPath(arg)
	if err != nil {
		return err
	}
	res, err := a.service.Publish(ctx, service.PublishRequest{
		Path:         doc,
		Title:        f.title,
		Author:       f.author,
		Digest:       f.digest,
		Cover:        f.cover,
		CoverMediaID: f.coverMediaID,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "published %q to the draft box\n", res.Title)
	return nil
}

func runPreview(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	f, arg, err := parsePreviewFlags(args, stderr)
	if err != nil {
		return err
	}
	a, err := setup(ctx, f.common, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.documentPath(arg)
	if err != nil {
		return err
	}
	p, err := a.service.Preview(ctx, doc)
	if err != nil {
		return err
	}
	if f.output == "" {
		_, err = io.WriteString(stdout, p.HTML+"\n")
		return err
	}
	if dir := filepath.Dir(f.output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("write preview: %w", err)
		}
	}
	if err := os.WriteFile(f.output, []byte(p.HTML), 0o644); err != nil {
		return fmt.Errorf("write preview: %w", err)
	}
	fmt.Fprintf(stderr, "preview written to %s\n", f.output)
	return nil
}

func runCopy(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	f, arg, err := parseCopyFlags(args, stderr)
	if err != nil {
		return err
	}
	a, err := setup(ctx, f.common, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.documentPath(arg)
	if err != nil {
		return err
	}
	clip, err := a.service.Copy(ctx, doc)
	if err != nil {
		return err
	}
	out := clip.HTML
	if f.text {
		out = clip.Text
	}
	_, err = io.WriteString(stdout, out+"\n")
	return err
}

func runMaterials(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	f, err := parseMaterialsFlags(args, stderr)
	if err != nil {
		return err
	}
	a, err := setup(ctx, f.common, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	page, err := a.service.Materials(ctx, f.page, f.count)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(page)
}

func runCover(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	f, img, err := parseCoverFlags(args, stderr)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(img)
	if err != nil {
		return fmt.Errorf("read cover: %w", err)
	}
	a, err := setup(ctx, *f, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.service.UploadCover(ctx, data, filepath.Base(img))
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, id)
	return nil
}

func runServe(ctx context.Context, args []string, stderr io.Writer) error {
	f, err := parseServeFlags(args, stderr)
	if err != nil {
		return err
	}
	a, err := setup(ctx, f.common, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := server.New(a.service, server.Options{
		MaxCoverSize: a.cfg.Images.MaxBytes(),
		Logger:       a.logger,
	})
	if err != nil {
		return err
	}
	addr := a.cfg.ServerAddr
	if f.addr != "" {
		addr = f.addr
	}
	return srv.Run(ctx, addr)
}
