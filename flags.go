package main

import (
	"fmt"
	"io"

	flag "github.com/spf13/pflag"

	"mp_publisher/config"
)

// commonFlags holds flags shared across commands.
type commonFlags struct {
	config  string
	verbose bool
}

type publishFlags struct {
	common       commonFlags
	title        string
	author       string
	digest       string
	cover        string
	coverMediaID string
}

type previewFlags struct {
	common commonFlags
	output string
}

type copyFlags struct {
	common commonFlags
	text   bool
}

type materialsFlags struct {
	common commonFlags
	page   int
	count  int
}

type serveFlags struct {
	common commonFlags
	addr   string
}

func addCommonFlags(fs *flag.FlagSet, f *commonFlags) {
	fs.StringVarP(&f.config, "config", "c", config.DefaultPath, "path to config.json or config.toml")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logs")
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// parse runs fs over args and wraps failures as usage errors.
func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	return nil
}

// oneArg returns the single positional argument of fs.
func oneArg(fs *flag.FlagSet, what string) (string, error) {
	if fs.NArg() != 1 {
		return "", fmt.Errorf("%w: %s expects exactly one %s", ErrUsage, fs.Name(), what)
	}
	return fs.Arg(0), nil
}

func parsePublishFlags(args []string, stderr io.Writer) (*publishFlags, string, error) {
	fs := newFlagSet("publish", stderr)
	f := &publishFlags{}
	addCommonFlags(fs, &f.common)
	fs.StringVarP(&f.title, "title", "t", "", "article title (default: frontmatter title or file name)")
	fs.StringVarP(&f.author, "author", "a", "", "author name")
	fs.StringVarP(&f.digest, "digest", "d", "", "article digest")
	fs.StringVar(&f.cover, "cover", "", "cover image, relative to the document")
	fs.StringVar(&f.coverMediaID, "cover-media-id", "", "media id of an uploaded cover")
	if err := parse(fs, args); err != nil {
		return nil, "", err
	}
	doc, err := oneArg(fs, "document")
	return f, doc, err
}

func parsePreviewFlags(args []string, stderr io.Writer) (*previewFlags, string, error) {
	fs := newFlagSet("preview", stderr)
	f := &previewFlags{}
	addCommonFlags(fs, &f.common)
	fs.StringVarP(&f.output, "output", "o", "", "write the HTML to a file instead of stdout")
	if err := parse(fs, args); err != nil {
		return nil, "", err
	}
	doc, err := oneArg(fs, "document")
	return f, doc, err
}

func parseCopyFlags(args []string, stderr io.Writer) (*copyFlags, string, error) {
	fs := newFlagSet("copy", stderr)
	f := &copyFlags{}
	addCommonFlags(fs, &f.common)
	fs.BoolVar(&f.text, "text", false, "print the plain-text flavour")
	if err := parse(fs, args); err != nil {
		return nil, "", err
	}
	doc, err := oneArg(fs, "document")
	return f, doc, err
}

func parseMaterialsFlags(args []string, stderr io.Writer) (*materialsFlags, error) {
	fs := newFlagSet("materials", stderr)
	f := &materialsFlags{}
	addCommonFlags(fs, &f.common)
	fs.IntVarP(&f.page, "page", "p", 0, "zero-based page")
	fs.IntVarP(&f.count, "count", "n", 20, "items per page (1-20)")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	if fs.NArg() != 0 {
		return nil, fmt.Errorf("%w: materials takes no arguments", ErrUsage)
	}
	if f.page < 0 || f.count < 1 || f.count > 20 {
		return nil, fmt.Errorf("%w: page must be >= 0 and count between 1 and 20", ErrUsage)
	}
	return f, nil
}

func parseCoverFlags(args []string, stderr io.Writer) (*commonFlags, string, error) {
	fs := newFlagSet("cover", stderr)
	f := &commonFlags{}
	addCommonFlags(fs, f)
	if err := parse(fs, args); err != nil {
		return nil, "", err
	}
	img, err := oneArg(fs, "image")
	return f, img, err
}

func parseServeFlags(args []string, stderr io.Writer) (*serveFlags, error) {
	fs := newFlagSet("serve", stderr)
	f := &serveFlags{}
	addCommonFlags(fs, &f.common)
	fs.StringVar(&f.addr, "addr", "", "listen address (default: server_addr from config)")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	if fs.NArg() != 0 {
		return nil, fmt.Errorf("%w: serve takes no arguments", ErrUsage)
	}
	return f, nil
}
