// docstore reads and writes type-preserving documents from the command line.
//
// Usage:
//
//	docstore get FILE [KEY...]
//	docstore set FILE KEY=VALUE...
//	docstore keys FILE
//	docstore convert SRC DST
//
// The file format follows the extension (.json, .yaml, .cbor, optionally
// followed by .zst for zstd compression).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	docstore "github.com/goliatone/go-docstore"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	configPath string
	sortExpr   string
	engine     string
	output     string
	indent     string
	verbose    bool
	tabular    bool
	deep       bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var flags cliFlags
	flagSet := pflag.NewFlagSet("docstore", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&flags.configPath, "config", os.Getenv("DOCSTORE_CONFIG"), "YAML or TOML config file (env DOCSTORE_CONFIG)")
	flagSet.StringVar(&flags.sortExpr, "sort-expr", "", "sort top-level keys or elements by this expression when saving")
	flagSet.StringVar(&flags.engine, "engine", "", "expression engine for --sort-expr: expr, cel or js")
	flagSet.StringVarP(&flags.output, "output", "o", "", "output format for get: json, yaml or cbor")
	flagSet.StringVar(&flags.indent, "indent", "", "indentation unit for written documents")
	flagSet.BoolVarP(&flags.verbose, "verbose", "v", false, "log debug output to stderr")
	flagSet.BoolVar(&flags.tabular, "tabular", false, "print get results as a table")
	flagSet.BoolVar(&flags.deep, "deep", false, "merge nested mappings on set instead of replacing them")
	flagSet.Usage = func() { printHelp(stderr, flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}
	if err := applyFlags(&cfg, flagSet, flags); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	app, err := newApp(cfg, logger, stdout)
	if err != nil {
		return err
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printHelp(stderr, flagSet)
		return fmt.Errorf("missing command")
	}
	command, operands := rest[0], rest[1:]
	switch command {
	case "get":
		if len(operands) < 1 {
			return fmt.Errorf("usage: docstore get FILE [KEY...]")
		}
		return app.get(ctx, operands[0], operands[1:], flags.tabular)
	case "set":
		if len(operands) < 2 {
			return fmt.Errorf("usage: docstore set FILE KEY=VALUE...")
		}
		return app.set(ctx, operands[0], operands[1:], flags.deep)
	case "keys":
		if len(operands) != 1 {
			return fmt.Errorf("usage: docstore keys FILE")
		}
		return app.keys(ctx, operands[0])
	case "convert":
		if len(operands) != 2 {
			return fmt.Errorf("usage: docstore convert SRC DST")
		}
		return app.convert(ctx, operands[0], operands[1])
	case "help":
		printHelp(stdout, flagSet)
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func applyFlags(cfg *config, flagSet *pflag.FlagSet, flags cliFlags) error {
	if flagSet.Changed("sort-expr") {
		cfg.SortExpr = strings.TrimSpace(flags.sortExpr)
	}
	if flagSet.Changed("engine") {
		cfg.Engine = strings.TrimSpace(flags.engine)
	}
	if flagSet.Changed("indent") {
		cfg.Indent = flags.indent
	}
	if flagSet.Changed("output") {
		format, err := docstore.ParseFormat(flags.output)
		if err != nil {
			return err
		}
		cfg.Output = format
	}
	if flags.verbose {
		cfg.LogLevel = slog.LevelDebug
	}
	return nil
}

type app struct {
	cfg      config
	logger   *slog.Logger
	registry *docstore.Registry
	stdout   io.Writer
}

func newApp(cfg config, logger *slog.Logger, stdout io.Writer) (*app, error) {
	registry, err := docstore.NewRegistry(
		docstore.WithHandlers(docstore.Builtins()...),
		docstore.WithRegistryLogger(logger),
		docstore.WithStrictConflicts(cfg.StrictRegistry),
	)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, registry: registry, stdout: stdout}, nil
}

func (a *app) open(path string) (*docstore.Store, error) {
	return docstore.NewFileStore(path,
		docstore.WithStoreLogger(a.logger),
		docstore.WithDocumentOptions(
			docstore.WithRegistry(a.registry),
			docstore.WithIndent(a.cfg.Indent),
		),
		docstore.WithEvaluatorOptions(docstore.WithProgramCache(docstore.NewProgramCache())),
		docstore.WithEvaluatorLogger(docstore.SlogEvaluatorLogger(a.logger)),
	)
}

func (a *app) saveOptions() []docstore.SaveOption {
	if a.cfg.SortExpr == "" {
		return nil
	}
	return []docstore.SaveOption{docstore.WithSortExpression(a.cfg.Engine, a.cfg.SortExpr)}
}

func (a *app) get(ctx context.Context, path string, keys []string, tabular bool) error {
	store, err := a.open(path)
	if err != nil {
		return err
	}
	var tree any
	if len(keys) == 0 {
		if tree, err = store.Load(ctx); err != nil {
			return err
		}
	} else {
		found, missing, err := store.Select(ctx, keys, nil)
		if err != nil {
			return err
		}
		for _, key := range missing {
			a.logger.Warn("key not found", "path", path, "key", key)
		}
		tree = found
	}

	if tabular {
		f, err := docstore.FrameOf(tree)
		if err != nil {
			return err
		}
		return printFrame(a.stdout, f)
	}

	doc := docstore.NewDocument(
		docstore.WithRegistry(a.registry),
		docstore.WithFormat(a.cfg.Output),
		docstore.WithIndent(a.cfg.Indent),
	)
	out, err := doc.Dump(tree)
	if err != nil {
		return err
	}
	if _, err := a.stdout.Write(out); err != nil {
		return err
	}
	if a.cfg.Output != docstore.FormatCBOR && (len(out) == 0 || out[len(out)-1] != '\n') {
		_, err = io.WriteString(a.stdout, "\n")
	}
	return err
}

// set parses each VALUE as JSON whatever the output format, envelopes
// included, and falls back to the raw string.
func (a *app) set(ctx context.Context, path string, assignments []string, deep bool) error {
	store, err := a.open(path)
	if err != nil {
		return err
	}
	values := docstore.NewMap()
	parser := docstore.NewDocument(docstore.WithRegistry(a.registry), docstore.WithFormat(docstore.FormatJSON))
	for _, assignment := range assignments {
		key, raw, ok := strings.Cut(assignment, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid assignment %q (want KEY=VALUE)", assignment)
		}
		value, err := parser.Parse([]byte(raw))
		if err != nil {
			var derr *docstore.DeserializeError
			if errors.As(err, &derr) && derr.Tag != "" {
				return fmt.Errorf("value for %q: %w", key, err)
			}
			value = raw
		}
		values.Set(key, value)
	}
	opts := a.saveOptions()
	if deep {
		opts = append(opts, docstore.WithDeepMerge())
	}
	meta, err := store.Save(ctx, values, opts...)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.stdout, "%s %s\n", meta.ETag, meta.SnapshotID)
	return err
}

func (a *app) keys(ctx context.Context, path string) error {
	store, err := a.open(path)
	if err != nil {
		return err
	}
	tree, err := store.Load(ctx)
	if err != nil {
		return err
	}
	switch v := tree.(type) {
	case *docstore.Map:
		for _, key := range v.Keys() {
			if _, err := fmt.Fprintln(a.stdout, key); err != nil {
				return err
			}
		}
	case []any:
		for i := range v {
			if _, err := fmt.Fprintln(a.stdout, i); err != nil {
				return err
			}
		}
	}
	return nil
}

// convert merges the whole of SRC into DST, creating DST when missing.
func (a *app) convert(ctx context.Context, src, dst string) error {
	from, err := a.open(src)
	if err != nil {
		return err
	}
	if !from.Exists(ctx) {
		return fmt.Errorf("%s does not exist", src)
	}
	tree, err := from.Load(ctx)
	if err != nil {
		return err
	}
	to, err := a.open(dst)
	if err != nil {
		return err
	}
	_, err = to.Save(ctx, tree, a.saveOptions()...)
	return err
}

type table interface {
	Columns() []string
	Index() []string
	Rows() [][]any
}

func printFrame(w io.Writer, f table) error {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintf(tw, "\t%s\n", strings.Join(f.Columns(), "\t"))
	index := f.Index()
	for i, row := range f.Rows() {
		cells := make([]string, len(row))
		for j, cell := range row {
			if cell == nil {
				cells[j] = "-"
				continue
			}
			cells[j] = fmt.Sprint(cell)
		}
		fmt.Fprintf(tw, "%s\t%s\n", index[i], strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprint(w, `docstore: read and write type-preserving documents.

Usage:
  docstore [flags] get FILE [KEY...]
  docstore [flags] set FILE KEY=VALUE...
  docstore [flags] keys FILE
  docstore [flags] convert SRC DST

Values given to set are parsed as JSON, including {"__type__": ..., "repr": ...}
envelopes; anything that is not JSON is stored as a string.

Flags:
`)
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}
