package docstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/goliatone/go-docstore/frame"
	"github.com/goliatone/go-docstore/pkg/activity"
	"github.com/goliatone/go-docstore/pkg/state"
)

// Meta is the storage metadata returned by Save and Stat.
type Meta = state.Meta

// Store persists one document under one backend key with load-merge-save
// semantics. Concurrent saves to the same key race; the last write wins
// unless callers use WithExpectedETag.
type Store struct {
	backend    state.Backend
	key        string
	doc        *Document
	logger     Logger
	emitter    *activity.Emitter
	evalOpts   []EvaluatorOption
	evalLogger EvaluatorLogger
}

// StoreOption configures a Store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	doc        *Document
	docOpts    []DocumentOption
	logger     Logger
	hooks      activity.Hooks
	channel    string
	fileOpts   []state.FileOption
	evalOpts   []EvaluatorOption
	evalLogger EvaluatorLogger
}

// WithDocument sets the Document used to encode and decode. It overrides
// WithDocumentOptions.
func WithDocument(doc *Document) StoreOption {
	return func(cfg *storeConfig) {
		cfg.doc = doc
	}
}

// WithDocumentOptions configures the Store's Document. Without WithFormat
// the format follows the path extension.
func WithDocumentOptions(opts ...DocumentOption) StoreOption {
	return func(cfg *storeConfig) {
		cfg.docOpts = append(cfg.docOpts, opts...)
	}
}

// WithStoreLogger attaches a logger.
func WithStoreLogger(logger Logger) StoreOption {
	return func(cfg *storeConfig) {
		cfg.logger = logger
	}
}

// WithActivityHooks emits document lifecycle events to hooks on channel
// (default "docstore").
func WithActivityHooks(hooks activity.Hooks, channel string) StoreOption {
	return func(cfg *storeConfig) {
		cfg.hooks = append(cfg.hooks, hooks...)
		cfg.channel = channel
	}
}

// WithFileMode sets the permission bits of written files. File stores only.
func WithFileMode(mode os.FileMode) StoreOption {
	return func(cfg *storeConfig) {
		cfg.fileOpts = append(cfg.fileOpts, state.WithFileMode(mode))
	}
}

// WithCompression forces zstd compression on or off. File stores only; by
// default only paths ending in CompressedSuffix are compressed.
func WithCompression(enabled bool) StoreOption {
	return func(cfg *storeConfig) {
		cfg.fileOpts = append(cfg.fileOpts, state.WithCompression(enabled))
	}
}

// WithEvaluatorOptions configures the evaluators built for
// WithSortExpression.
func WithEvaluatorOptions(opts ...EvaluatorOption) StoreOption {
	return func(cfg *storeConfig) {
		cfg.evalOpts = append(cfg.evalOpts, opts...)
	}
}

// WithEvaluatorLogger records every sort-key evaluation run.
func WithEvaluatorLogger(logger EvaluatorLogger) StoreOption {
	return func(cfg *storeConfig) {
		cfg.evalLogger = logger
	}
}

// NewFileStore returns a Store over the file at path. The format follows the
// path extension unless a Document is supplied.
func NewFileStore(path string, opts ...StoreOption) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, configError("store", "path is required")
	}
	cfg := applyStoreOptions(opts)
	backend := state.NewFileBackend(cfg.fileOpts...)
	return newStore(backend, path, cfg), nil
}

// NewStore returns a Store over an arbitrary backend. The format follows
// the key's extension unless a Document is supplied.
func NewStore(backend state.Backend, key string, opts ...StoreOption) (*Store, error) {
	if backend == nil {
		return nil, configError("store", "backend is required")
	}
	if strings.TrimSpace(key) == "" {
		return nil, configError("store", "key is required")
	}
	return newStore(backend, key, applyStoreOptions(opts)), nil
}

func applyStoreOptions(opts []StoreOption) storeConfig {
	cfg := storeConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

func newStore(backend state.Backend, key string, cfg storeConfig) *Store {
	logger := loggerOrNoop(cfg.logger)
	doc := cfg.doc
	if doc == nil {
		docOpts := append([]DocumentOption{WithFormat(FormatForPath(key)), WithLogger(logger)}, cfg.docOpts...)
		doc = NewDocument(docOpts...)
	}
	evalLogger := cfg.evalLogger
	if evalLogger == nil {
		evalLogger = noopEvaluatorLogger{}
	}
	return &Store{
		backend:    backend,
		key:        key,
		doc:        doc,
		logger:     logger,
		emitter:    activity.NewEmitter(cfg.hooks, cfg.channel),
		evalOpts:   cfg.evalOpts,
		evalLogger: evalLogger,
	}
}

// Path returns the backend key, a file path for file stores.
func (s *Store) Path() string {
	return s.key
}

// Document returns the Document used for encoding.
func (s *Store) Document() *Document {
	return s.doc
}

// Exists reports whether a document is stored. Backend failures count as
// absent.
func (s *Store) Exists(ctx context.Context) bool {
	_, ok, err := s.backend.Stat(ctx, s.key)
	return ok && err == nil
}

// Stat returns the stored document's metadata.
func (s *Store) Stat(ctx context.Context) (Meta, bool, error) {
	return s.backend.Stat(ctx, s.key)
}

// Load returns the stored tree. A missing document loads as an empty *Map;
// read and parse failures are DeserializeErrors carrying the path.
func (s *Store) Load(ctx context.Context) (any, error) {
	tree, meta, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		s.emit(ctx, activity.BuildDocumentLoadedEvent(activity.Document{
			Path:       s.key,
			Format:     string(s.doc.Format()),
			SnapshotID: meta.SnapshotID,
			ETag:       meta.ETag,
		}))
	}
	return tree, nil
}

func (s *Store) load(ctx context.Context) (any, *Meta, error) {
	data, meta, ok, err := s.backend.Read(ctx, s.key)
	if err != nil {
		return nil, nil, wrapDeserializeError(s.key, err)
	}
	if !ok {
		return NewMap(), nil, nil
	}
	tree, err := s.doc.Parse(data)
	if err != nil {
		return nil, nil, wrapDeserializeError(s.key, err)
	}
	return tree, &meta, nil
}

// LoadFrame loads the document as a table. A mapping of mappings becomes a
// frame indexed by its top-level keys; a sequence of mappings gets a
// positional index. A missing document loads as an empty frame.
func (s *Store) LoadFrame(ctx context.Context) (*frame.Frame, error) {
	tree, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	f, err := FrameOf(tree)
	if err != nil {
		return nil, wrapDeserializeError(s.key, err)
	}
	return f, nil
}

// FrameOf reshapes a loaded tree into a frame. A mapping of scalars becomes
// a single-column frame named "value".
func FrameOf(tree any) (*frame.Frame, error) {
	switch v := tree.(type) {
	case *Map:
		index := v.Keys()
		rows := make([]frame.Row, 0, len(index))
		scalars := true
		v.Range(func(_ string, item any) bool {
			if row, ok := item.(*Map); ok {
				scalars = false
				rows = append(rows, row)
			}
			return true
		})
		if len(rows) == len(index) {
			return frame.FromRows(index, rows)
		}
		if scalars {
			cells := make([][]any, len(index))
			for i, key := range index {
				value, _ := v.Get(key)
				cells[i] = []any{value}
			}
			return frame.New([]string{"value"}, index, cells)
		}
		return nil, fmt.Errorf("docstore: mapping mixes records and scalars")
	case []any:
		rows := make([]frame.Row, len(v))
		for i, item := range v {
			row, ok := item.(*Map)
			if !ok {
				return nil, fmt.Errorf("docstore: element %d is %T, not a mapping", i, item)
			}
			rows[i] = row
		}
		return frame.FromRows(nil, rows)
	case *frame.Frame:
		return v, nil
	default:
		return nil, fmt.Errorf("docstore: %T cannot be shaped into a frame", tree)
	}
}

// Save merges data into the stored document and writes the result. data
// must be a mapping or sequence. The merged document is fully encoded before
// the backend is touched, so an unknown type or a failing sort leaves the
// stored document unchanged.
func (s *Store) Save(ctx context.Context, data any, opts ...SaveOption) (Meta, error) {
	cfg, err := s.saveConfig(opts)
	if err != nil {
		return Meta{}, err
	}
	incoming, err := documentRoot(data)
	if err != nil {
		return Meta{}, err
	}

	existing, previous, err := s.load(ctx)
	if err != nil {
		return Meta{}, err
	}
	merge := ShallowMerge
	if cfg.deep {
		merge = DeepMerge
	}
	merged, err := merge(existing, incoming)
	if err != nil {
		return Meta{}, err
	}
	if cfg.sorter != nil {
		if merged, err = cfg.sorter.apply(merged); err != nil {
			return Meta{}, err
		}
	}

	encoded, err := s.doc.Dump(merged)
	if err != nil {
		return Meta{}, err
	}

	s.logger.Debug("writing", "path", s.key)
	meta, err := s.backend.Write(ctx, s.key, encoded, Meta{ETag: cfg.expectedETag})
	if err != nil {
		if errors.Is(err, state.ErrETagMismatch) {
			return Meta{}, fmt.Errorf("%w: %w", ErrETagMismatch, err)
		}
		return Meta{}, fmt.Errorf("docstore: write %s: %w", s.key, err)
	}
	s.logger.Debug("finished writing", "path", s.key)

	input := activity.Document{
		Path:       s.key,
		Format:     string(s.doc.Format()),
		SnapshotID: meta.SnapshotID,
		ETag:       meta.ETag,
		Keys:       topLevelKeys(incoming),
		Sorted:     cfg.sorter != nil,
	}
	if previous == nil {
		s.logger.Info("created document", "path", s.key)
		s.emit(ctx, activity.BuildDocumentCreatedEvent(input))
	} else {
		input.PreviousETag = previous.ETag
		s.emit(ctx, activity.BuildDocumentSavedEvent(input))
	}
	return meta, nil
}

// Select returns the entries of the stored mapping named by keys. mangler,
// when set, rewrites each key before lookup; results are keyed by the
// original key. Keys with no entry are returned in missing.
func (s *Store) Select(ctx context.Context, keys []string, mangler func(string) string) (*Map, []string, error) {
	tree, err := s.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	m, ok := tree.(*Map)
	if !ok {
		return nil, nil, configError("select", "document root is %T, not a mapping", tree)
	}
	found := NewMap()
	var missing []string
	for _, key := range keys {
		lookup := key
		if mangler != nil {
			lookup = mangler(key)
		}
		if value, ok := m.Get(lookup); ok {
			found.Set(key, value)
			continue
		}
		missing = append(missing, key)
	}
	return found, missing, nil
}

func (s *Store) emit(ctx context.Context, event activity.Event) {
	if !s.emitter.Enabled() {
		return
	}
	if err := s.emitter.Emit(ctx, event); err != nil {
		s.logger.Warn("activity hook failed", "path", s.key, "verb", event.Verb, "error", err)
	}
}

// SaveOption configures one Save call.
type SaveOption func(*saveConfig)

type saveConfig struct {
	compare      Comparator
	keyFunc      KeyFunc
	engine       string
	expr         string
	evaluator    Evaluator
	args         map[string]any
	deep         bool
	expectedETag string

	sorter *sorter
}

// WithSort reorders the merged document's top-level keys (mapping) or
// elements (sequence) with compare. A nil comparator leaves the order alone.
func WithSort(compare Comparator) SaveOption {
	return func(cfg *saveConfig) {
		cfg.compare = compare
	}
}

// WithSortKey sorts by the keys fn derives from each mapping key or
// sequence element. Combine with WithSort to change the key order; the
// default is Ascending.
func WithSortKey(fn KeyFunc) SaveOption {
	return func(cfg *saveConfig) {
		cfg.keyFunc = fn
	}
}

// WithSortExpression sorts by the value of expr evaluated per item with the
// named engine ("expr", "cel", "js"). Unknown engines and expressions that
// fail to compile are configuration errors.
func WithSortExpression(engine, expr string) SaveOption {
	return func(cfg *saveConfig) {
		cfg.engine = engine
		cfg.expr = expr
	}
}

// WithSortEvaluator sorts by expr evaluated with a caller-supplied
// evaluator.
func WithSortEvaluator(evaluator Evaluator, expr string) SaveOption {
	return func(cfg *saveConfig) {
		cfg.evaluator = evaluator
		cfg.expr = expr
	}
}

// WithSortArgs exposes args to sort expressions as "args".
func WithSortArgs(args map[string]any) SaveOption {
	return func(cfg *saveConfig) {
		cfg.args = args
	}
}

// WithDeepMerge merges nested mappings present in both documents instead of
// replacing them.
func WithDeepMerge() SaveOption {
	return func(cfg *saveConfig) {
		cfg.deep = true
	}
}

// WithExpectedETag fails the save with ErrETagMismatch unless the stored
// document still has etag.
func WithExpectedETag(etag string) SaveOption {
	return func(cfg *saveConfig) {
		cfg.expectedETag = etag
	}
}

func (s *Store) saveConfig(opts []SaveOption) (saveConfig, error) {
	cfg := saveConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	var key func(SortContext) (any, error)
	engine := ""
	switch {
	case cfg.expr != "" || cfg.engine != "" || cfg.evaluator != nil:
		evaluator := cfg.evaluator
		if evaluator == nil {
			var err error
			if evaluator, err = NewEvaluator(cfg.engine, s.evalOpts...); err != nil {
				return saveConfig{}, err
			}
		}
		compiled, err := compileSortKey(evaluator, cfg.expr, cfg.args)
		if err != nil {
			return saveConfig{}, err
		}
		key = compiled
		engine = evaluator.Engine()
	case cfg.keyFunc != nil:
		fn := cfg.keyFunc
		key = func(ctx SortContext) (any, error) {
			return fn(ctx.Key)
		}
	case cfg.compare == nil:
		return cfg, nil
	}

	srt := &sorter{compare: cfg.compare, key: key}
	if cfg.expr != "" {
		expr := cfg.expr
		srt.onDone = func(items int, duration time.Duration, err error) {
			s.evalLogger.LogEvaluation(EvaluatorLogEvent{
				Engine:   engine,
				Expr:     expr,
				Items:    items,
				Duration: duration,
				Err:      err,
			})
		}
	}
	cfg.sorter = srt
	return cfg, nil
}

// documentRoot accepts a mapping or sequence in any common Go shape and
// returns it as *Map or []any. Elements and values are left for the codec.
func documentRoot(data any) (any, error) {
	switch v := data.(type) {
	case *Map:
		if v == nil {
			return NewMap(), nil
		}
		return v, nil
	case []any:
		return v, nil
	case map[string]any:
		return mapFromGo(v), nil
	case nil:
		return nil, configError("save", "document root must be a mapping or sequence, got nil")
	}

	rv := reflect.ValueOf(data)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			break
		}
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return items, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		plain := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			plain[iter.Key().String()] = iter.Value().Interface()
		}
		return documentRoot(plain)
	}
	return nil, configError("save", "document root must be a mapping or sequence, got %T", data)
}

func topLevelKeys(tree any) []string {
	if m, ok := tree.(*Map); ok {
		return m.Keys()
	}
	return nil
}
