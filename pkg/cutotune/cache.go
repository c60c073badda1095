package cutotune

import (
	"bytes"
	"encoding"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const cacheFileVersion = 1

// Trial is one measured config.
type Trial struct {
	Config Config
	Time   time.Duration
}

// EnumDecoder turns the serialized form of an enum parameter back into its
// typed value.
type EnumDecoder func(s string) (any, error)

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithEnum registers the decoder for an enum-typed parameter.
func WithEnum(param string, decode EnumDecoder) CacheOption {
	return func(c *Cache) {
		c.enums[param] = decode
	}
}

// Cache keeps every trial ever measured, per operation identity and lookup
// key, and persists them as YAML. The best config per key is always derived
// from the raw trials.
type Cache struct {
	mu     sync.RWMutex
	path   string
	names  map[string]string
	trials map[string]map[Key][]Trial
	enums  map[string]EnumDecoder
}

// NewCache returns an empty cache bound to path.
func NewCache(path string, opts ...CacheOption) *Cache {
	c := &Cache{
		path:   path,
		names:  make(map[string]string),
		trials: make(map[string]map[Key][]Trial),
		enums:  make(map[string]EnumDecoder),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OpenCache returns the cache at env.CacheFile, loading it when
// env.LoadCache is set and the file exists. A missing file is an empty cache.
func OpenCache(env Env, opts ...CacheOption) (*Cache, error) {
	c := NewCache(env.CacheFile, opts...)
	if !env.LoadCache {
		return c, nil
	}
	if _, err := os.Stat(c.path); errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err := c.Load(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path is the file the cache loads from and saves to.
func (c *Cache) Path() string {
	return c.path
}

// RegisterEnum adds an enum decoder after construction.
func (c *Cache) RegisterEnum(param string, decode EnumDecoder) {
	c.mu.Lock()
	c.enums[param] = decode
	c.mu.Unlock()
}

// Add appends one trial.
func (c *Cache) Add(identity, name string, key Key, t Trial) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name != "" {
		c.names[identity] = name
	}
	byKey, ok := c.trials[identity]
	if !ok {
		byKey = make(map[Key][]Trial)
		c.trials[identity] = byKey
	}
	byKey[key] = append(byKey[key], t)
}

// Trials returns a copy of the trials recorded for one key.
func (c *Cache) Trials(identity string, key Key) []Trial {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.trials[identity][key])
}

// Best returns the fastest trial for one key. Ties go to the earliest trial.
func (c *Cache) Best(identity string, key Key) (Trial, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return bestTrial(c.trials[identity][key])
}

// BestConfigs derives the best trial of every key of one operation.
func (c *Cache) BestConfigs(identity string) map[Key]Trial {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[Key]Trial, len(c.trials[identity]))
	for key, trials := range c.trials[identity] {
		if best, ok := bestTrial(trials); ok {
			out[key] = best
		}
	}
	return out
}

// Operation summarizes one operation held by the cache.
type Operation struct {
	Identity string
	Name     string
	Keys     []Key
	Trials   int
}

// Operations lists the cached operations sorted by name, then identity.
func (c *Cache) Operations() []Operation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ops := make([]Operation, 0, len(c.trials))
	for id, byKey := range c.trials {
		op := Operation{Identity: id, Name: c.names[id]}
		for key, trials := range byKey {
			op.Keys = append(op.Keys, key)
			op.Trials += len(trials)
		}
		slices.Sort(op.Keys)
		ops = append(ops, op)
	}
	slices.SortFunc(ops, func(a, b Operation) int {
		if a.Name != b.Name {
			if a.Name < b.Name {
				return -1
			}
			return 1
		}
		if a.Identity < b.Identity {
			return -1
		}
		if a.Identity > b.Identity {
			return 1
		}
		return 0
	})
	return ops
}

// Name returns the recorded name of an operation identity.
func (c *Cache) Name(identity string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.names[identity]
}

// Len is the total number of trials.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, byKey := range c.trials {
		for _, trials := range byKey {
			n += len(trials)
		}
	}
	return n
}

func bestTrial(trials []Trial) (Trial, bool) {
	if len(trials) == 0 {
		return Trial{}, false
	}
	best := trials[0]
	for _, t := range trials[1:] {
		if t.Time < best.Time {
			best = t
		}
	}
	return best, true
}

type cacheFile struct {
	Version     int                                 `yaml:"version"`
	Operations  map[string]string                   `yaml:"operations,omitempty"`
	AllConfigs  map[string]map[string][]trialRecord `yaml:"all_configs"`
	BestConfigs map[string]map[string]trialRecord   `yaml:"best_configs"`
}

type trialRecord struct {
	Config map[string]any `yaml:"config"`
	Time   float64        `yaml:"time"`
}

// Save writes the cache to its path. The file is replaced atomically while
// holding an exclusive lock on <path>.lock.
func (c *Cache) Save() error {
	if c.path == "" {
		return &CacheError{Path: c.path, Err: errors.New("no cache file configured")}
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return &CacheError{Path: c.path, Err: err}
	}
	unlock, err := lockFile(c.path, true)
	if err != nil {
		return &CacheError{Path: c.path, Err: err}
	}
	defer func() { _ = unlock() }()

	var buf bytes.Buffer
	if err := c.Encode(&buf); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), filepath.Base(c.path)+".*.tmp")
	if err != nil {
		return &CacheError{Path: c.path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return &CacheError{Path: c.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return &CacheError{Path: c.path, Err: err}
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		_ = os.Remove(tmpName)
		return &CacheError{Path: c.path, Err: err}
	}
	return nil
}

// Load replaces the in-memory trials with the contents of the cache file.
func (c *Cache) Load() error {
	unlock, err := lockFile(c.path, false)
	if err != nil {
		return &CacheError{Path: c.path, Err: err}
	}
	defer func() { _ = unlock() }()

	f, err := os.Open(c.path)
	if err != nil {
		return &CacheError{Path: c.path, Err: err}
	}
	defer func() { _ = f.Close() }()
	return c.Decode(f)
}

// Encode writes the YAML document: raw trials plus the derived best table.
func (c *Cache) Encode(w io.Writer) error {
	c.mu.RLock()
	doc := cacheFile{
		Version:     cacheFileVersion,
		Operations:  make(map[string]string, len(c.names)),
		AllConfigs:  make(map[string]map[string][]trialRecord, len(c.trials)),
		BestConfigs: make(map[string]map[string]trialRecord, len(c.trials)),
	}
	for id, byKey := range c.trials {
		if len(byKey) == 0 {
			continue
		}
		if name := c.names[id]; name != "" {
			doc.Operations[id] = name
		}
		all := make(map[string][]trialRecord, len(byKey))
		best := make(map[string]trialRecord, len(byKey))
		for key, trials := range byKey {
			records := make([]trialRecord, len(trials))
			for i, t := range trials {
				rec, err := encodeTrial(t)
				if err != nil {
					c.mu.RUnlock()
					return &CacheError{Path: c.path, Err: err}
				}
				records[i] = rec
			}
			all[string(key)] = records
			if b, ok := bestTrial(trials); ok {
				rec, err := encodeTrial(b)
				if err != nil {
					c.mu.RUnlock()
					return &CacheError{Path: c.path, Err: err}
				}
				best[string(key)] = rec
			}
		}
		doc.AllConfigs[id] = all
		doc.BestConfigs[id] = best
	}
	c.mu.RUnlock()

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return &CacheError{Path: c.path, Err: err}
	}
	if err := enc.Close(); err != nil {
		return &CacheError{Path: c.path, Err: err}
	}
	return nil
}

// Decode reads a YAML document produced by Encode and replaces the trials.
func (c *Cache) Decode(r io.Reader) error {
	var doc cacheFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return &CacheError{Path: c.path, Err: fmt.Errorf("malformed cache: %w", err)}
	}
	if doc.Version > cacheFileVersion {
		return &CacheError{Path: c.path, Err: fmt.Errorf("unsupported cache version %d", doc.Version)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	trials := make(map[string]map[Key][]Trial, len(doc.AllConfigs))
	for id, byKey := range doc.AllConfigs {
		out := make(map[Key][]Trial, len(byKey))
		for key, records := range byKey {
			list := make([]Trial, 0, len(records))
			for _, rec := range records {
				t, err := c.decodeTrial(rec)
				if err != nil {
					return &CacheError{Path: c.path, Err: fmt.Errorf("%s / %q: %w", id, key, err)}
				}
				list = append(list, t)
			}
			out[Key(key)] = list
		}
		trials[id] = out
	}

	c.trials = trials
	c.names = make(map[string]string, len(doc.Operations))
	for id, name := range doc.Operations {
		c.names[id] = name
	}
	return nil
}

func encodeTrial(t Trial) (trialRecord, error) {
	cfg := make(map[string]any, t.Config.Len())
	for _, name := range t.Config.names {
		v := t.Config.values[name]
		if m, ok := v.(encoding.TextMarshaler); ok {
			text, err := m.MarshalText()
			if err != nil {
				return trialRecord{}, fmt.Errorf("encode %s: %w", name, err)
			}
			v = string(text)
		}
		cfg[name] = v
	}
	return trialRecord{Config: cfg, Time: t.Time.Seconds()}, nil
}

func (c *Cache) decodeTrial(rec trialRecord) (Trial, error) {
	if rec.Time < 0 || math.IsNaN(rec.Time) || math.IsInf(rec.Time, 0) {
		return Trial{}, fmt.Errorf("invalid time %v", rec.Time)
	}
	values := make(map[string]any, len(rec.Config))
	for name, v := range rec.Config {
		if decode, ok := c.enums[name]; ok && v != nil {
			s, isString := v.(string)
			if !isString {
				return Trial{}, fmt.Errorf("parameter %s: expected enum string, got %T", name, v)
			}
			ev, err := decode(s)
			if err != nil {
				return Trial{}, fmt.Errorf("parameter %s: %w", name, err)
			}
			v = ev
		}
		values[name] = v
	}
	return Trial{
		Config: NewConfig(values, nil),
		Time:   time.Duration(math.Round(rec.Time * float64(time.Second))),
	}, nil
}
