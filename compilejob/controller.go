// Copyright 2019 Michael J. Fromberger. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package compilejob

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/opencas/cachecc/actioncache"
	"github.com/opencas/cachecc/cas"
	"github.com/opencas/cachecc/depcodec"
	"github.com/opencas/cachecc/output"
	"github.com/opencas/cachecc/resulttree"
)

// RunResult is what a [Runner] reports after actually executing an
// invocation that missed the cache.
type RunResult struct {
	// Outputs holds the bytes produced for each output kind the invocation
	// requested. A kind absent from the map was not produced (for instance,
	// a dependency file when none was requested, or the compiler simply
	// wrote nothing for it).
	Outputs map[output.Kind][]byte

	// Stderr is everything the invocation wrote to standard error.
	Stderr []byte
}

// A Runner actually executes a compiler invocation that missed the cache.
// The controller is agnostic to how inv is run — subprocess, in-process
// shim, or otherwise — so long as Run reports every output it produced.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (RunResult, error)
}

// Stats is a snapshot of a [Controller]'s cumulative activity.
type Stats struct {
	Hits     int64
	Misses   int64
	Errors   int64
	Poisoned int64
	Dangling int64
}

// A Remarker is notified of cache hits and misses as they happen, separately
// from the controller's structured logging. Implementations are typically
// used to drive human-readable build output (e.g. "cache hit for foo.o"),
// where structured logs are not appropriate.
type Remarker interface {
	Hit(ctx context.Context, inv Invocation, key actioncache.Key)
	Miss(ctx context.Context, inv Invocation, key actioncache.Key)
}

type noopRemarker struct{}

func (noopRemarker) Hit(context.Context, Invocation, actioncache.Key)  {}
func (noopRemarker) Miss(context.Context, Invocation, actioncache.Key) {}

// Options configures a [Controller]. A nil *Options is ready to use and
// selects every default.
type Options struct {
	// Remarker receives hit/miss notifications. Defaults to a no-op.
	Remarker Remarker

	// Logger receives structured diagnostic logs. Defaults to [zap.NewNop].
	Logger *zap.Logger

	// OutputBackend, if set, receives every output a cache-miss run
	// produces, written through a [output.Mirror] of an in-memory capture
	// and this backend. This materializes the physical files a miss run
	// requested as soon as the run completes, rather than requiring a
	// separate [Replay] call. Entries the invocation did not request a
	// concrete path for (e.g. diagnostics produced only to keep the action
	// key path-independent) are never written to OutputBackend.
	OutputBackend output.Backend
}

func (o *Options) remarker() Remarker {
	if o == nil || o.Remarker == nil {
		return noopRemarker{}
	}
	return o.Remarker
}

func (o *Options) logger() *zap.Logger {
	if o == nil || o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o *Options) outputBackend() output.Backend {
	if o == nil {
		return nil
	}
	return o.OutputBackend
}

// Controller ties a [cas.Store], an [actioncache.Cache], and a [Runner]
// together into the compile-job cache: canonicalize an invocation, derive
// its action key, and either replay a cached result or run the invocation
// and store its outputs for next time.
type Controller struct {
	store  cas.Store
	cache  *actioncache.Cache
	runner Runner

	remark  Remarker
	log     *zap.Logger
	outBack output.Backend

	hits, misses, errs atomic.Int64
	poisoned, dangling atomic.Int64
}

// New constructs a Controller. opts may be nil to accept every default.
func New(store cas.Store, cache *actioncache.Cache, runner Runner, opts *Options) *Controller {
	return &Controller{
		store:   store,
		cache:   cache,
		runner:  runner,
		remark:  opts.remarker(),
		log:     opts.logger(),
		outBack: opts.outputBackend(),
	}
}

// Stats returns a snapshot of the controller's cumulative hit/miss/error
// counts.
func (c *Controller) Stats() Stats {
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Errors:   c.errs.Load(),
		Poisoned: c.poisoned.Load(),
		Dangling: c.dangling.Load(),
	}
}

// Lookup reports whether inv's action is already cached, without running
// it. It treats a dangling cache entry — one whose stored object has gone
// missing from the paired store — the same as a plain miss, since the
// cached result can no longer be replayed either way.
func (c *Controller) Lookup(ctx context.Context, inv Invocation) (resulttree.Result, actioncache.Key, bool, error) {
	key := ActionKey(inv)

	id, err := c.cache.Get(ctx, key)
	switch {
	case errors.Is(err, actioncache.ErrNotFound):
		return resulttree.Result{}, key, false, nil
	case actioncache.IsDangling(err):
		c.dangling.Add(1)
		return resulttree.Result{}, key, false, nil
	case err != nil:
		return resulttree.Result{}, key, false, fmt.Errorf("compilejob: lookup: %w", err)
	}

	ref, ok, err := c.store.GetReference(ctx, id)
	if err != nil {
		return resulttree.Result{}, key, false, fmt.Errorf("compilejob: lookup: %w", err)
	}
	if !ok {
		// The cache and store disagree about this id's existence; treat as a
		// miss rather than fail the build outright.
		return resulttree.Result{}, key, false, nil
	}

	res, err := resulttree.Read(ctx, c.store, ref)
	if err != nil {
		return resulttree.Result{}, key, false, fmt.Errorf("compilejob: lookup: %w", err)
	}
	return res, key, true, nil
}

// Execute resolves inv against the cache: on a hit it returns the cached
// result directly; on a miss it runs inv via the configured [Runner],
// stores the outputs it produced, and records the action for next time. A
// [*actioncache.PoisonedError] from the store attempt — another caller won
// the race to cache a different result for the same key — is logged and
// swallowed, since the caller's own freshly produced result is still valid
// to use for this build.
func (c *Controller) Execute(ctx context.Context, inv Invocation) (resulttree.Result, bool, error) {
	res, key, hit, err := c.Lookup(ctx, inv)
	if err != nil {
		c.errs.Add(1)
		return resulttree.Result{}, false, err
	}
	if hit {
		c.hits.Add(1)
		c.remark.Hit(ctx, inv, key)
		c.log.Debug("compile job cache hit", zap.String("output", inv.OutputPath))
		return res, true, nil
	}

	c.misses.Add(1)
	c.remark.Miss(ctx, inv, key)
	c.log.Debug("compile job cache miss", zap.String("output", inv.OutputPath))

	// Diagnostics are requested from the runner unconditionally, even if
	// this invocation has no SerialDiagnosticsPath of its own, so that the
	// object cached for this action is the same whether or not the caller
	// asked for a .dia file (see ActionKey).
	runInv := inv
	if !runInv.wantsDiagnostics() {
		runInv.SerialDiagnosticsPath = internalDiagnosticsPath(inv)
	}

	run, err := c.runner.Run(ctx, runInv)
	if err != nil {
		c.errs.Add(1)
		return resulttree.Result{}, false, fmt.Errorf("compilejob: run: %w", err)
	}

	entries, err := c.storeOutputs(ctx, inv, run.Outputs)
	if err != nil {
		c.errs.Add(1)
		return resulttree.Result{}, false, err
	}

	ref, err := resulttree.Build(ctx, c.store, entries, run.Stderr)
	if err != nil {
		c.errs.Add(1)
		return resulttree.Result{}, false, fmt.Errorf("compilejob: build result: %w", err)
	}

	id := c.store.GetID(ref)
	if err := c.cache.Put(ctx, key, id); err != nil {
		if actioncache.IsPoisoned(err) {
			c.poisoned.Add(1)
			c.log.Warn("compile job result raced with a concurrent cache entry",
				zap.String("output", inv.OutputPath), zap.Error(err))
		} else {
			c.errs.Add(1)
			return resulttree.Result{}, false, fmt.Errorf("compilejob: cache put: %w", err)
		}
	}

	return resulttree.Result{Entries: entries, Stderr: run.Stderr}, false, nil
}

// internalDiagnosticsPath names the diagnostics object a miss produces when
// the invocation itself did not ask for one. It never reaches disk — it only
// gives the runner a destination to write to — so any stable, non-empty
// value works; the result tree keys the entry by its symbolic kind, not this
// path.
func internalDiagnosticsPath(inv Invocation) string {
	return inv.OutputPath + ".internal.dia"
}

// storeOutputs stores every output the runner produced into the CAS,
// keyed by its symbolic [output.Kind]. An output inv requested at a
// concrete path is also mirrored live to the controller's OutputBackend (if
// set), via [output.Mirror], so the physical file exists as soon as the miss
// run completes rather than waiting for a later [Replay]. Dependency
// listings are stored through [depcodec.Encode] rather than verbatim, so
// Replay can re-render them against whatever path the replaying invocation
// names.
func (c *Controller) storeOutputs(ctx context.Context, inv Invocation, produced map[output.Kind][]byte) ([]resulttree.Entry, error) {
	names := inv.outputNames()

	capture := output.NewCapturingBackend()
	var sink output.Backend = capture
	if c.outBack != nil {
		sink = output.Mirror(capture, c.outBack)
	}

	var entries []resulttree.Entry
	for kind, data := range produced {
		name, hasPath := names[kind]
		if !hasPath {
			// Not requested at a concrete path (diagnostics produced only
			// to keep the action key path-independent); cache it under its
			// symbolic kind and never materialize it on disk.
			name = string(kind)
		} else {
			f, err := sink.Create(ctx, name, kind)
			if err != nil {
				return nil, fmt.Errorf("compilejob: store output %q: %w", name, err)
			}
			if err := f.Keep(ctx, data); err != nil {
				return nil, fmt.Errorf("compilejob: store output %q: %w", name, err)
			}
		}

		stored := data
		if kind == output.KindDependencies {
			list, err := depcodec.ParseMakefile(data)
			if err != nil {
				return nil, fmt.Errorf("compilejob: parse dependency listing: %w", err)
			}
			stored = depcodec.Encode(list)
		}

		ref, err := c.store.Store(ctx, nil, stored)
		if err != nil {
			return nil, fmt.Errorf("compilejob: store output %q: %w", name, err)
		}
		entries = append(entries, resulttree.Entry{Name: name, Kind: kind, Ref: ref})
	}
	return entries, nil
}

// outputNames maps each output kind inv requested a concrete path for. A
// kind absent from the result was not requested; it may still be cached
// under its symbolic kind (see storeOutputs) but has nowhere on disk to
// replay to.
func (inv Invocation) outputNames() map[output.Kind]string {
	names := map[output.Kind]string{output.KindOutput: inv.OutputPath}
	if inv.wantsDiagnostics() {
		names[output.KindSerialDiagnostics] = inv.SerialDiagnosticsPath
	}
	if inv.wantsDependencies() {
		names[output.KindDependencies] = inv.DependencyFilePath
	}
	return names
}

// Replay materializes a cached result's outputs into backend at the paths
// inv actually names, e.g. a [output.DiskBackend] or [output.Mirror]. Entries
// are matched by their symbolic [output.Kind] rather than the name they were
// originally stored under, so a hit replays correctly even when this
// invocation's output paths differ from the run that populated the cache.
// Dependency listings are re-rendered with [depcodec.RenderMakefile] against
// the current invocation's dependency file path. It is the caller's
// responsibility to run Replay whenever [Controller.Execute] reports a hit
// and the physical files are needed.
func Replay(ctx context.Context, store cas.Store, backend output.Backend, inv Invocation, res resulttree.Result) error {
	names := inv.outputNames()
	for _, entry := range res.Entries {
		path, ok := names[entry.Kind]
		if !ok {
			continue
		}
		obj, err := store.Load(ctx, entry.Ref)
		if err != nil {
			return fmt.Errorf("compilejob: replay: load %q: %w", path, err)
		}

		data := obj.Data
		if entry.Kind == output.KindDependencies {
			list, err := depcodec.Decode(data)
			if err != nil {
				return fmt.Errorf("compilejob: replay: decode dependency listing for %q: %w", path, err)
			}
			list.Target = names[output.KindOutput]
			data = depcodec.RenderMakefile(list)
		}

		sink, err := backend.Create(ctx, path, entry.Kind)
		if err != nil {
			return fmt.Errorf("compilejob: replay: create %q: %w", path, err)
		}
		if err := sink.Keep(ctx, data); err != nil {
			return fmt.Errorf("compilejob: replay: keep %q: %w", path, err)
		}
	}
	return nil
}
