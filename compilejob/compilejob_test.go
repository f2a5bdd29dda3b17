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

package compilejob_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/opencas/cachecc/actioncache"
	"github.com/opencas/cachecc/cas/memstore"
	"github.com/opencas/cachecc/compilejob"
	"github.com/opencas/cachecc/output"
)

// countingRunner records how many times it was invoked and returns a fixed
// result, simulating a compiler that always produces the same output.
type countingRunner struct {
	calls int
	run   compilejob.RunResult
	err   error
}

func (r *countingRunner) Run(context.Context, compilejob.Invocation) (compilejob.RunResult, error) {
	r.calls++
	return r.run, r.err
}

func newController(t *testing.T, runner compilejob.Runner) *compilejob.Controller {
	t.Helper()
	store := memstore.New()
	cache := actioncache.New(store, actioncache.NewMemoryBackend())
	return compilejob.New(store, cache, runner, nil)
}

func testInvocation() compilejob.Invocation {
	return compilejob.Invocation{
		Compiler:   "cc",
		Args:       []string{"-c", "foo.c"},
		WorkingDir: "/src",
		OutputPath: "foo.o",
	}
}

func TestExecuteMissThenHit(t *testing.T) {
	ctx := context.Background()
	runner := &countingRunner{run: compilejob.RunResult{
		Outputs: map[output.Kind][]byte{output.KindOutput: []byte("object code")},
		Stderr:  []byte("warning: unused variable\n"),
	}}
	ctrl := newController(t, runner)
	inv := testInvocation()

	res, hit, err := ctrl.Execute(ctx, inv)
	if err != nil {
		t.Fatalf("Execute (miss): %v", err)
	}
	if hit {
		t.Fatal("Execute (miss) reported a hit on first run")
	}
	if runner.calls != 1 {
		t.Fatalf("runner.calls = %d, want 1", runner.calls)
	}
	entry, ok := res.Find("foo.o")
	if !ok {
		t.Fatal("result has no entry for foo.o")
	}
	if entry.Kind != output.KindOutput {
		t.Errorf("entry.Kind = %q, want %q", entry.Kind, output.KindOutput)
	}

	res2, hit2, err := ctrl.Execute(ctx, inv)
	if err != nil {
		t.Fatalf("Execute (hit): %v", err)
	}
	if !hit2 {
		t.Fatal("Execute (hit) reported a miss on second run")
	}
	if runner.calls != 1 {
		t.Fatalf("runner.calls after hit = %d, want 1 (runner must not rerun)", runner.calls)
	}
	if string(res2.Stderr) != "warning: unused variable\n" {
		t.Errorf("Stderr = %q, want the original warning", res2.Stderr)
	}

	stats := ctrl.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Stats = %+v, want Hits=1 Misses=1", stats)
	}
}

func TestExecuteDifferentOutputPathSameArgsStillHits(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	cache := actioncache.New(store, actioncache.NewMemoryBackend())
	runner := &countingRunner{run: compilejob.RunResult{
		Outputs: map[output.Kind][]byte{output.KindOutput: []byte("object code")},
	}}
	ctrl := compilejob.New(store, cache, runner, nil)

	inv1 := testInvocation()
	inv1.OutputPath = "build/a/foo.o"
	if _, _, err := ctrl.Execute(ctx, inv1); err != nil {
		t.Fatalf("Execute(inv1): %v", err)
	}

	inv2 := testInvocation()
	inv2.OutputPath = "build/b/foo.o"
	res, hit, err := ctrl.Execute(ctx, inv2)
	if err != nil {
		t.Fatalf("Execute(inv2): %v", err)
	}
	if !hit {
		t.Error("same compiler/args at a different output path should still hit the cache")
	}
	if runner.calls != 1 {
		t.Errorf("runner.calls = %d, want 1", runner.calls)
	}

	// The cached entry was recorded against inv1's output path; replaying
	// against inv2 must still write the primary output, at inv2's path.
	backend := output.NewCapturingBackend()
	if err := compilejob.Replay(ctx, store, backend, inv2, res); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	got, ok := backend.Get("build/b/foo.o")
	if !ok || string(got.Data) != "object code" {
		t.Errorf("replayed output at inv2's path = %+v, ok=%v, want \"object code\"", got, ok)
	}
	if _, ok := backend.Get("build/a/foo.o"); ok {
		t.Error("replay wrote to inv1's path instead of inv2's")
	}
}

func TestExecuteDifferentArgsMisses(t *testing.T) {
	ctx := context.Background()
	runner := &countingRunner{run: compilejob.RunResult{
		Outputs: map[output.Kind][]byte{output.KindOutput: []byte("object code")},
	}}
	ctrl := newController(t, runner)

	inv1 := testInvocation()
	if _, _, err := ctrl.Execute(ctx, inv1); err != nil {
		t.Fatalf("Execute(inv1): %v", err)
	}

	inv2 := testInvocation()
	inv2.Args = []string{"-c", "-O2", "foo.c"}
	if _, hit, err := ctrl.Execute(ctx, inv2); err != nil {
		t.Fatalf("Execute(inv2): %v", err)
	} else if hit {
		t.Error("different compiler flags unexpectedly hit the cache")
	}
	if runner.calls != 2 {
		t.Errorf("runner.calls = %d, want 2", runner.calls)
	}
}

func TestExecuteRunnerError(t *testing.T) {
	ctx := context.Background()
	wantErr := errors.New("compiler exited 1")
	runner := &countingRunner{err: wantErr}
	ctrl := newController(t, runner)

	if _, _, err := ctrl.Execute(ctx, testInvocation()); err == nil {
		t.Fatal("Execute with a failing runner unexpectedly succeeded")
	}
	if stats := ctrl.Stats(); stats.Errors != 1 {
		t.Errorf("Stats.Errors = %d, want 1", stats.Errors)
	}
}

func TestExecuteWithDependenciesAndDiagnostics(t *testing.T) {
	ctx := context.Background()
	runner := &countingRunner{run: compilejob.RunResult{
		Outputs: map[output.Kind][]byte{
			output.KindOutput:            []byte("object code"),
			output.KindSerialDiagnostics: []byte("diag blob"),
			output.KindDependencies:      []byte("foo.o: foo.c foo.h\n"),
		},
	}}
	ctrl := newController(t, runner)

	inv := testInvocation()
	inv.SerialDiagnosticsPath = "foo.dia"
	inv.DependencyFilePath = "foo.d"

	res, _, err := ctrl.Execute(ctx, inv)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Entries) != 3 {
		t.Fatalf("len(Entries) = %d, want 3", len(res.Entries))
	}
	if _, ok := res.Find("foo.dia"); !ok {
		t.Error("missing diagnostics entry")
	}
	if _, ok := res.Find("foo.d"); !ok {
		t.Error("missing dependency entry")
	}
}

func TestReplayWritesCapturedOutputs(t *testing.T) {
	ctx := context.Background()
	runner := &countingRunner{run: compilejob.RunResult{
		Outputs: map[output.Kind][]byte{output.KindOutput: []byte("object code")},
	}}
	store := memstore.New()
	cache := actioncache.New(store, actioncache.NewMemoryBackend())
	ctrl := compilejob.New(store, cache, runner, nil)
	inv := testInvocation()

	if _, _, err := ctrl.Execute(ctx, inv); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	res, hit, err := ctrl.Execute(ctx, inv)
	if err != nil || !hit {
		t.Fatalf("Execute (hit) = hit=%v err=%v", hit, err)
	}

	backend := output.NewCapturingBackend()
	if err := compilejob.Replay(ctx, store, backend, inv, res); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	got, ok := backend.Get("foo.o")
	if !ok || string(got.Data) != "object code" {
		t.Errorf("replayed output = %+v, ok=%v", got, ok)
	}
}

func TestReplayRerendersDependenciesForNewPath(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	cache := actioncache.New(store, actioncache.NewMemoryBackend())
	runner := &countingRunner{run: compilejob.RunResult{
		Outputs: map[output.Kind][]byte{
			output.KindOutput:       []byte("object code"),
			output.KindDependencies: []byte("build/a/foo.o: foo.c foo.h\n"),
		},
	}}
	ctrl := compilejob.New(store, cache, runner, nil)

	inv1 := testInvocation()
	inv1.OutputPath = "build/a/foo.o"
	inv1.DependencyFilePath = "build/a/foo.d"
	if _, _, err := ctrl.Execute(ctx, inv1); err != nil {
		t.Fatalf("Execute(inv1): %v", err)
	}

	inv2 := testInvocation()
	inv2.OutputPath = "build/b/foo.o"
	inv2.DependencyFilePath = "build/b/foo.d"
	res, hit, err := ctrl.Execute(ctx, inv2)
	if err != nil {
		t.Fatalf("Execute(inv2): %v", err)
	}
	if !hit {
		t.Fatal("same compiler/args at different output paths should still hit the cache")
	}

	backend := output.NewCapturingBackend()
	if err := compilejob.Replay(ctx, store, backend, inv2, res); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	got, ok := backend.Get("build/b/foo.d")
	if !ok {
		t.Fatal("replay produced no dependency file at inv2's path")
	}
	want := "build/b/foo.o: foo.c \\\n foo.h\n"
	if string(got.Data) != want {
		t.Errorf("replayed depfile = %q, want %q", got.Data, want)
	}
}

func TestDiagnosticsRequestDoesNotForkCache(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	cache := actioncache.New(store, actioncache.NewMemoryBackend())
	runner := &countingRunner{run: compilejob.RunResult{
		Outputs: map[output.Kind][]byte{
			output.KindOutput:            []byte("object code"),
			output.KindSerialDiagnostics: []byte("diag blob"),
		},
	}}
	ctrl := compilejob.New(store, cache, runner, nil)

	inv1 := testInvocation()
	if _, _, err := ctrl.Execute(ctx, inv1); err != nil {
		t.Fatalf("Execute(inv1): %v", err)
	}

	inv2 := testInvocation()
	inv2.SerialDiagnosticsPath = "foo.dia"
	_, hit, err := ctrl.Execute(ctx, inv2)
	if err != nil {
		t.Fatalf("Execute(inv2): %v", err)
	}
	if !hit {
		t.Error("requesting a .dia path should not change the action key")
	}
	if runner.calls != 1 {
		t.Errorf("runner.calls = %d, want 1", runner.calls)
	}
}

func TestOutputBackendMirrorsMissWithoutReplay(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	cache := actioncache.New(store, actioncache.NewMemoryBackend())
	runner := &countingRunner{run: compilejob.RunResult{
		Outputs: map[output.Kind][]byte{output.KindOutput: []byte("object code")},
	}}
	disk := output.NewCapturingBackend()
	ctrl := compilejob.New(store, cache, runner, &compilejob.Options{OutputBackend: disk})

	if _, _, err := ctrl.Execute(ctx, testInvocation()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got, ok := disk.Get("foo.o")
	if !ok || string(got.Data) != "object code" {
		t.Errorf("OutputBackend content = %+v, ok=%v, want \"object code\" without a Replay call", got, ok)
	}
}

type remarkCalls struct {
	hits, misses int
}

func (r *remarkCalls) Hit(context.Context, compilejob.Invocation, actioncache.Key)  { r.hits++ }
func (r *remarkCalls) Miss(context.Context, compilejob.Invocation, actioncache.Key) { r.misses++ }

func TestRemarkerNotified(t *testing.T) {
	ctx := context.Background()
	runner := &countingRunner{run: compilejob.RunResult{
		Outputs: map[output.Kind][]byte{output.KindOutput: []byte("x")},
	}}
	store := memstore.New()
	cache := actioncache.New(store, actioncache.NewMemoryBackend())
	remark := &remarkCalls{}
	ctrl := compilejob.New(store, cache, runner, &compilejob.Options{Remarker: remark})
	inv := testInvocation()

	if _, _, err := ctrl.Execute(ctx, inv); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, _, err := ctrl.Execute(ctx, inv); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if remark.misses != 1 || remark.hits != 1 {
		t.Errorf("remarkCalls = %+v, want 1 miss and 1 hit", remark)
	}
}

// distinctRunner returns a different, per-invocation result for each unique
// output path, and is safe for concurrent use.
type distinctRunner struct {
	calls atomic.Int64
}

func (r *distinctRunner) Run(_ context.Context, inv compilejob.Invocation) (compilejob.RunResult, error) {
	r.calls.Add(1)
	return compilejob.RunResult{
		Outputs: map[output.Kind][]byte{
			output.KindOutput: []byte(fmt.Sprintf("object code for %s", inv.OutputPath)),
		},
	}, nil
}

func TestExecuteAllConcurrent(t *testing.T) {
	ctx := context.Background()
	runner := &distinctRunner{}
	ctrl := newController(t, runner)

	var invs []compilejob.Invocation
	for i := 0; i < 8; i++ {
		inv := testInvocation()
		inv.Args = []string{"-c", fmt.Sprintf("foo%d.c", i)}
		inv.OutputPath = fmt.Sprintf("foo%d.o", i)
		invs = append(invs, inv)
	}

	results, err := ctrl.ExecuteAllLimit(ctx, invs, 4)
	if err != nil {
		t.Fatalf("ExecuteAllLimit: %v", err)
	}
	if len(results) != len(invs) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(invs))
	}
	for i, res := range results {
		if _, ok := res.Find(invs[i].OutputPath); !ok {
			t.Errorf("result[%d] missing entry for %s", i, invs[i].OutputPath)
		}
	}
	// Every invocation had distinct args, so each should have run exactly
	// once with no collisions in the cache.
	if runner.calls.Load() != int64(len(invs)) {
		t.Errorf("runner.calls = %d, want %d", runner.calls.Load(), len(invs))
	}
	for i, inv := range invs {
		res, hit, err := ctrl.Execute(ctx, inv)
		if err != nil || !hit {
			t.Fatalf("Execute(invs[%d]) = hit=%v err=%v", i, hit, err)
		}
		if _, ok := res.Find(inv.OutputPath); !ok {
			t.Errorf("replayed result[%d] missing entry for %s", i, inv.OutputPath)
		}
	}
}
