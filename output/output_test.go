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

package output_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencas/cachecc/output"
)

func TestCapturingBackend(t *testing.T) {
	ctx := context.Background()
	b := output.NewCapturingBackend()

	f, err := b.Create(ctx, "out.o", output.KindOutput)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.Keep(ctx, []byte("object code")); err != nil {
		t.Fatalf("Keep: %v", err)
	}

	got, ok := b.Get("out.o")
	if !ok || string(got.Data) != "object code" || got.Kind != output.KindOutput {
		t.Errorf("Get(out.o) = %+v, %v", got, ok)
	}
}

func TestCapturingBackendDiscard(t *testing.T) {
	ctx := context.Background()
	b := output.NewCapturingBackend()

	f, err := b.Create(ctx, "diag.json", output.KindSerialDiagnostics)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.Keep(ctx, []byte("x")); err != nil {
		t.Fatalf("Keep: %v", err)
	}
	if err := f.Discard(ctx); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, ok := b.Get("diag.json"); ok {
		t.Error("Get found content after Discard")
	}
}

func TestDiskBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b := output.NewDiskBackend(dir)

	f, err := b.Create(ctx, "obj/out.o", output.KindOutput)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.Keep(ctx, []byte("bytes")); err != nil {
		t.Fatalf("Keep: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "obj/out.o"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "bytes" {
		t.Errorf("file content = %q, want %q", got, "bytes")
	}
}

func TestDiskBackendDiscardMissingIsOK(t *testing.T) {
	ctx := context.Background()
	b := output.NewDiskBackend(t.TempDir())
	f, err := b.Create(ctx, "never-written.o", output.KindOutput)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.Discard(ctx); err != nil {
		t.Errorf("Discard on a file never written: %v", err)
	}
}

func TestMirror(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	capture := output.NewCapturingBackend()
	disk := output.NewDiskBackend(dir)
	mirror := output.Mirror(capture, disk)

	f, err := mirror.Create(ctx, "out.o", output.KindOutput)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.Keep(ctx, []byte("shared")); err != nil {
		t.Fatalf("Keep: %v", err)
	}

	if got, ok := capture.Get("out.o"); !ok || string(got.Data) != "shared" {
		t.Errorf("capture side = %+v, %v", got, ok)
	}
	diskBits, err := os.ReadFile(filepath.Join(dir, "out.o"))
	if err != nil || string(diskBits) != "shared" {
		t.Errorf("disk side = %q, %v", diskBits, err)
	}
}
