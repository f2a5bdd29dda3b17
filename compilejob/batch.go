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

	"golang.org/x/sync/errgroup"

	"github.com/opencas/cachecc/resulttree"
)

// ExecuteAll resolves every invocation in invs against the cache
// concurrently, as a build system driving many independent compile actions
// would. Concurrency is unbounded; see [Controller.ExecuteAllLimit] for a
// capped variant. The first error from any invocation cancels the context
// passed to the others and is returned together with a nil result slice.
func (c *Controller) ExecuteAll(ctx context.Context, invs []Invocation) ([]resulttree.Result, error) {
	return c.executeAll(ctx, invs, 0)
}

// ExecuteAllLimit is like [Controller.ExecuteAll] but caps concurrency at
// limit, which must be positive.
func (c *Controller) ExecuteAllLimit(ctx context.Context, invs []Invocation, limit int) ([]resulttree.Result, error) {
	return c.executeAll(ctx, invs, limit)
}

func (c *Controller) executeAll(ctx context.Context, invs []Invocation, limit int) ([]resulttree.Result, error) {
	results := make([]resulttree.Result, len(invs))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, inv := range invs {
		g.Go(func() error {
			res, _, err := c.Execute(gctx, inv)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
