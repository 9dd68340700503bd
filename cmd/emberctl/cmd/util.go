// Copyright 2026 The Ember Authors.
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

// Package cmd holds the emberctl subcommands.
package cmd

import (
	"fmt"
	"os"

	"ember.dev/ember/pkg/log"
	"ember.dev/ember/pkg/memarch"
	"ember.dev/ember/pkg/mm"
	"ember.dev/ember/pkg/pgalloc"
)

// Fatalf logs to debug logs and to stderr, then exits. It should only be
// called by subcommands; the exit code distinguishes command failure from a
// usage error.
func Fatalf(format string, args ...any) {
	log.Warningf(format, args...)
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(128)
}

// defaultPoolFrames is the synthetic physical memory given to command-line
// address spaces. 16 MiB is plenty for inspecting real binaries.
const defaultPoolFrames = (16 << 20) / memarch.PageSize

// newAddressSpace builds a pool-backed address space for a subcommand. The
// caller owns the returned pool and must Destroy it.
func newAddressSpace() (*pgalloc.Pool, *mm.AddressSpace, error) {
	pool, err := pgalloc.NewPool(defaultPoolFrames)
	if err != nil {
		return nil, nil, err
	}
	as := mm.NewAddressSpace(mm.Config{
		Pool: pool,
		Refs: pgalloc.ForPool(pool),
	})
	return pool, as, nil
}
