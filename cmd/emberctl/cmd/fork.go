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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"ember.dev/ember/pkg/loader"
	"ember.dev/ember/pkg/memarch"
	"ember.dev/ember/pkg/mm"
)

// Fork implements subcommands.Command for the "fork" command.
type Fork struct {
	writes int
}

// Name implements subcommands.Command.Name.
func (*Fork) Name() string {
	return "fork"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Fork) Synopsis() string {
	return "load a binary, duplicate the address space and report copy-on-write behavior"
}

// Usage implements subcommands.Command.Usage.
func (*Fork) Usage() string {
	return `fork [-writes N] <binary>

Loads the binary, duplicates the resulting address space the way fork(2)
would, then simulates N write faults against the child's stack and reports
how many pages were shared and how many were privately copied.

`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Fork) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.writes, "writes", 4, "number of child stack pages to dirty after the fork")
}

// Execute implements subcommands.Command.Execute.
func (c *Fork) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	image, err := os.ReadFile(f.Arg(0))
	if err != nil {
		Fatalf("reading %q: %v", f.Arg(0), err)
	}

	pool, parent, err := newAddressSpace()
	if err != nil {
		Fatalf("creating address space: %v", err)
	}
	defer pool.Destroy()
	defer parent.DecUsers()

	loaded, err := loader.Load(parent, image, f.Args(), nil)
	if err != nil {
		Fatalf("loading %q: %v", f.Arg(0), err)
	}
	before := pool.Allocated()

	child, err := parent.Duplicate(0)
	if err != nil {
		Fatalf("duplicating address space: %v", err)
	}
	defer child.DecUsers()

	afterFork := pool.Allocated()
	fmt.Printf("pages mapped:      %d\n", before)
	fmt.Printf("allocated at fork: %d (+%d)\n", afterFork, afterFork-before)

	// Dirty the child's stack, one page per write, walking down from the
	// stack pointer.
	va := loaded.SP.RoundDown()
	var handled, fatal int
	for i := 0; i < c.writes; i++ {
		switch child.HandleFault(va, mm.FaultWrite|mm.FaultPresent) {
		case mm.FaultHandled:
			handled++
		case mm.FaultFatal:
			fatal++
		}
		va -= memarch.PageSize
	}

	afterWrites := pool.Allocated()
	fmt.Printf("child writes:      %d handled, %d fatal\n", handled, fatal)
	fmt.Printf("pages copied:      %d\n", afterWrites-afterFork)
	return subcommands.ExitSuccess
}
