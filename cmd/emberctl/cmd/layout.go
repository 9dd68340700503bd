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

	"github.com/google/subcommands"

	"ember.dev/ember/pkg/mm"
)

// Layout implements subcommands.Command for the "layout" command.
type Layout struct {
	count int
}

// Name implements subcommands.Command.Name.
func (*Layout) Name() string {
	return "layout"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Layout) Synopsis() string {
	return "print randomized address space layouts"
}

// Usage implements subcommands.Command.Usage.
func (*Layout) Usage() string {
	return `layout [-n N]

Samples N freshly randomized address space layouts and prints the stack,
heap and mmap bases of each.

`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Layout) SetFlags(f *flag.FlagSet) {
	f.IntVar(&l.count, "n", 1, "number of layouts to sample")
}

// Execute implements subcommands.Command.Execute.
func (l *Layout) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	for i := 0; i < l.count; i++ {
		layout := mm.NewLayout()
		fmt.Printf("stack %#14x  heap %#14x  mmap %#14x\n",
			uint64(layout.StackTop), uint64(layout.HeapBase), uint64(layout.MmapBase))
	}
	return subcommands.ExitSuccess
}
