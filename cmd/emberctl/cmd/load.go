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
	"strings"

	"github.com/google/subcommands"

	"ember.dev/ember/pkg/loader"
)

// Load implements subcommands.Command for the "load" command.
type Load struct {
	env stringSlice
}

// stringSlice is a repeatable string flag.
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// Name implements subcommands.Command.Name.
func (*Load) Name() string {
	return "load"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Load) Synopsis() string {
	return "load an ELF binary into a fresh address space and print its memory map"
}

// Usage implements subcommands.Command.Usage.
func (*Load) Usage() string {
	return `load [-env KEY=VALUE]... <binary> [arg]...

Maps the binary's segments into a new address space, builds the initial stack
from the given arguments and environment, and prints the entry point, the
stack pointer and the resulting memory map. Nothing is executed.

`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Load) SetFlags(f *flag.FlagSet) {
	f.Var(&l.env, "env", "environment variable to pass, may be repeated")
}

// Execute implements subcommands.Command.Execute.
func (l *Load) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	image, err := os.ReadFile(f.Arg(0))
	if err != nil {
		Fatalf("reading %q: %v", f.Arg(0), err)
	}

	pool, as, err := newAddressSpace()
	if err != nil {
		Fatalf("creating address space: %v", err)
	}
	defer pool.Destroy()
	defer as.DecUsers()

	loaded, err := loader.Load(as, image, f.Args(), l.env)
	if err != nil {
		Fatalf("loading %q: %v", f.Arg(0), err)
	}

	fmt.Printf("entry: %#x\n", uint64(loaded.Entry))
	fmt.Printf("sp:    %#x\n", uint64(loaded.SP))
	fmt.Printf("pages: %d\n", pool.Allocated())
	fmt.Print(as.Maps())
	return subcommands.ExitSuccess
}
