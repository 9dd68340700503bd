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

	"ember.dev/ember/pkg/abi/elf"
)

// ELF implements subcommands.Command for the "elf" command.
type ELF struct{}

// Name implements subcommands.Command.Name.
func (*ELF) Name() string {
	return "elf"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*ELF) Synopsis() string {
	return "parse an ELF binary and print its header and program headers"
}

// Usage implements subcommands.Command.Usage.
func (*ELF) Usage() string {
	return `elf <binary>

Parses the file header and program header table of <binary> and prints them,
including the permissions each loadable segment requests. The binary is not
loaded.

`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*ELF) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*ELF) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	image, err := os.ReadFile(f.Arg(0))
	if err != nil {
		Fatalf("reading %q: %v", f.Arg(0), err)
	}

	hdr, err := elf.ParseHeader(image)
	if err != nil {
		Fatalf("parsing header: %v", err)
	}
	phdrs, err := elf.ParseProgHeaders(image, hdr)
	if err != nil {
		Fatalf("parsing program headers: %v", err)
	}

	typ := "EXEC"
	if hdr.Type == elf.ET_DYN {
		typ = "DYN"
	}
	fmt.Printf("type:  %s\n", typ)
	fmt.Printf("entry: %#x\n", hdr.Entry)
	fmt.Printf("phnum: %d\n", hdr.Phnum)
	for i, phdr := range phdrs {
		p := phdr.Perms()
		perms := [3]byte{'-', '-', '-'}
		if p.Read {
			perms[0] = 'r'
		}
		if p.Write {
			perms[1] = 'w'
		}
		if p.Execute {
			perms[2] = 'x'
		}
		fmt.Printf("phdr %2d: type %#-10x %s vaddr %#12x filesz %#8x memsz %#8x\n",
			i, phdr.Type, string(perms[:]), phdr.Vaddr, phdr.Filesz, phdr.Memsz)
	}
	return subcommands.ExitSuccess
}
