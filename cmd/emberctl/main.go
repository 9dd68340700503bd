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

// Binary emberctl inspects ELF binaries and exercises the memory manager
// from the command line.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"ember.dev/ember/cmd/emberctl/cmd"
	"ember.dev/ember/pkg/log"
)

var debug = flag.Bool("debug", false, "enable debug logging")

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(cmd.ELF), "")
	subcommands.Register(new(cmd.Load), "")
	subcommands.Register(new(cmd.Fork), "")
	subcommands.Register(new(cmd.Layout), "")

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	if *debug {
		log.SetLevel(log.Debug)
	}

	os.Exit(int(subcommands.Execute(context.Background())))
}
