// Copyright 2024 The vemu Authors.
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

// Package mapinfo implements "vemu mapinfo", booting an image just far
// enough to load it and printing its initial memory map.
package mapinfo

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/vemu/vemu/pkg/emulator"
)

// Command is the "mapinfo" subcommand.
type Command struct{}

func (*Command) Name() string     { return "mapinfo" }
func (*Command) Synopsis() string { return "boot an image and print its memory map" }
func (*Command) Usage() string {
	return "mapinfo <path>\n  Load an image and print the ranges its loader mapped.\n"
}
func (*Command) SetFlags(*flag.FlagSet) {}

// Execute boots f.Arg(0) through pkg/emulator and prints its GetMapInfo.
func (*Command) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "mapinfo: expected exactly one image path")
		return subcommands.ExitUsageError
	}

	file, err := os.Open(f.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "mapinfo: %v\n", err)
		return subcommands.ExitFailure
	}
	defer file.Close()

	inst, err := emulator.New(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mapinfo: %v\n", err)
		return subcommands.ExitFailure
	}

	fmt.Printf("entry=0x%x\n", inst.Entry)
	for _, e := range inst.Memory.GetMapInfo() {
		label := e.Label
		if e.Container != nil {
			label = fmt.Sprintf("%s (%s)", label, *e.Container)
		}
		fmt.Printf("0x%016x-0x%016x %s %s\n", e.Lo, e.Hi, e.PermsStr, label)
	}
	return subcommands.ExitSuccess
}
