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

// Package sniff implements "vemu sniff", printing the (arch, os)
// classification of an image without booting it.
package sniff

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/vemu/vemu/pkg/archos"
	"github.com/vemu/vemu/pkg/sniff"
)

// Command is the "sniff" subcommand.
type Command struct{}

func (*Command) Name() string     { return "sniff" }
func (*Command) Synopsis() string { return "classify an image's architecture and OS" }
func (*Command) Usage() string {
	return "sniff <path>\n  Print the architecture and OS an image classifies as.\n"
}
func (*Command) SetFlags(*flag.FlagSet) {}

// Execute opens f.Arg(0) and prints its sniff.Sniff result.
func (*Command) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "sniff: expected exactly one image path")
		return subcommands.ExitUsageError
	}

	file, err := os.Open(f.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "sniff: %v\n", err)
		return subcommands.ExitFailure
	}
	defer file.Close()

	res, err := sniff.Sniff(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sniff: %v\n", err)
		return subcommands.ExitFailure
	}

	fmt.Printf("arch=%s os=%s endian=%v\n", archos.ArchString(res.Arch), archos.OSString(res.OS), res.Endian)
	return subcommands.ExitSuccess
}
