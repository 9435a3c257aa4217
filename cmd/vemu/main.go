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

// vemu is a command-line tool for classifying and loading binary images
// through the emulation core.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"github.com/vemu/vemu/cmd/vemu/cmd/mapinfo"
	"github.com/vemu/vemu/cmd/vemu/cmd/sniff"

	_ "github.com/vemu/vemu/internal/arch/arm"
	_ "github.com/vemu/vemu/internal/arch/arm64"
	_ "github.com/vemu/vemu/internal/arch/mips32"
	_ "github.com/vemu/vemu/internal/arch/x86"
	_ "github.com/vemu/vemu/internal/loader/elf"
	_ "github.com/vemu/vemu/internal/loader/macho"
	_ "github.com/vemu/vemu/internal/loader/pe"
	_ "github.com/vemu/vemu/internal/osguest/freebsd"
	_ "github.com/vemu/vemu/internal/osguest/linux"
	_ "github.com/vemu/vemu/internal/osguest/macos"
	_ "github.com/vemu/vemu/internal/osguest/windows"
	_ "github.com/vemu/vemu/internal/syscalltable"
	_ "github.com/vemu/vemu/pkg/memsetup"
	_ "github.com/vemu/vemu/pkg/register"
)

func registerCommands() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(sniff.Command), "")
	subcommands.Register(new(mapinfo.Command), "")
}

func main() {
	registerCommands()
	flag.Parse()
	switch subcommands.Execute(context.Background()) {
	case subcommands.ExitSuccess:
		os.Exit(0)
	default:
		os.Exit(128)
	}
}
