// Copyright 2025 Tom Barlow
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

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tombee/gantry/internal/daemon"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		listenAddr  = flag.String("listen", "", "Address to listen on (default 127.0.0.1:8080)")
		bucket      = flag.String("bucket", "", "S3 bucket holding playbooks and keys")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("gantryd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	if err := daemon.Run(daemon.RunOptions{
		Version:    version,
		Commit:     commit,
		BuildDate:  buildDate,
		ConfigPath: *configPath,
		ListenAddr: *listenAddr,
		Bucket:     *bucket,
	}); err != nil {
		os.Exit(1)
	}
}
