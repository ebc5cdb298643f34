// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

// Package cmd assembles the sagactl command tree.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/innovationmech/sagakeeper/internal/sagactl/cmd/config"
	"github.com/innovationmech/sagakeeper/internal/sagactl/cmd/deferred"
	"github.com/innovationmech/sagakeeper/internal/sagactl/cmd/store"
	"github.com/innovationmech/sagakeeper/internal/sagactl/cmd/version"
	"github.com/innovationmech/sagakeeper/internal/sagactl/env"
)

// NewRootSagaCtlCommand creates the sagactl root command.
func NewRootSagaCtlCommand(e *env.Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sagactl",
		Short: "Inspect and repair sagakeeper saga stores",
		Long: `sagactl inspects the saga instances an endpoint keeps on disk and the
reminders it has deferred in Redis.

Settings are read from sagakeeper.yaml, sagakeeper.<env>.yaml,
sagakeeper.override.yaml and SAGAKEEPER_* environment variables.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&e.ConfigFile, "config", "c", "", "Configuration file (default ./sagakeeper.yaml)")
	flags.StringVar(&e.Environment, "env", "", "Environment file suffix, e.g. prod")
	flags.StringVar(&e.WorkDir, "workdir", "", "Directory holding the configuration files")
	flags.StringVar(&e.StorageRoot, "root", "", "Storage root directory, overrides storage.root")
	flags.StringVarP(&e.Output, "output", "o", env.OutputYAML, "Output format (yaml|json)")
	flags.BoolVarP(&e.Verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(
		store.NewTypesCommand(e),
		store.NewListCommand(e),
		store.NewShowCommand(e),
		store.NewPurgeCommand(e),
		deferred.NewDeferredCommand(e),
		config.NewConfigCommand(e),
		version.NewVersionCommand(e),
	)
	return cmd
}
