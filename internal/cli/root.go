// Copyright 2025 The Amelia Authors
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

// Package cli builds the amelia command tree.
package cli

import (
	"github.com/spf13/cobra"

	wfcmd "github.com/existential-birds/amelia-sub002/internal/commands/workflow"
)

// NewRootCommand creates the root command for the amelia CLI.
func NewRootCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amelia",
		Short: "Amelia - agentic workflow orchestration",
		Long: `Amelia supervises long-running agent workflows against git worktrees:
plan, implement and review changes with human approval gates along the way.

The CLI talks to a locally running ameliad daemon.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	opts := wfcmd.RegisterGlobalFlags(cmd)

	cmd.AddCommand(
		wfcmd.NewStartCommand(opts),
		wfcmd.NewListCommand(opts),
		wfcmd.NewStatusCommand(opts),
		wfcmd.NewApproveCommand(opts),
		wfcmd.NewRejectCommand(opts),
		wfcmd.NewCancelCommand(opts),
		wfcmd.NewPlanCommand(opts),
		wfcmd.NewEventsCommand(opts),
		wfcmd.NewTokensCommand(opts),
		wfcmd.NewHealthCommand(opts),
	)
	return cmd
}
