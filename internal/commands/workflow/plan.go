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

package workflow

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewPlanCommand creates the plan command.
func NewPlanCommand(opts *GlobalOptions) *cobra.Command {
	var (
		planFile string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "plan <workflow-id>",
		Short: "Attach an external plan to a workflow",
		Long: `Attach an external plan to a workflow, replacing the planning stage's
output. Replacing a plan that already exists requires --force. Plans cannot
be changed once execution has begun.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(planFile)
			if err != nil {
				return fmt.Errorf("read plan file: %w", err)
			}

			cl, err := opts.newClient()
			if err != nil {
				return err
			}
			wf, err := cl.SetPlan(cmd.Context(), args[0], string(data), force)
			if err != nil {
				return err
			}
			if opts.JSON {
				return printJSON(cmd.OutOrStdout(), wf)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Plan set on workflow %s (%s)\n", wf.ID, renderStatus(wf.Status))
			return nil
		},
	}

	cmd.Flags().StringVar(&planFile, "file", "", "Path to the plan file (required)")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing plan")
	cmd.MarkFlagRequired("file")

	return cmd
}
