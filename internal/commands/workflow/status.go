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
	"time"

	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <workflow-id>",
		Short: "Show a workflow's current state, recent events and cost",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cl, err := opts.newClient()
			if err != nil {
				return err
			}
			detail, err := cl.GetWorkflow(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.JSON {
				return printJSON(out, detail)
			}

			fmt.Fprint(out, renderWorkflowDetail(detail.Workflow))
			if detail.StartedAt != nil {
				end := time.Now()
				if detail.CompletedAt != nil {
					end = *detail.CompletedAt
				}
				fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Elapsed"), formatDuration(end.Sub(*detail.StartedAt)))
			}

			if detail.Tokens != nil && detail.Tokens.Records > 0 {
				fmt.Fprintf(out, "%s $%.4f (%d in / %d out tokens)\n",
					labelStyle.Render("Cost"),
					detail.Tokens.CostUSD,
					detail.Tokens.InputTokens,
					detail.Tokens.OutputTokens)
			}

			if len(detail.RecentEvents) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, headerStyle.Render("Recent events"))
				for _, ev := range detail.RecentEvents {
					fmt.Fprintln(out, renderEvent(ev))
				}
			}
			return nil
		},
	}
	return cmd
}
