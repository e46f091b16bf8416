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

	"github.com/spf13/cobra"
)

// NewTokensCommand creates the tokens command.
func NewTokensCommand(opts *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens <workflow-id>",
		Short: "Show a workflow's token usage and cost",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := opts.newClient()
			if err != nil {
				return err
			}
			resp, err := cl.Tokens(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.JSON {
				return printJSON(out, resp)
			}
			if resp.Totals == nil || resp.Totals.Records == 0 {
				fmt.Fprintln(out, "No token usage recorded")
				return nil
			}

			t := resp.Totals
			fmt.Fprintf(out, "%s %d\n", labelStyle.Render("Input"), t.InputTokens)
			fmt.Fprintf(out, "%s %d\n", labelStyle.Render("Output"), t.OutputTokens)
			fmt.Fprintf(out, "%s %d read / %d written\n", labelStyle.Render("Cache"), t.CacheReadTokens, t.CacheWriteTokens)
			fmt.Fprintf(out, "%s $%.4f across %d calls\n", labelStyle.Render("Cost"), t.CostUSD, t.Records)

			if len(resp.Records) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%-19s  %-12s  %-24s  %8s  %8s  %10s", "TIME", "AGENT", "MODEL", "IN", "OUT", "COST")))
				for _, r := range resp.Records {
					fmt.Fprintf(out, "%-19s  %-12s  %-24s  %8d  %8d  %10.4f\n",
						formatTimestamp(r.CreatedAt), r.Agent, r.Model, r.InputTokens, r.OutputTokens, r.CostUSD)
				}
			}
			return nil
		},
	}
	return cmd
}
