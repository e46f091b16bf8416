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

// NewApproveCommand creates the approve command.
func NewApproveCommand(opts *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <workflow-id>",
		Short: "Approve a workflow's pending gate so it resumes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := opts.newClient()
			if err != nil {
				return err
			}
			if err := cl.Approve(cmd.Context(), args[0]); err != nil {
				return err
			}
			if opts.JSON {
				return printJSON(cmd.OutOrStdout(), map[string]string{"workflow_id": args[0], "result": "approved"})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Approved workflow %s\n", args[0])
			return nil
		},
	}
	return cmd
}

// NewRejectCommand creates the reject command.
func NewRejectCommand(opts *GlobalOptions) *cobra.Command {
	var feedback string

	cmd := &cobra.Command{
		Use:   "reject <workflow-id>",
		Short: "Reject a workflow's pending gate, terminating it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := opts.newClient()
			if err != nil {
				return err
			}
			if err := cl.Reject(cmd.Context(), args[0], feedback); err != nil {
				return err
			}
			if opts.JSON {
				return printJSON(cmd.OutOrStdout(), map[string]string{"workflow_id": args[0], "result": "rejected"})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rejected workflow %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&feedback, "feedback", "", "Reason recorded on the rejection")

	return cmd
}
