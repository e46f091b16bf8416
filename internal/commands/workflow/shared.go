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

// Package workflow implements the CLI commands that drive workflows.
package workflow

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/existential-birds/amelia-sub002/internal/client"
)

// GlobalOptions are the flags shared by every command.
type GlobalOptions struct {
	Server string
	JSON   bool
}

// RegisterGlobalFlags attaches the shared flags to the root command.
func RegisterGlobalFlags(cmd *cobra.Command) *GlobalOptions {
	opts := &GlobalOptions{}
	cmd.PersistentFlags().StringVar(&opts.Server, "server", "", "Daemon address (default http://127.0.0.1:8421, env AMELIA_SERVER)")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "Output JSON instead of formatted text")
	return opts
}

// newClient builds a daemon client from the global options.
func (o *GlobalOptions) newClient() (*client.Client, error) {
	baseURL := o.Server
	if baseURL == "" {
		baseURL = os.Getenv("AMELIA_SERVER")
	}
	if baseURL == "" {
		return client.New()
	}
	return client.New(client.WithBaseURL(baseURL))
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
