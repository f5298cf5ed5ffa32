/*
Copyright © 2024 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/rotblauer/trackd/params"
	"github.com/rotblauer/trackd/queue"
	"github.com/spf13/cobra"
)

var optJobState string

// jobsCmd lists durable jobs as JSON lines.
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List background processing jobs",
	Long: `Prints the jobs in the queue file as JSON lines, oldest first.

The queue file is locked while serve is running; stop it first.

Examples:

  trackd jobs --state failed | jq .last_error
`,
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)
		state := queue.State(optJobState)
		if state != "" && !state.Valid() {
			log.Fatalln(fmt.Errorf("unknown job state %q", optJobState))
		}
		q, err := queue.OpenReadOnly(filepath.Join(cfg.DataDir, params.QueueDBFileName))
		if err != nil {
			log.Fatalln(err)
		}
		defer q.Close()
		jobs, err := q.List(state)
		if err != nil {
			log.Fatalln(err)
		}
		enc := json.NewEncoder(os.Stdout)
		for _, j := range jobs {
			if err := enc.Encode(j); err != nil {
				log.Fatalln(err)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.Flags().StringVar(&optJobState, "state", "", "Only jobs in this state: queued, running, retrying, completed, failed")
}
