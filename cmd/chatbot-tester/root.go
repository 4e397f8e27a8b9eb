package main

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "chatbot-tester",
		Short:        "Parallel QA runs against a chatbot web UI",
		Long:         "chatbot-tester drives a pool of browser sessions against a chatbot UI,\nscores the conversations and writes local reports.",
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd())
	return root
}
