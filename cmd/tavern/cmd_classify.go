package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/persona-gateway/internal/analysis/safety"
)

func newClassifyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <text>",
		Short: "Run the local safety filter over a piece of text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			verdict := safety.Classify(strings.Join(args, " "))
			if verdict.OK {
				printf(opts.out, "ok\n")
				return nil
			}
			printf(opts.out, "blocked (%s): %s\n", verdict.Category, verdict.Reason)
			return nil
		},
	}
}
