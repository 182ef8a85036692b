package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "translatectl",
		Short:         "Translate EPUB and PDF documents",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newTranslateCmd(), newResumeCmd(), newTokenCmd())
	return root
}
