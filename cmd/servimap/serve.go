package main

import (
	"github.com/spf13/cobra"

	"github.com/servimap/servimap/internal/app/runtime"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API and ops servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtime.NewApplication(cmd.Context())
			if err != nil {
				return err
			}
			return rt.Run(cmd.Context())
		},
	}
}
