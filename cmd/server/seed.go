package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newSeedCmd(opts *rootOptions) *cobra.Command {
	var mockDir string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the schema and load the mock image pool, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if mockDir != "" {
				cfg.Chat.MockDir = mockDir
			}
			store, n, err := openStore(cmd.Context(), cfg, log.Logger)
			if err != nil {
				log.Error().Err(err).Msg("seed failed")
				return err
			}
			defer store.Close()
			cmd.Printf("mock pool holds %d images\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&mockDir, "mock-dir", "", "folder of mock images (overrides config)")
	return cmd
}
