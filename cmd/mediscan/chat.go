package main

import (
	"github.com/spf13/cobra"

	"MediScan/internal/config"
	"MediScan/internal/console"
)

func chatCMD() *cobra.Command {
	var flags configFlags
	var sessionID string

	chat := &cobra.Command{
		Use:   "chat [image]",
		Short: "Analyze a report image and ask questions about it in the terminal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(func(cfg *config.Config) {
				// terminal output belongs to the conversation
				cfg.Log.Stdout = false
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.close()

			c := console.New(a.svc, cmd.InOrStdin(), cmd.OutOrStdout(), a.logger)
			if sessionID != "" {
				c.Resume(sessionID)
			}
			if len(args) == 1 {
				if err := c.Analyze(ctx, args[0]); err != nil {
					return err
				}
			}
			return c.Run(ctx)
		},
	}
	flags.register(chat)
	chat.Flags().StringVar(&sessionID, "session-id", "", "resume an existing session (sqlite or redis store)")
	return chat
}
