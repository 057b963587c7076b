package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Sync the corpus, register it and print the registered documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			if err := a.reload(ctx); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, doc := range a.service.Documents() {
				_, _ = fmt.Fprintf(out, "%s\t%s\t%s\texpires %s\n",
					doc.Name, doc.DisplayName, doc.MIMEType, doc.ExpirationTime.Format(time.RFC3339))
			}
			return nil
		},
	}
}
