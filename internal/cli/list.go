package cli

import (
	"fmt"
	"sync"

	"github.com/maneesh/qrshare/internal/models"
	"github.com/maneesh/qrshare/internal/records"
	"github.com/spf13/cobra"
)

func (a *app) newListCommand() *cobra.Command {
	var direction string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List transfers sent or received by this device",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, ok := records.ParseDirection(direction)
			if !ok {
				return fmt.Errorf("unknown direction %q", direction)
			}
			me := a.identity.DeviceID()
			list, err := a.records.ListTransfers(cmd.Context(), me)
			if err != nil {
				return fmt.Errorf("listing transfers: %w", err)
			}
			list = records.Filter(list, me, dir)

			if a.flagJSON {
				return printJSON(a.out, list)
			}
			transferTable(a.out, list, me)
			return nil
		},
	}
	cmd.Flags().StringVarP(&direction, "direction", "d", "all", "Filter: all, sent, received")
	return cmd
}

func (a *app) newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the transfer list every time it changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			me := a.identity.DeviceID()

			var mu sync.Mutex
			show := func(list []models.Transfer) {
				mu.Lock()
				defer mu.Unlock()
				if a.flagJSON {
					printJSON(a.out, list)
					return
				}
				transferTable(a.out, list, me)
				fmt.Fprintln(a.out)
			}

			stop, err := a.records.Subscribe(ctx, me, show)
			if err != nil {
				return err
			}
			defer stop()

			list, err := a.records.ListTransfers(ctx, me)
			if err != nil {
				return err
			}
			show(list)

			<-ctx.Done()
			return nil
		},
	}
}

func (a *app) newCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <transfer-id>",
		Short: "Mark a transfer cancelled",
		Long: `Mark a transfer cancelled. Bytes already moving are not interrupted;
the row simply stops being offered to receivers.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := models.StatusCancelled
			t, err := a.records.UpdateTransfer(cmd.Context(), args[0], models.TransferUpdate{Status: &status})
			if err != nil {
				return fmt.Errorf("cancelling transfer: %w", err)
			}
			if a.flagJSON {
				return printJSON(a.out, t)
			}
			fmt.Fprintf(a.out, "Transfer %s %s\n", t.ID, t.Status)
			return nil
		},
	}
}
