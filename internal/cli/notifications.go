package cli

import (
	"fmt"

	"github.com/maneesh/qrshare/internal/notify"
	"github.com/spf13/cobra"
)

func (a *app) newNotificationsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notif"},
		Short:   "List notifications of this device",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.notifier.List(cmd.Context(), a.identity.DeviceID())
			if err != nil {
				return err
			}
			if a.flagJSON {
				return printJSON(a.out, list)
			}
			notificationTable(a.out, list)
			fmt.Fprintf(a.out, "%d unread\n", notify.UnreadCount(list))
			return nil
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "read <id>",
			Short: "Mark one notification read",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := a.notifier.MarkRead(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if a.flagJSON {
					return printJSON(a.out, n)
				}
				fmt.Fprintf(a.out, "Marked %s read\n", n.ID)
				return nil
			},
		},
		&cobra.Command{
			Use:   "read-all",
			Short: "Mark every notification read",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				count, err := a.notifier.MarkAllRead(cmd.Context(), a.identity.DeviceID())
				if err != nil {
					return err
				}
				if a.flagJSON {
					return printJSON(a.out, map[string]int64{"updated": count})
				}
				fmt.Fprintf(a.out, "Marked %d notifications read\n", count)
				return nil
			},
		},
	)
	return cmd
}
