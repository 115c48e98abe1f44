package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) newDeviceCommand() *cobra.Command {
	var (
		name     string
		register bool
	)
	cmd := &cobra.Command{
		Use:     "device",
		Aliases: []string{"whoami"},
		Short:   "Show the identity of this device",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if register || name != "" {
				p, err := a.records.RegisterDevice(cmd.Context(), name)
				if err != nil {
					return fmt.Errorf("registering device: %w", err)
				}
				if a.flagJSON {
					return printJSON(a.out, p)
				}
			} else if a.flagJSON {
				return printJSON(a.out, map[string]string{
					"device_id": a.identity.DeviceID(),
					"path":      a.identity.Path(),
				})
			}

			fmt.Fprintf(a.out, "Device ID: %s\n", a.identity.DeviceID())
			fmt.Fprintf(a.out, "Identity:  %s\n", a.identity.Path())
			fmt.Fprintf(a.out, "Server:    %s\n", a.cfg.ServerURL)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Register the device with a display name")
	cmd.Flags().BoolVar(&register, "register", false, "Register the device profile with the backend")
	return cmd
}
