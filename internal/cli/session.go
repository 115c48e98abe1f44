package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/maneesh/qrshare/internal/payload"
	"github.com/spf13/cobra"
)

func (a *app) newSessionCommand() *cobra.Command {
	var png string
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Open a receive session and print its code",
		Long: `Open a short-lived receive session. Share the QR code or the 6 character
code with the sender; the session can be joined once before it expires.

  qrshare session              Open a session
  qrshare session join AB12CD  Join a session by code`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.records.CreateSession(ctx)
			if err != nil {
				return fmt.Errorf("creating session: %w", err)
			}
			encoded, err := payload.Encode(payload.NewSession(s.SessionCode, a.identity.DeviceID(), s.CreatedAt))
			if err != nil {
				return err
			}
			if png != "" {
				if err := writeQRImage(png, encoded); err != nil {
					return err
				}
			}

			if a.flagJSON {
				return printJSON(a.out, map[string]any{"session": s, "payload": encoded})
			}
			if err := printQR(a.out, encoded); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Session code: %s (expires %s)\n", s.SessionCode, s.ExpiresAt.Local().Format(time.Kitchen))
			fmt.Fprintf(a.out, "Payload: %s\n", encoded)
			return nil
		},
	}
	cmd.Flags().StringVar(&png, "png", "", "Also write the QR code as a PNG image")

	cmd.AddCommand(&cobra.Command{
		Use:   "join <code>",
		Short: "Join a receive session by code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := strings.ToUpper(strings.TrimSpace(args[0]))
			s, err := a.records.ClaimSession(cmd.Context(), code)
			if err != nil {
				return fmt.Errorf("joining session %s: %w", code, err)
			}
			if a.flagJSON {
				return printJSON(a.out, s)
			}
			fmt.Fprintf(a.out, "Joined session %s created by %s\n", s.SessionCode, s.CreatorDeviceID)
			return nil
		},
	})
	return cmd
}
