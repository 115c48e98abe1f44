package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/maneesh/qrshare/internal/models"
	"github.com/maneesh/qrshare/internal/transfer"
	"github.com/spf13/cobra"
)

// errStdinPrompt is returned when an offer needs confirmation but stdin already
// carried the payload.
var errStdinPrompt = errors.New("cannot confirm on stdin after reading the payload from it; pass --yes or give the payload as an argument")

func (a *app) newReceiveCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:     "receive [payload]",
		Aliases: []string{"scan"},
		Short:   "Act on a scanned QR payload",
		Long: `Process the text of a scanned QR code. A session payload joins the
session; a file or application payload downloads the sender's pending
transfer after confirmation.

  qrshare receive '{"type":"file",...}'        Confirm interactively
  zbarimg -q --raw qr.png | qrshare receive --yes`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := ""
			fromStdin := len(args) == 0
			if !fromStdin {
				raw = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading payload: %w", err)
				}
				raw = strings.TrimSpace(string(data))
			}

			var confirm transfer.Confirmer = newLinePrompt(cmd.InOrStdin(), a.out)
			switch {
			case yes:
				confirm = transfer.ConfirmFunc(autoAccept)
			case fromStdin:
				confirm = transfer.ConfirmFunc(func(context.Context, transfer.Offer) (bool, error) {
					return false, errStdinPrompt
				})
			}

			var wg sync.WaitGroup
			var saved string
			svc := a.service(
				transfer.WithConfirmer(confirm),
				transfer.WithObserver(func(t *models.Transfer, attempt *transfer.Attempt) {
					wg.Add(1)
					go func() {
						defer wg.Done()
						renderProgress(a.out, t.FileName, attempt)
						if res, err := attempt.Wait(); err == nil {
							saved = res.Path
						}
					}()
				}),
			)

			ok, err := svc.ProcessPayload(cmd.Context(), raw)
			wg.Wait()
			switch {
			case errors.Is(err, transfer.ErrDeclined):
				fmt.Fprintln(a.out, "Transfer declined.")
				return nil
			case err != nil:
				return err
			case !ok:
				return errors.New("payload was not accepted")
			}

			if saved != "" {
				fmt.Fprintf(a.out, "Saved to %s\n", saved)
			} else {
				fmt.Fprintln(a.out, "Session joined.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Accept incoming files without asking")
	return cmd
}

func autoAccept(context.Context, transfer.Offer) (bool, error) {
	return true, nil
}
