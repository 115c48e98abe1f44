package cli

import (
	"context"
	"fmt"

	"github.com/maneesh/qrshare/internal/models"
	"github.com/maneesh/qrshare/internal/payload"
	"github.com/spf13/cobra"
)

type sendOptions struct {
	method     string
	appName    string
	appPackage string
	appVersion string
	png        string
	wait       bool
}

// SendResult is the --json output of send
type SendResult struct {
	Transfer *models.Transfer `json:"transfer"`
	Payload  string           `json:"payload"`
	FileURL  string           `json:"file_url"`
}

func (a *app) newSendCommand() *cobra.Command {
	var opts sendOptions
	cmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Upload a file and print the QR code describing it",
		Long: `Create a transfer for a local file, upload its bytes and print the QR
code a receiver scans to fetch it.

  qrshare send report.pdf                      Share a file
  qrshare send maps.apk --app-name Maps \
      --package com.example.maps               Share an application package
  qrshare send report.pdf --png qr.png --wait  Save the QR image and wait for the receiver`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSend(cmd.Context(), args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.method, "method", string(models.MethodQRCode), "Transfer method: qr_code, wifi_direct, internet")
	cmd.Flags().StringVar(&opts.appName, "app-name", "", "Share the file as an application with this name")
	cmd.Flags().StringVar(&opts.appPackage, "package", "", "Application package name")
	cmd.Flags().StringVar(&opts.appVersion, "version", "", "Application version")
	cmd.Flags().StringVar(&opts.png, "png", "", "Also write the QR code as a PNG image")
	cmd.Flags().BoolVar(&opts.wait, "wait", false, "Wait until the receiver completes the transfer")
	return cmd
}

func (a *app) runSend(ctx context.Context, path string, opts sendOptions) error {
	method := models.TransferMethod(opts.method)
	if !method.Valid() {
		return fmt.Errorf("unknown method %q", opts.method)
	}

	svc := a.service()
	var (
		t       *models.Transfer
		encoded string
		err     error
	)
	if opts.appName != "" || opts.appPackage != "" {
		t, encoded, err = svc.ShareApplication(ctx, path, payload.AppInfo{
			Name:        opts.appName,
			PackageName: opts.appPackage,
			Version:     opts.appVersion,
		}, method)
	} else {
		t, encoded, err = svc.Share(ctx, path, method)
	}
	if err != nil {
		return fmt.Errorf("creating transfer: %w", err)
	}

	attempt := svc.Upload(ctx, t, path)
	if a.flagJSON {
		for range attempt.Events() {
		}
	} else {
		renderProgress(a.out, "upload", attempt)
	}
	res, err := attempt.Wait()
	if err != nil {
		return fmt.Errorf("uploading %s: %w", path, err)
	}

	if opts.png != "" {
		if err := writeQRImage(opts.png, encoded); err != nil {
			return err
		}
	}

	if a.flagJSON {
		if err := printJSON(a.out, SendResult{Transfer: t, Payload: encoded, FileURL: res.FileURL}); err != nil {
			return err
		}
	} else {
		if err := printQR(a.out, encoded); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Transfer %s: %s (%s)\n", t.ID, t.FileName, formatSize(t.FileSize))
		fmt.Fprintf(a.out, "Payload: %s\n", encoded)
	}

	if !opts.wait {
		return nil
	}
	final, err := a.waitTerminal(ctx, t.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Transfer %s %s\n", final.ID, final.Status)
	return nil
}

// waitTerminal blocks until transfer id reaches a terminal status
func (a *app) waitTerminal(ctx context.Context, id string) (*models.Transfer, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan models.Transfer, 1)
	check := func(list []models.Transfer) {
		for _, t := range list {
			if t.ID == id && t.Status.Terminal() {
				select {
				case done <- t:
				default:
				}
			}
		}
	}

	stop, err := a.records.Subscribe(ctx, a.identity.DeviceID(), check)
	if err != nil {
		return nil, err
	}
	defer stop()

	// the row may have finished before the subscription opened
	current, err := a.records.GetTransfer(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return current, nil
	}

	select {
	case t := <-done:
		return &t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
