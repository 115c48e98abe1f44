package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/maneesh/qrshare/internal/models"
	"github.com/maneesh/qrshare/internal/payload"
	"github.com/maneesh/qrshare/internal/records"
	"github.com/maneesh/qrshare/internal/transfer"
	"github.com/skip2/go-qrcode"
)

const progressTemplate = `{{string . "label"}} {{bar . }} {{percent . }} {{string . "message"}}`

// renderProgress draws the milestones of a until it ends
func renderProgress(w io.Writer, label string, a *transfer.Attempt) {
	bar := pb.New(100)
	bar.SetWriter(w)
	bar.SetTemplateString(progressTemplate)
	bar.Set("label", label)
	bar.Start()
	for p := range a.Events() {
		bar.SetCurrent(int64(p.Percent))
		bar.Set("message", p.Message)
	}
	bar.Finish()
}

// printQR writes payload as a terminal QR code. Low recovery keeps the
// full payload capacity available.
func printQR(w io.Writer, payload string) error {
	q, err := qrcode.New(payload, qrcode.Low)
	if err != nil {
		return fmt.Errorf("rendering QR code: %w", err)
	}
	fmt.Fprint(w, q.ToSmallString(false))
	return nil
}

func writeQRImage(path, payload string) error {
	if err := qrcode.WriteFile(payload, qrcode.Low, 512, path); err != nil {
		return fmt.Errorf("writing QR image: %w", err)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func transferTable(w io.Writer, list []models.Transfer, deviceID string) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No transfers found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSIZE\tDIRECTION\tSTATUS\tPROGRESS\tCREATED")
	for _, t := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d%%\t%s\n",
			t.ID, t.FileName, formatSize(t.FileSize), records.Of(&t, deviceID),
			t.Status, t.Progress, humanize.Time(t.CreatedAt))
	}
	tw.Flush()
}

func notificationTable(w io.Writer, list []models.Notification) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No notifications.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tREAD\tTITLE\tMESSAGE\tCREATED")
	for _, n := range list {
		read := " "
		if n.IsRead {
			read = "x"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", n.ID, read, n.Title, n.Message, n.CreatedAt.Format(time.RFC3339))
	}
	tw.Flush()
}

// linePrompt confirms offers by reading y/n answers from r
type linePrompt struct {
	in  *bufio.Reader
	out io.Writer
}

func newLinePrompt(r io.Reader, w io.Writer) *linePrompt {
	return &linePrompt{in: bufio.NewReader(r), out: w}
}

func (p *linePrompt) Confirm(_ context.Context, o transfer.Offer) (bool, error) {
	kind := "file"
	if o.Kind == payload.KindApplication {
		kind = "application"
	}
	fmt.Fprintf(p.out, "Receive %s %q (%s) from %s? [y/N] ", kind, o.Name, formatSize(o.Size), o.SenderDeviceID)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(p.out)
		return false, nil
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
