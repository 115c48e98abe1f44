package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/maneesh/qrshare/internal/logging"
	"github.com/maneesh/qrshare/internal/models"
	"github.com/maneesh/qrshare/internal/notify"
	"github.com/maneesh/qrshare/internal/payload"
	"github.com/maneesh/qrshare/internal/records"
)

// ErrDeclined is returned when the user refuses an incoming offer
var ErrDeclined = errors.New("transfer declined")

// Offer is what the receiver is asked to accept
type Offer struct {
	Kind           payload.Kind
	Name           string
	Size           int64
	SenderDeviceID string
}

// Confirmer asks the user whether to accept an offer
type Confirmer interface {
	Confirm(ctx context.Context, offer Offer) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer
type ConfirmFunc func(ctx context.Context, offer Offer) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, offer Offer) (bool, error) {
	return f(ctx, offer)
}

// Service keeps transfer rows and notifications in step with attempts
type Service struct {
	records  *records.Manager
	notifier *notify.Emitter
	executor *Executor
	confirm  Confirmer
	observe  func(*models.Transfer, *Attempt)
	logger   logging.Logger
	now      func() time.Time
}

type Option func(*Service)

// WithConfirmer sets the prompt used for incoming offers. Without one
// every offer is declined.
func WithConfirmer(c Confirmer) Option {
	return func(s *Service) { s.confirm = c }
}

// WithObserver is called with every attempt the service starts, before
// the service waits on it
func WithObserver(fn func(*models.Transfer, *Attempt)) Option {
	return func(s *Service) { s.observe = fn }
}

func NewService(rec *records.Manager, notifier *notify.Emitter, executor *Executor, logger logging.Logger, opts ...Option) *Service {
	s := &Service{
		records:  rec,
		notifier: notifier,
		executor: executor,
		logger:   logger.With("component", "transfer"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Share creates a pending transfer for a local file and returns it with
// the encoded QR payload, which is also stored on the row
func (s *Service) Share(ctx context.Context, localPath string, method models.TransferMethod) (*models.Transfer, string, error) {
	info, uri, err := describe(localPath)
	if err != nil {
		return nil, "", err
	}
	fileType, err := DetectFileType(localPath)
	if err != nil {
		return nil, "", err
	}

	t, err := s.records.CreateTransfer(ctx, records.NewTransfer{
		FileName: info.Name(),
		FileSize: info.Size(),
		FileType: fileType,
		Method:   method,
	})
	if err != nil {
		return nil, "", err
	}
	return s.attachPayload(ctx, t, payload.NewFile(t, uri, s.now()))
}

// ShareApplication creates a pending transfer for an application package
func (s *Service) ShareApplication(ctx context.Context, localPath string, app payload.AppInfo, method models.TransferMethod) (*models.Transfer, string, error) {
	info, _, err := describe(localPath)
	if err != nil {
		return nil, "", err
	}
	if app.Name == "" {
		app.Name = info.Name()
	}
	app.Size = info.Size()

	t, err := s.records.CreateTransfer(ctx, records.NewTransfer{
		FileName:      info.Name(),
		FileSize:      info.Size(),
		FileType:      models.ApplicationFileType,
		Method:        method,
		ApplicationID: app.PackageName,
	})
	if err != nil {
		return nil, "", err
	}
	return s.attachPayload(ctx, t, payload.NewApplication(t, app, s.now()))
}

func (s *Service) attachPayload(ctx context.Context, t *models.Transfer, p payload.Payload) (*models.Transfer, string, error) {
	encoded, err := payload.Encode(p)
	if err != nil {
		s.fail(ctx, t, notify.Sender)
		return nil, "", err
	}
	updated, err := s.records.UpdateTransfer(ctx, t.ID, models.TransferUpdate{QRCodeData: &encoded})
	if err != nil {
		return nil, "", err
	}
	return updated, encoded, nil
}

func describe(localPath string) (os.FileInfo, string, error) {
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return nil, "", &TransferIOError{Op: "open source", Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, "", &TransferIOError{Op: "open source", Err: err}
	}
	if !info.Mode().IsRegular() {
		return nil, "", &TransferIOError{Op: "open source", Err: fmt.Errorf("%s is not a regular file", localPath)}
	}
	return info, (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

// Upload sends the bytes of a shared transfer. The row stays pending so a
// receiver can still find it; a failed upload marks it failed.
func (s *Service) Upload(ctx context.Context, t *models.Transfer, localPath string) *Attempt {
	return s.track(ctx, t, notify.Sender, s.executor.Upload(ctx, t.ID, localPath))
}

// Receive downloads a claimed transfer and completes its row
func (s *Service) Receive(ctx context.Context, t *models.Transfer) *Attempt {
	return s.track(ctx, t, notify.Receiver, s.executor.Download(ctx, t.ID, t.FileName))
}

func (s *Service) track(ctx context.Context, t *models.Transfer, role notify.Role, inner *Attempt) *Attempt {
	a := start(t.ID, func(emit func(Progress)) (Result, error) {
		for p := range inner.Events() {
			if p.Phase.Terminal() {
				continue
			}
			if p.Percent > 0 {
				s.mirror(ctx, t.ID, models.TransferUpdate{Progress: &p.Percent})
			}
			emit(p)
		}

		res, err := inner.Wait()
		if err != nil {
			s.fail(ctx, t, role)
			return res, err
		}
		if role == notify.Receiver {
			s.complete(ctx, t)
		}
		return res, nil
	})
	if s.observe != nil {
		s.observe(t, a)
	}
	return a
}

func (s *Service) mirror(ctx context.Context, id string, u models.TransferUpdate) *models.Transfer {
	t, err := s.records.UpdateTransfer(ctx, id, u)
	if err != nil {
		s.logger.Warn(ctx, "transfer row not updated", "transfer_id", id, "error", err)
		return nil
	}
	return t
}

func (s *Service) complete(ctx context.Context, t *models.Transfer) {
	status := models.StatusCompleted
	updated := s.mirror(ctx, t.ID, models.TransferUpdate{Status: &status})
	if updated == nil {
		return
	}
	s.announce(ctx, updated, updated.ReceiverDeviceID, notify.Receiver)
	s.announce(ctx, updated, &updated.SenderDeviceID, notify.Sender)
}

func (s *Service) fail(ctx context.Context, t *models.Transfer, role notify.Role) {
	status := models.StatusFailed
	updated := s.mirror(ctx, t.ID, models.TransferUpdate{Status: &status})
	if updated == nil {
		return
	}
	local := s.records.DeviceID()
	s.announce(ctx, updated, &local, role)
}

func (s *Service) announce(ctx context.Context, t *models.Transfer, deviceID *string, role notify.Role) {
	if deviceID == nil || *deviceID == "" {
		return
	}
	title, message := notify.ForOutcome(t, role)
	s.notifier.Create(ctx, *deviceID, title, message, &t.ID)
}

// ProcessPayload acts on a scanned QR string: a session payload claims the
// session, a file or application payload claims the sender's latest
// pending transfer and downloads it after confirmation. It returns false
// with no row changed when decoding, lookup or confirmation fails.
func (s *Service) ProcessPayload(ctx context.Context, raw string) (bool, error) {
	p, err := payload.Decode(raw)
	if err != nil {
		s.logger.Warn(ctx, "unusable payload scanned", "error", err)
		return false, err
	}

	switch v := p.(type) {
	case *payload.Session:
		if _, err := s.records.ClaimSession(ctx, v.SessionCode); err != nil {
			return false, err
		}
		s.logger.Info(ctx, "session joined", "session_code", v.SessionCode)
		return true, nil
	case *payload.File, *payload.Application:
		return s.receiveOffer(ctx, p)
	}
	return false, fmt.Errorf("unhandled payload kind %q", p.Kind())
}

func (s *Service) receiveOffer(ctx context.Context, p payload.Payload) (bool, error) {
	t, err := s.records.LatestPendingFrom(ctx, p.SenderDeviceID())
	if err != nil {
		return false, err
	}

	name, size, _ := payload.Offer(p)
	offer := Offer{Kind: p.Kind(), Name: name, Size: size, SenderDeviceID: p.SenderDeviceID()}
	if s.confirm == nil {
		return false, ErrDeclined
	}
	ok, err := s.confirm.Confirm(ctx, offer)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrDeclined
	}

	me := s.records.DeviceID()
	status := models.StatusInProgress
	claimed, err := s.records.UpdateTransfer(ctx, t.ID, models.TransferUpdate{
		ReceiverDeviceID: &me,
		Status:           &status,
	})
	if err != nil {
		return false, err
	}

	if _, err := s.Receive(ctx, claimed).Wait(); err != nil {
		return false, err
	}
	return true, nil
}
