package handlers

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/maneesh/qrshare/internal/logging"
	"github.com/maneesh/qrshare/internal/models"
	"github.com/maneesh/qrshare/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var sessionCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// RestHandler serves the /rest/v1 tables
type RestHandler struct {
	store      storage.MetadataStore
	feed       storage.ChangeFeed
	logger     logging.Logger
	sessionTTL time.Duration
	now        func() time.Time
}

// NewRestHandler creates a new table handler
func NewRestHandler(store storage.MetadataStore, feed storage.ChangeFeed, logger logging.Logger, sessionTTL time.Duration) *RestHandler {
	if sessionTTL <= 0 {
		sessionTTL = models.DefaultSessionTTL
	}
	return &RestHandler{
		store:      store,
		feed:       feed,
		logger:     logger,
		sessionTTL: sessionTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Register mounts the table routes on r
func (h *RestHandler) Register(r *mux.Router) {
	r.HandleFunc("/rest/v1/transfers", h.createTransfer).Methods(http.MethodPost)
	r.HandleFunc("/rest/v1/transfers", h.listTransfers).Methods(http.MethodGet)
	r.HandleFunc("/rest/v1/transfers/pending", h.latestPending).Methods(http.MethodGet)
	r.HandleFunc("/rest/v1/transfers/{id}", h.getTransfer).Methods(http.MethodGet)
	r.HandleFunc("/rest/v1/transfers/{id}", h.updateTransfer).Methods(http.MethodPatch)

	r.HandleFunc("/rest/v1/sessions", h.createSession).Methods(http.MethodPost)
	r.HandleFunc("/rest/v1/sessions/{code}/claim", h.claimSession).Methods(http.MethodPost)

	r.HandleFunc("/rest/v1/notifications", h.createNotification).Methods(http.MethodPost)
	r.HandleFunc("/rest/v1/notifications", h.listNotifications).Methods(http.MethodGet)
	r.HandleFunc("/rest/v1/notifications/read-all", h.markAllRead).Methods(http.MethodPost)
	r.HandleFunc("/rest/v1/notifications/{id}/read", h.markRead).Methods(http.MethodPost)

	r.HandleFunc("/rest/v1/profiles", h.upsertProfile).Methods(http.MethodPost)
}

func (h *RestHandler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		trace.SpanFromContext(ctx).RecordError(err)
		h.logger.Error(ctx, "request failed", "op", op, "error", err)
	}
	writeError(w, status, err.Error())
}

func (h *RestHandler) publish(ctx context.Context, ev models.ChangeEvent, err error) {
	if err == nil {
		err = h.feed.Publish(ctx, ev)
	}
	if err != nil {
		h.logger.Warn(ctx, "failed to publish change", "table", ev.Table, "error", err)
	}
}

func requireQuery(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing '%s' query parameter", key))
		return "", false
	}
	return v, true
}

func (h *RestHandler) createTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var in models.TransferInsert
	if err := decodeBody(r, &in); err != nil {
		h.fail(ctx, w, "create_transfer", err)
		return
	}
	if err := in.Validate(); err != nil {
		h.fail(ctx, w, "create_transfer", err)
		return
	}

	t := models.NewTransferFromInsert(uuid.New().String(), in, h.now())
	if err := h.store.CreateTransfer(ctx, t); err != nil {
		h.fail(ctx, w, "create_transfer", err)
		return
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("transfer_id", t.ID))

	ev, err := models.TransferChange(models.ChangeInsert, t)
	h.publish(ctx, ev, err)
	writeJSON(w, http.StatusCreated, t)
}

func (h *RestHandler) listTransfers(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := requireQuery(w, r, "device_id")
	if !ok {
		return
	}
	transfers, err := h.store.ListTransfers(r.Context(), deviceID)
	if err != nil {
		h.fail(r.Context(), w, "list_transfers", err)
		return
	}
	writeJSON(w, http.StatusOK, transfers)
}

func (h *RestHandler) latestPending(w http.ResponseWriter, r *http.Request) {
	sender, ok := requireQuery(w, r, "sender_device_id")
	if !ok {
		return
	}
	t, err := h.store.LatestPendingTransfer(r.Context(), sender)
	if err != nil {
		h.fail(r.Context(), w, "latest_pending", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *RestHandler) getTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.GetTransfer(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(r.Context(), w, "get_transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *RestHandler) updateTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	var u models.TransferUpdate
	if err := decodeBody(r, &u); err != nil {
		h.fail(ctx, w, "update_transfer", err)
		return
	}
	if u.Empty() {
		writeError(w, http.StatusBadRequest, "update carries no fields")
		return
	}
	if u.Status != nil && !u.Status.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", *u.Status))
		return
	}

	t, err := h.store.UpdateTransfer(ctx, id, u, h.now())
	if err != nil {
		h.fail(ctx, w, "update_transfer", err)
		return
	}

	ev, err := models.TransferChange(models.ChangeUpdate, t)
	h.publish(ctx, ev, err)
	writeJSON(w, http.StatusOK, t)
}

func (h *RestHandler) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var in models.SessionInsert
	if err := decodeBody(r, &in); err != nil {
		h.fail(ctx, w, "create_session", err)
		return
	}
	if !sessionCodePattern.MatchString(in.SessionCode) {
		writeError(w, http.StatusBadRequest, "session_code must be 6 uppercase alphanumeric characters")
		return
	}
	if strings.TrimSpace(in.CreatorDeviceID) == "" {
		writeError(w, http.StatusBadRequest, "creator_device_id is required")
		return
	}

	now := h.now()
	s := &models.TransferSession{
		ID:              uuid.New().String(),
		SessionCode:     in.SessionCode,
		CreatorDeviceID: in.CreatorDeviceID,
		IsActive:        true,
		ExpiresAt:       now.Add(h.sessionTTL),
		CreatedAt:       now,
	}
	if err := h.store.CreateSession(ctx, s); err != nil {
		h.fail(ctx, w, "create_session", err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (h *RestHandler) claimSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.ClaimSession(r.Context(), mux.Vars(r)["code"], h.now())
	if err != nil {
		h.fail(r.Context(), w, "claim_session", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *RestHandler) createNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var in models.NotificationInsert
	if err := decodeBody(r, &in); err != nil {
		h.fail(ctx, w, "create_notification", err)
		return
	}
	if strings.TrimSpace(in.DeviceID) == "" || strings.TrimSpace(in.Title) == "" {
		writeError(w, http.StatusBadRequest, "device_id and title are required")
		return
	}

	n := &models.Notification{
		ID:         uuid.New().String(),
		DeviceID:   in.DeviceID,
		TransferID: in.TransferID,
		Title:      in.Title,
		Message:    in.Message,
		CreatedAt:  h.now(),
	}
	if err := h.store.CreateNotification(ctx, n); err != nil {
		h.fail(ctx, w, "create_notification", err)
		return
	}

	ev, err := models.NotificationChange(models.ChangeInsert, n)
	h.publish(ctx, ev, err)
	writeJSON(w, http.StatusCreated, n)
}

func (h *RestHandler) listNotifications(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := requireQuery(w, r, "device_id")
	if !ok {
		return
	}
	list, err := h.store.ListNotifications(r.Context(), deviceID)
	if err != nil {
		h.fail(r.Context(), w, "list_notifications", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *RestHandler) markRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	n, err := h.store.MarkNotificationRead(ctx, mux.Vars(r)["id"])
	if err != nil {
		h.fail(ctx, w, "mark_read", err)
		return
	}
	ev, err := models.NotificationChange(models.ChangeUpdate, n)
	h.publish(ctx, ev, err)
	writeJSON(w, http.StatusOK, n)
}

// MarkAllReadResponse reports how many notifications were flipped
type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}

func (h *RestHandler) markAllRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deviceID, ok := requireQuery(w, r, "device_id")
	if !ok {
		return
	}
	count, err := h.store.MarkAllNotificationsRead(ctx, deviceID)
	if err != nil {
		h.fail(ctx, w, "mark_all_read", err)
		return
	}
	if count > 0 {
		h.publish(ctx, models.ChangeEvent{
			Table:     models.TableNotifications,
			Type:      models.ChangeUpdate,
			DeviceIDs: []string{deviceID},
			CommitAt:  h.now(),
		}, nil)
	}
	writeJSON(w, http.StatusOK, MarkAllReadResponse{Updated: count})
}

func (h *RestHandler) upsertProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var in models.ProfileUpsert
	if err := decodeBody(r, &in); err != nil {
		h.fail(ctx, w, "upsert_profile", err)
		return
	}
	if strings.TrimSpace(in.DeviceID) == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	now := h.now()
	p, err := h.store.UpsertProfile(ctx, &models.Profile{
		ID:          uuid.New().String(),
		DeviceID:    in.DeviceID,
		DisplayName: in.DisplayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		h.fail(ctx, w, "upsert_profile", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
