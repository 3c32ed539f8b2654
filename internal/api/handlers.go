package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calendar-server/internal/apperr"
	"github.com/sonroyaalmerol/calendar-server/internal/auth"
	"github.com/sonroyaalmerol/calendar-server/internal/store"
)

type API struct {
	store    store.Store
	logger   zerolog.Logger
	validate *validator.Validate
}

func newAPI(st store.Store, logger zerolog.Logger) *API {
	return &API{store: st, logger: logger, validate: validator.New()}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError renders {"error": "<code>", "message": "<human>"} per §6.
func respondError(w http.ResponseWriter, err error) {
	status := apperr.StatusOf(err)
	respondJSON(w, status, map[string]string{
		"error":   apperr.CodeOf(err),
		"message": err.Error(),
	})
}

func principal(r *http.Request) (*auth.Principal, bool) {
	return auth.PrincipalFrom(r.Context())
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	pr, ok := principal(r)
	if !ok {
		respondError(w, apperr.Wrap(apperr.Unauthorized, "no principal"))
		return
	}
	user, err := a.store.GetUser(r.Context(), pr.UserID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toMeResponse(user))
}

func (a *API) handleListEvents(w http.ResponseWriter, r *http.Request) {
	pr, ok := principal(r)
	if !ok {
		respondError(w, apperr.Wrap(apperr.Unauthorized, "no principal"))
		return
	}

	opts := store.ListEventsOptions{Limit: 100}
	q := r.URL.Query()
	if s := q.Get("start"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			opts.Start = &t
		}
	}
	if e := q.Get("end"); e != "" {
		if t, err := time.Parse(time.RFC3339, e); err == nil {
			opts.End = &t
		}
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			opts.Limit = n
		}
	}
	if o := q.Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			opts.Offset = n
		}
	}

	events, err := a.store.ListEvents(r.Context(), pr.UserID, opts)
	if err != nil {
		respondError(w, err)
		return
	}
	dtos := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		dtos = append(dtos, toEventDTO(ev))
	}
	respondJSON(w, http.StatusOK, dtos)
}

func (a *API) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	pr, ok := principal(r)
	if !ok {
		respondError(w, apperr.Wrap(apperr.Unauthorized, "no principal"))
		return
	}
	ev, err := a.store.GetEvent(r.Context(), pr.UserID, store.ByID(chi.URLParam(r, "id")))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toEventDTO(ev))
}

func (a *API) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	pr, ok := principal(r)
	if !ok {
		respondError(w, apperr.Wrap(apperr.Unauthorized, "no principal"))
		return
	}

	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperr.Wrap(apperr.BadRequest, "invalid request body: %v", err))
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		respondError(w, apperr.Wrap(apperr.BadRequest, "%v", err))
		return
	}

	user, err := a.store.GetUser(r.Context(), pr.UserID)
	if err != nil {
		respondError(w, err)
		return
	}

	ev, err := req.toEvent(uuid.NewString(), user.Timezone)
	if err != nil {
		respondError(w, apperr.Wrap(apperr.BadRequest, "%v", err))
		return
	}

	result, err := a.store.PutEvent(r.Context(), pr.UserID, ev, store.Precondition{Kind: store.Unconditional})
	if err != nil {
		respondError(w, err)
		return
	}
	ev.ETag = result.ETag
	respondJSON(w, http.StatusCreated, toEventDTO(ev))
}

func (a *API) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	pr, ok := principal(r)
	if !ok {
		respondError(w, apperr.Wrap(apperr.Unauthorized, "no principal"))
		return
	}

	existing, err := a.store.GetEvent(r.Context(), pr.UserID, store.ByID(chi.URLParam(r, "id")))
	if err != nil {
		respondError(w, err)
		return
	}

	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperr.Wrap(apperr.BadRequest, "invalid request body: %v", err))
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		respondError(w, apperr.Wrap(apperr.BadRequest, "%v", err))
		return
	}

	ev, err := req.toEvent(existing.UID, existing.Timezone)
	if err != nil {
		respondError(w, apperr.Wrap(apperr.BadRequest, "%v", err))
		return
	}

	pre := store.Precondition{Kind: store.Unconditional}
	if im := r.Header.Get("If-Match"); im != "" {
		pre.Kind = store.IfMatch
		pre.ETag = im
	}

	result, err := a.store.PutEvent(r.Context(), pr.UserID, ev, pre)
	if err != nil {
		respondError(w, err)
		return
	}
	ev.ETag = result.ETag
	respondJSON(w, http.StatusOK, toEventDTO(ev))
}

func (a *API) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	pr, ok := principal(r)
	if !ok {
		respondError(w, apperr.Wrap(apperr.Unauthorized, "no principal"))
		return
	}
	existing, err := a.store.GetEvent(r.Context(), pr.UserID, store.ByID(chi.URLParam(r, "id")))
	if err != nil {
		respondError(w, err)
		return
	}

	pre := store.Precondition{Kind: store.Unconditional}
	if im := r.Header.Get("If-Match"); im != "" {
		pre.Kind = store.IfMatch
		pre.ETag = im
	}
	if err := a.store.DeleteEvent(r.Context(), pr.UserID, existing.UID, pre); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListDevices(w http.ResponseWriter, r *http.Request) {
	pr, ok := principal(r)
	if !ok {
		respondError(w, apperr.Wrap(apperr.Unauthorized, "no principal"))
		return
	}
	devices, err := a.store.ListDevicePasswords(r.Context(), pr.UserID)
	if err != nil {
		respondError(w, err)
		return
	}
	dtos := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		dtos = append(dtos, toDeviceResponse(d))
	}
	respondJSON(w, http.StatusOK, dtos)
}

func (a *API) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	pr, ok := principal(r)
	if !ok {
		respondError(w, apperr.Wrap(apperr.Unauthorized, "no principal"))
		return
	}
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperr.Wrap(apperr.BadRequest, "invalid request body: %v", err))
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		respondError(w, apperr.Wrap(apperr.BadRequest, "%v", err))
		return
	}

	dp, plaintext, err := a.store.CreateDevicePassword(r.Context(), pr.UserID, req.DisplayName)
	if err != nil {
		respondError(w, err)
		return
	}
	resp := toDeviceResponse(dp)
	resp.Plaintext = plaintext
	respondJSON(w, http.StatusCreated, resp)
}

func (a *API) handleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	pr, ok := principal(r)
	if !ok {
		respondError(w, apperr.Wrap(apperr.Unauthorized, "no principal"))
		return
	}
	if err := a.store.RevokeDevicePassword(r.Context(), pr.UserID, chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
