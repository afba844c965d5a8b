package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	lberrs "github.com/jdholdren/lodgebook/internal/errors"
	"github.com/jdholdren/lodgebook/internal/ical"
	"github.com/jdholdren/lodgebook/internal/lodgebook"
	"github.com/jdholdren/lodgebook/internal/serverutil"
	"github.com/jdholdren/lodgebook/internal/sync"
)

const (
	defaultSyncFrequencyHours = 6
	maxSyncFrequencyHours     = 24 * 7
)

type (
	PostSyncConfigurationReq struct {
		PropertyID         string `json:"property_id"`
		PlatformName       string `json:"platform_name"`
		ICalURL            string `json:"ical_url"`
		SyncFrequencyHours *int   `json:"sync_frequency_hours"`
		IsActive           *bool  `json:"is_active"`
	}

	PatchSyncConfigurationReq struct {
		PlatformName       *string `json:"platform_name"`
		ICalURL            *string `json:"ical_url"`
		SyncFrequencyHours *int    `json:"sync_frequency_hours"`
		IsActive           *bool   `json:"is_active"`
	}

	SyncConfigurationResp struct {
		ID                 string     `json:"id"`
		PropertyID         string     `json:"property_id"`
		PlatformName       string     `json:"platform_name"`
		ICalURL            string     `json:"ical_url"`
		IsActive           bool       `json:"is_active"`
		SyncFrequencyHours int        `json:"sync_frequency_hours"`
		LastSyncAt         *time.Time `json:"last_sync_at"`
		LastSyncError      *string    `json:"last_sync_error"`
		CreatedAt          time.Time  `json:"created_at"`
		UpdatedAt          time.Time  `json:"updated_at"`
	}

	ExternalBookingResp struct {
		ID           string    `json:"id"`
		ExternalUID  string    `json:"external_uid"`
		Summary      string    `json:"summary"`
		StartDate    ical.Date `json:"start_date"`
		EndDate      ical.Date `json:"end_date"`
		PlatformName string    `json:"platform_name"`
		CreatedAt    time.Time `json:"created_at"`
	}

	SyncResp struct {
		Success bool `json:"success"`
		sync.Result
	}
)

func (req PostSyncConfigurationReq) Validate() error {
	var details []lberrs.Detail
	if strings.TrimSpace(req.PropertyID) == "" {
		details = append(details, lberrs.Detail{Field: "property_id", Error: "is required"})
	}
	details = append(details, validatePlatform(req.PlatformName)...)
	details = append(details, validateICalURL(req.ICalURL)...)
	if req.SyncFrequencyHours != nil {
		details = append(details, validateFrequency(*req.SyncFrequencyHours)...)
	}

	if len(details) > 0 {
		return lberrs.E(http.StatusBadRequest, "invalid sync configuration", details)
	}
	return nil
}

func (req PatchSyncConfigurationReq) Validate() error {
	var details []lberrs.Detail
	if req.PlatformName != nil {
		details = append(details, validatePlatform(*req.PlatformName)...)
	}
	if req.ICalURL != nil {
		details = append(details, validateICalURL(*req.ICalURL)...)
	}
	if req.SyncFrequencyHours != nil {
		details = append(details, validateFrequency(*req.SyncFrequencyHours)...)
	}

	if len(details) > 0 {
		return lberrs.E(http.StatusBadRequest, "invalid sync configuration", details)
	}
	return nil
}

func validatePlatform(name string) []lberrs.Detail {
	if strings.TrimSpace(name) == "" {
		return []lberrs.Detail{{Field: "platform_name", Error: "is required"}}
	}
	return nil
}

func validateICalURL(raw string) []lberrs.Detail {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []lberrs.Detail{{Field: "ical_url", Error: "must be an absolute http(s) url"}}
	}
	return nil
}

func validateFrequency(hours int) []lberrs.Detail {
	if hours < 1 || hours > maxSyncFrequencyHours {
		return []lberrs.Detail{{Field: "sync_frequency_hours", Error: "must be between 1 and 168"}}
	}
	return nil
}

func apiSyncConfiguration(cfg lodgebook.SyncConfiguration) SyncConfigurationResp {
	return SyncConfigurationResp{
		ID:                 cfg.ID,
		PropertyID:         cfg.PropertyID,
		PlatformName:       cfg.PlatformName,
		ICalURL:            cfg.ICalURL,
		IsActive:           cfg.IsActive,
		SyncFrequencyHours: cfg.SyncFrequencyHours,
		LastSyncAt:         cfg.LastSyncAt,
		LastSyncError:      cfg.LastSyncError,
		CreatedAt:          cfg.CreatedAt,
		UpdatedAt:          cfg.UpdatedAt,
	}
}

func (s *Server) postSyncConfiguration(w http.ResponseWriter, r *http.Request) error {
	body, err := serverutil.DecodeValid[PostSyncConfigurationReq](r.Body)
	if err != nil {
		return err
	}

	cfg := lodgebook.SyncConfiguration{
		PropertyID:         strings.TrimSpace(body.PropertyID),
		PlatformName:       strings.TrimSpace(body.PlatformName),
		ICalURL:            body.ICalURL,
		IsActive:           true,
		SyncFrequencyHours: defaultSyncFrequencyHours,
	}
	if body.IsActive != nil {
		cfg.IsActive = *body.IsActive
	}
	if body.SyncFrequencyHours != nil {
		cfg.SyncFrequencyHours = *body.SyncFrequencyHours
	}

	cfg, err = s.repo.InsertSyncConfiguration(r.Context(), cfg)
	if err != nil {
		return repoErr(err)
	}

	return serverutil.WriteJSON(w, http.StatusCreated, apiSyncConfiguration(cfg))
}

func (s *Server) getSyncConfigurations(w http.ResponseWriter, r *http.Request) error {
	cfgs, err := s.repo.SyncConfigurations(r.Context(), r.URL.Query().Get("property_id"))
	if err != nil {
		return err
	}

	resp := make([]SyncConfigurationResp, 0, len(cfgs))
	for _, cfg := range cfgs {
		resp = append(resp, apiSyncConfiguration(cfg))
	}

	return serverutil.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) getSyncConfiguration(w http.ResponseWriter, r *http.Request) error {
	cfg, err := s.repo.SyncConfiguration(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		return repoErr(err)
	}

	return serverutil.WriteJSON(w, http.StatusOK, apiSyncConfiguration(cfg))
}

func (s *Server) patchSyncConfiguration(w http.ResponseWriter, r *http.Request) error {
	body, err := serverutil.DecodeValid[PatchSyncConfigurationReq](r.Body)
	if err != nil {
		return err
	}

	cfg, err := s.repo.UpdateSyncConfiguration(r.Context(), mux.Vars(r)["id"], lodgebook.UpdateSyncConfigurationArgs{
		PlatformName:       body.PlatformName,
		ICalURL:            body.ICalURL,
		IsActive:           body.IsActive,
		SyncFrequencyHours: body.SyncFrequencyHours,
	})
	if err != nil {
		return repoErr(err)
	}

	return serverutil.WriteJSON(w, http.StatusOK, apiSyncConfiguration(cfg))
}

func (s *Server) deleteSyncConfiguration(w http.ResponseWriter, r *http.Request) error {
	if err := s.repo.DeleteSyncConfiguration(r.Context(), mux.Vars(r)["id"]); err != nil {
		return repoErr(err)
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) postSync(w http.ResponseWriter, r *http.Request) error {
	res, err := s.trigger.RunSync(r.Context(), mux.Vars(r)["id"])
	switch {
	case errors.Is(err, sync.ErrConfigNotFound):
		return lberrs.E(http.StatusNotFound, "sync configuration not found")
	case errors.Is(err, sync.ErrFeedUnreachable):
		return lberrs.E(http.StatusBadGateway, err)
	case errors.Is(err, sync.ErrReconcile):
		return lberrs.E(http.StatusInternalServerError, "error storing external bookings, they will be restored on the next successful sync")
	case err != nil:
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, SyncResp{Success: res.Success(), Result: res})
}

func (s *Server) getBookings(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx = r.Context()
		id  = mux.Vars(r)["id"]
	)
	if _, err := s.repo.SyncConfiguration(ctx, id); err != nil {
		return repoErr(err)
	}

	bookings, err := s.repo.ExternalBookings(ctx, id)
	if err != nil {
		return err
	}

	resp := make([]ExternalBookingResp, 0, len(bookings))
	for _, b := range bookings {
		resp = append(resp, ExternalBookingResp{
			ID:           b.ID,
			ExternalUID:  b.ExternalUID,
			Summary:      b.Summary,
			StartDate:    b.StartDate,
			EndDate:      b.EndDate,
			PlatformName: b.PlatformName,
			CreatedAt:    b.CreatedAt,
		})
	}

	return serverutil.WriteJSON(w, http.StatusOK, resp)
}
