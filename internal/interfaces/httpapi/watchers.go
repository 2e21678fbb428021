package httpapi

import (
	"net/http"

	"wallet-watcher-engine/internal/domain/entity"

	"go.uber.org/zap"
)

// filtersRequest is the wire form of a watcher's filters
type filtersRequest struct {
	MinAmount     float64  `json:"minAmount"`
	SpecificToken string   `json:"specificToken"`
	ActivityTypes []string `json:"activityTypes"`
	Platform      []string `json:"platform"`
}

func (f filtersRequest) toEntity() entity.TrackingFilters {
	filters := entity.TrackingFilters{
		MinAmount:     f.MinAmount,
		SpecificToken: f.SpecificToken,
		Platform:      f.Platform,
	}
	for _, t := range f.ActivityTypes {
		filters.ActivityTypes = append(filters.ActivityTypes, entity.ActivityType(t))
	}
	return filters
}

type createWatcherRequest struct {
	UserID        string         `json:"userId"`
	WalletAddress string         `json:"walletAddress"`
	Filters       filtersRequest `json:"filters"`
	Name          string         `json:"name"`
	Tags          []string       `json:"tags"`
}

type updateWatcherRequest struct {
	Name *string   `json:"name"`
	Tags *[]string `json:"tags"`
}

func (s *Server) handleCreateWatcher(w http.ResponseWriter, r *http.Request) {
	var req createWatcherRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	watcher, err := s.watchers.Create(r.Context(), req.UserID, req.WalletAddress, req.Filters.toEntity(), req.Name, req.Tags)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.requestLogger(r).Info("Watcher created",
		zap.String("user_id", watcher.UserID),
		zap.String("wallet", watcher.WalletAddress),
		zap.String("rule_name", watcher.RuleName))
	writeSuccess(w, http.StatusCreated, envelope{
		"watcher":     watcher,
		"queryString": watcher.Filters.QueryString(),
	})
}

func (s *Server) handleListWatchers(w http.ResponseWriter, r *http.Request) {
	views, err := s.watchers.List(r.Context(), r.URL.Query().Get("userId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if views == nil {
		views = []*entity.WatcherView{}
	}
	writeSuccess(w, http.StatusOK, envelope{"watchers": views, "count": len(views)})
}

func (s *Server) handleDeleteWatcher(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := s.watchers.Delete(r.Context(), q.Get("userId"), q.Get("walletAddress"), q.Get("queryString")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}

func (s *Server) handleUpdateWatcher(w http.ResponseWriter, r *http.Request) {
	var req updateWatcherRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	watcher, err := s.watchers.UpdateMetadata(r.Context(), q.Get("userId"), q.Get("walletAddress"), q.Get("queryString"),
		entity.WatcherMetadata{Name: req.Name, Tags: req.Tags})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, envelope{"watcher": watcher})
}
