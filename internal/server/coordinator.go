package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"ranked-coordinator/internal/domain"
	"ranked-coordinator/internal/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// CoordinatorServer exposes the queue, the ready-check lifecycle, and result
// submission over JSON HTTP.
type CoordinatorServer struct {
	queueSvc      *service.QueueService
	readyCheckSvc *service.ReadyCheckService
	resolutionSvc *service.ResolutionService
	playerSvc     *service.PlayerService
	logger        zerolog.Logger
}

func NewCoordinatorServer(
	queueSvc *service.QueueService,
	readyCheckSvc *service.ReadyCheckService,
	resolutionSvc *service.ResolutionService,
	playerSvc *service.PlayerService,
	logger zerolog.Logger,
) *CoordinatorServer {
	return &CoordinatorServer{
		queueSvc:      queueSvc,
		readyCheckSvc: readyCheckSvc,
		resolutionSvc: resolutionSvc,
		playerSvc:     playerSvc,
		logger:        logger,
	}
}

func (s *CoordinatorServer) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/queue/join", s.handleQueueJoin)
	mux.HandleFunc("POST /v1/queue/leave", s.handleQueueLeave)
	mux.HandleFunc("GET /v1/queue", s.handleQueueList)
	mux.HandleFunc("POST /v1/matches", s.handleProposeMatch)
	mux.HandleFunc("POST /v1/matches/{id}/accept", s.handleAccept)
	mux.HandleFunc("POST /v1/matches/{id}/decline", s.handleDecline)
	mux.HandleFunc("POST /v1/history/{id}/result", s.handleSubmitResult)
	mux.HandleFunc("GET /v1/players/{id}", s.handleGetPlayer)
	mux.HandleFunc("PUT /v1/players/{id}", s.handleUpsertPlayer)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

type playerActionRequest struct {
	PlayerID string `json:"playerId"`
}

type queueEntryView struct {
	PlayerID string    `json:"playerId"`
	Name     string    `json:"name"`
	Tier     string    `json:"tier"`
	Division string    `json:"division"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

type pendingMatchView struct {
	ID         string                       `json:"id"`
	Status     domain.MatchStatus           `json:"status"`
	Teams      [2]domain.Roster             `json:"teams"`
	Acceptance map[string]domain.Acceptance `json:"acceptance"`
	ExpiresAt  time.Time                    `json:"expiresAt"`
	HistoryID  string                       `json:"historyId,omitempty"`
}

type profileView struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Tag      string `json:"tag,omitempty"`
	Tier     string `json:"tier"`
	Division string `json:"division"`
	XP       int    `json:"xp"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
	MVPs     int    `json:"mvps"`
	Role     string `json:"role,omitempty"`
}

func (s *CoordinatorServer) handleQueueJoin(w http.ResponseWriter, r *http.Request) {
	var req playerActionRequest
	if !s.decode(w, r, &req) {
		return
	}
	entry, err := s.queueSvc.Join(r.Context(), req.PlayerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, queueEntryView{
		PlayerID: entry.PlayerID,
		Name:     entry.Name,
		Tier:     entry.Tier,
		Division: entry.Division,
		Role:     entry.Role,
		JoinedAt: entry.JoinedAt,
	})
}

func (s *CoordinatorServer) handleQueueLeave(w http.ResponseWriter, r *http.Request) {
	var req playerActionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.queueSvc.Leave(r.Context(), req.PlayerID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *CoordinatorServer) handleQueueList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorBody("invalid limit"))
			return
		}
		limit = n
	}
	entries, err := s.queueSvc.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]queueEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, queueEntryView{
			PlayerID: e.PlayerID,
			Name:     e.Name,
			Tier:     e.Tier,
			Division: e.Division,
			Role:     e.Role,
			JoinedAt: e.JoinedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entries": views, "count": len(views)})
}

// handleProposeMatch accepts the matchmaker's raw proposal document. Legacy
// field names are tolerated; normalization happens inside the service.
func (s *CoordinatorServer) handleProposeMatch(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody("unreadable body"))
		return
	}
	m, err := s.readyCheckSvc.Propose(r.Context(), "", raw)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toPendingView(m))
}

func (s *CoordinatorServer) handleAccept(w http.ResponseWriter, r *http.Request) {
	var req playerActionRequest
	if !s.decode(w, r, &req) {
		return
	}
	m, err := s.readyCheckSvc.Accept(r.Context(), r.PathValue("id"), req.PlayerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toPendingView(m))
}

func (s *CoordinatorServer) handleDecline(w http.ResponseWriter, r *http.Request) {
	var req playerActionRequest
	if !s.decode(w, r, &req) {
		return
	}
	m, err := s.readyCheckSvc.Decline(r.Context(), r.PathValue("id"), req.PlayerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toPendingView(m))
}

type resultRequest struct {
	Winner string            `json:"winner"`
	MVPs   map[string]string `json:"mvps"`
}

func (s *CoordinatorServer) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	var req resultRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Winner == "" {
		s.writeJSON(w, http.StatusBadRequest, errorBody("winner is required"))
		return
	}
	if err := s.resolutionSvc.SubmitResult(r.Context(), r.PathValue("id"), req.Winner, req.MVPs); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *CoordinatorServer) handleGetPlayer(w http.ResponseWriter, r *http.Request) {
	p, err := s.playerSvc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toProfileView(p))
}

type upsertPlayerRequest struct {
	Name             string `json:"name"`
	Tag              string `json:"tag"`
	Tier             string `json:"tier"`
	Division         string `json:"division"`
	Role             string `json:"role"`
	ChatUserID       string `json:"chatUserId"`
	NotifyReadyCheck *bool  `json:"notifyReadyCheck"`
	NotifyResult     *bool  `json:"notifyResult"`
}

func (s *CoordinatorServer) handleUpsertPlayer(w http.ResponseWriter, r *http.Request) {
	var req upsertPlayerRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		s.writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	profile := &domain.PlayerProfile{
		PlayerID:         r.PathValue("id"),
		Name:             req.Name,
		Tag:              req.Tag,
		Tier:             req.Tier,
		Division:         req.Division,
		Role:             req.Role,
		ChatUserID:       req.ChatUserID,
		NotifyReadyCheck: req.NotifyReadyCheck == nil || *req.NotifyReadyCheck,
		NotifyResult:     req.NotifyResult == nil || *req.NotifyResult,
	}
	saved, err := s.playerSvc.Upsert(r.Context(), profile)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toProfileView(saved))
}

func (s *CoordinatorServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps service errors onto the fixed set of user-visible
// responses. Anything unmapped becomes the generic failure.
func (s *CoordinatorServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrNotParticipant):
		s.writeJSON(w, http.StatusForbidden, errorBody("not your match"))
	case errors.Is(err, service.ErrMatchNotFound), errors.Is(err, service.ErrMatchClosed):
		s.writeJSON(w, http.StatusNotFound, errorBody("match not found or closed"))
	case errors.Is(err, service.ErrProfileNotFound):
		s.writeJSON(w, http.StatusNotFound, errorBody("player profile not found"))
	case errors.Is(err, service.ErrOnCooldown):
		s.writeJSON(w, http.StatusConflict, errorBody("player is on queue cooldown"))
	case errors.Is(err, service.ErrInReadyCheck):
		s.writeJSON(w, http.StatusConflict, errorBody("player is in an active ready check"))
	case errors.Is(err, service.ErrAlreadyResolved):
		s.writeJSON(w, http.StatusConflict, errorBody("result already recorded"))
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		s.writeJSON(w, http.StatusInternalServerError, errorBody("something went wrong"))
	}
}

func (s *CoordinatorServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return false
	}
	return true
}

func (s *CoordinatorServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("failed to write response")
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func toPendingView(m *domain.PendingMatch) pendingMatchView {
	return pendingMatchView{
		ID:         m.ID,
		Status:     m.Status,
		Teams:      m.Teams,
		Acceptance: m.Acceptance,
		ExpiresAt:  m.ExpiresAt,
		HistoryID:  m.HistoryID,
	}
}

func toProfileView(p *domain.PlayerProfile) profileView {
	return profileView{
		PlayerID: p.PlayerID,
		Name:     p.Name,
		Tag:      p.Tag,
		Tier:     p.Tier,
		Division: p.Division,
		XP:       p.XP,
		Wins:     p.Wins,
		Losses:   p.Losses,
		MVPs:     p.MVPs,
		Role:     p.Role,
	}
}
