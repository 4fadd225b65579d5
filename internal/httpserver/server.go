package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/halotrack/halo-server/internal/attribution"
	"github.com/halotrack/halo-server/internal/config"
	"github.com/halotrack/halo-server/internal/database"
	"github.com/halotrack/halo-server/internal/forwarding"
	"github.com/halotrack/halo-server/internal/ingest"
	"github.com/halotrack/halo-server/internal/metrics"
	"github.com/halotrack/halo-server/internal/models"
	"github.com/halotrack/halo-server/internal/stats"
	"github.com/halotrack/halo-server/internal/storage"
	"github.com/halotrack/halo-server/internal/tracking"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	DB         *database.PostgresDB
	Redis      *database.RedisDB
	ClickHouse *database.ClickHouseDB
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Server wraps HTTP handlers and tracking services.
type Server struct {
	touchService      *tracking.TouchService
	conversionService *ingest.ConversionService
	erasureService    *tracking.ErasureService
	reportingService  *attribution.ReportingService
	adSpendRepo       storage.AdSpendRepo
	counters          *stats.Counters
	logger            *zap.Logger
	config            *config.Config
	metrics           *metrics.Metrics
}

// NewServer constructs a new http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	// Initialize repositories
	var sessionRepo storage.SessionRepo
	var touchpointRepo storage.TouchpointRepo
	var conversionRepo storage.ConversionRepo
	var adSpendRepo storage.AdSpendRepo

	if deps.DB != nil {
		sessionRepo = storage.NewPostgresSessionRepo(deps.DB.Pool)
		touchpointRepo = storage.NewPostgresTouchpointRepo(deps.DB.Pool)
		conversionRepo = storage.NewPostgresConversionRepo(deps.DB.Pool)
		adSpendRepo = storage.NewPostgresAdSpendRepo(deps.DB.Pool)
	} else {
		sessionRepo = storage.NewInMemorySessionRepo()
		touchpointRepo = storage.NewInMemoryTouchpointRepo()
		conversionRepo = storage.NewInMemoryConversionRepo()
		adSpendRepo = storage.NewInMemoryAdSpendRepo()
	}

	var eventLog storage.EventLog
	if deps.ClickHouse != nil {
		eventLog = storage.NewClickHouseEventLog(deps.ClickHouse)
	} else {
		eventLog = storage.NewInMemoryEventLog()
	}

	var geoProvider tracking.GeoProvider
	if deps.Config.Geo.Enabled {
		gp, err := tracking.NewMaxMindGeoProvider(deps.Config.Geo.DatabasePath)
		if err != nil {
			deps.Logger.Warn("failed to initialize geo provider", zap.Error(err))
		} else {
			geoProvider = gp
		}
	}

	var counters *stats.Counters
	if deps.Redis != nil {
		counters = stats.NewCounters(deps.Redis.Client, deps.Logger)
	}

	clientID := deps.Config.Client.ClientID

	// Initialize services
	touchSvc := tracking.NewTouchService(
		sessionRepo, touchpointRepo, eventLog, geoProvider, counters, clientID, deps.Logger)

	resolver := attribution.NewResolver(sessionRepo, deps.Logger)
	fb := forwarding.NewFacebookForwarder(
		deps.Config.Forwarding.FacebookPixelID,
		deps.Config.Forwarding.FacebookAccessToken,
		deps.Config.Forwarding.FacebookTestEventCode,
		deps.Logger)
	ga := forwarding.NewGoogleForwarder(
		deps.Config.Forwarding.GoogleMeasurementID,
		deps.Config.Forwarding.GoogleAPISecret,
		deps.Logger)

	conversionSvc := ingest.NewConversionService(
		conversionRepo, resolver, fb, ga, counters,
		clientID, deps.Config.Client.Currency, deps.Logger)

	if deps.Metrics != nil {
		touchSvc.SetMetrics(deps.Metrics)
		conversionSvc.SetMetrics(deps.Metrics)
	}

	erasureSvc := tracking.NewErasureService(sessionRepo, conversionRepo, clientID, deps.Logger)

	allocator := attribution.NewAllocator(deps.Config.Attribution.TimeDecayHalfLife)
	reportingSvc := attribution.NewReportingService(
		conversionRepo, touchpointRepo, adSpendRepo, allocator, deps.Logger)

	s := &Server{
		touchService:      touchSvc,
		conversionService: conversionSvc,
		erasureService:    erasureSvc,
		reportingService:  reportingSvc,
		adSpendRepo:       adSpendRepo,
		counters:          counters,
		logger:            deps.Logger,
		config:            deps.Config,
		metrics:           deps.Metrics,
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Prometheus metrics
	if deps.Config.Metrics.Enabled {
		mux.Handle(deps.Config.Metrics.Path, metrics.Handler())
	}

	// Snippet endpoints
	mux.HandleFunc("/v1/touch", s.handleTouch)
	mux.HandleFunc("/v1/identify", s.handleIdentify)
	mux.HandleFunc("/v1/event", s.handleEvent)

	// Conversion webhooks
	mux.HandleFunc("/webhooks/lead", s.handleLeadWebhook)
	mux.HandleFunc("/webhooks/order", s.handleOrderWebhook)

	// Ad spend import
	mux.HandleFunc("/v1/adspend", s.handleAdSpend)

	// Right-to-erasure
	mux.HandleFunc("/v1/user", s.handleDeleteUser)

	// Reporting
	mux.HandleFunc("/reports/attribution", s.handleAttributionReport)
	mux.HandleFunc("/reports/revenue", s.handleRevenueReport)
	mux.HandleFunc("/reports/leads", s.handleLeadReport)
	mux.HandleFunc("/reports/time-series", s.handleTimeSeriesReport)

	return mux
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ---- Touch ----

type touchRequest struct {
	SessionID string `json:"session_id"`
	Consent   string `json:"consent"`

	UTMSource   string `json:"utm_source"`
	UTMMedium   string `json:"utm_medium"`
	UTMCampaign string `json:"utm_campaign"`
	UTMTerm     string `json:"utm_term"`
	UTMContent  string `json:"utm_content"`
	Referrer    string `json:"referrer"`
	Landing     string `json:"landing"`

	GCLID   string `json:"gclid"`
	GBRAID  string `json:"gbraid"`
	WBRAID  string `json:"wbraid"`
	FBCLID  string `json:"fbclid"`
	FBC     string `json:"fbc"`
	FBP     string `json:"fbp"`
	TTCLID  string `json:"ttclid"`
	MSCLKID string `json:"msclkid"`
}

func (s *Server) handleTouch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()

	var req touchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	// The session cookie wins over the body so cross-site callers
	// cannot graft touches onto a foreign session.
	sessionID := req.SessionID
	if cookie, err := r.Cookie(s.config.Client.CookieName); err == nil && cookie.Value != "" {
		sessionID = cookie.Value
	}

	in := tracking.TouchInput{
		SessionID: sessionID,
		Consent:   models.ConsentStatus(req.Consent),
		Source:    req.UTMSource,
		Medium:    req.UTMMedium,
		Campaign:  req.UTMCampaign,
		Term:      req.UTMTerm,
		Content:   req.UTMContent,
		Referrer:  req.Referrer,
		Landing:   req.Landing,
		ClickIDs: models.ClickIDs{
			GCLID:   req.GCLID,
			GBRAID:  req.GBRAID,
			WBRAID:  req.WBRAID,
			FBCLID:  req.FBCLID,
			FBC:     req.FBC,
			FBP:     req.FBP,
			TTCLID:  req.TTCLID,
			MSCLKID: req.MSCLKID,
		},
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Language:  firstLanguage(r.Header.Get("Accept-Language")),
	}

	result, err := s.touchService.RecordTouch(r.Context(), in)
	if err != nil {
		s.logger.Error("touch error", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	if s.metrics != nil {
		consent := req.Consent
		if consent == "" {
			consent = string(models.ConsentUnknown)
		}
		s.metrics.RecordTouch(consent, result.Created)
		s.metrics.RecordHTTPRequest("/v1/touch", "200", time.Since(start))
	}

	if result.SessionID != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     s.config.Client.CookieName,
			Value:    result.SessionID,
			Path:     "/",
			MaxAge:   365 * 24 * 60 * 60,
			Secure:   s.config.IsProduction(),
			SameSite: http.SameSiteLaxMode,
		})
	}

	s.jsonResponse(w, result)
}

// ---- Identify ----

type identifyRequest struct {
	SessionID  string `json:"session_id"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	ExternalID string `json:"external_id"`
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req identifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	if req.SessionID == "" {
		if cookie, err := r.Cookie(s.config.Client.CookieName); err == nil {
			req.SessionID = cookie.Value
		}
	}
	if req.SessionID == "" {
		s.errorResponse(w, "session_id required", http.StatusBadRequest)
		return
	}
	if req.Email == "" && req.Phone == "" && req.ExternalID == "" {
		s.errorResponse(w, "no identity data provided", http.StatusBadRequest)
		return
	}

	if err := s.touchService.Identify(r.Context(), req.SessionID, req.Email, req.Phone, req.ExternalID); err != nil {
		s.logger.Error("identify error", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	if s.metrics != nil {
		s.metrics.Identifies.Inc()
	}

	s.jsonResponse(w, map[string]bool{"success": true})
}

// ---- Events ----

type eventRequest struct {
	SessionID string            `json:"session_id"`
	EventName string            `json:"event_name"`
	PagePath  string            `json:"page_path"`
	Referrer  string            `json:"referrer"`
	Props     map[string]string `json:"properties"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.EventName == "" {
		req.EventName = models.EventPageView
	}

	if req.SessionID == "" {
		if cookie, err := r.Cookie(s.config.Client.CookieName); err == nil {
			req.SessionID = cookie.Value
		}
	}

	in := tracking.EventInput{
		SessionID: req.SessionID,
		EventName: req.EventName,
		PagePath:  req.PagePath,
		Referrer:  req.Referrer,
		Props:     req.Props,
	}
	if err := s.touchService.RecordEvent(r.Context(), in); err != nil {
		s.logger.Error("event error", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	if s.metrics != nil {
		s.metrics.Events.WithLabelValues(req.EventName).Inc()
	}

	s.jsonResponse(w, map[string]bool{"success": true})
}

// ---- Conversion Webhooks ----

func (s *Server) handleLeadWebhook(w http.ResponseWriter, r *http.Request) {
	s.handleWebhook(w, r, s.conversionService.IngestLead)
}

func (s *Server) handleOrderWebhook(w http.ResponseWriter, r *http.Request) {
	s.handleWebhook(w, r, s.conversionService.IngestOrder)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request, ingestFn func(ctx context.Context, raw []byte) (*ingest.IngestResult, error)) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.errorResponse(w, "failed to read body", http.StatusBadRequest)
		return
	}

	result, err := ingestFn(r.Context(), body)
	if err != nil {
		s.logger.Error("webhook error", zap.String("path", r.URL.Path), zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, result)
}

// ---- Ad Spend ----

type adSpendRequest struct {
	Date   string  `json:"date"`
	Source string  `json:"source"`
	Medium string  `json:"medium"`
	Spend  float64 `json:"spend"`
}

func (s *Server) handleAdSpend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var rows []adSpendRequest
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	for _, row := range rows {
		date, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			s.errorResponse(w, "invalid date: "+row.Date, http.StatusBadRequest)
			return
		}
		if row.Source == "" {
			s.errorResponse(w, "source is required", http.StatusBadRequest)
			return
		}
		spend := &models.AdSpend{
			ClientID: s.config.Client.ClientID,
			Date:     date,
			Source:   row.Source,
			Medium:   row.Medium,
			Spend:    row.Spend,
		}
		if err := s.adSpendRepo.Upsert(r.Context(), spend); err != nil {
			s.logger.Error("failed to store ad spend", zap.Error(err))
			s.errorResponse(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	s.jsonResponse(w, map[string]interface{}{"success": true, "imported": len(rows)})
}

// ---- Right-to-erasure ----

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	email := r.URL.Query().Get("email")
	if email == "" {
		s.errorResponse(w, "email required", http.StatusBadRequest)
		return
	}

	result, err := s.erasureService.DeleteUserData(r.Context(), email)
	if err != nil {
		s.logger.Error("erasure error", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, result)
}

// ---- Reporting ----

func (s *Server) handleAttributionReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	from, to := s.dateRange(r)
	kind := models.KindOrder
	if r.URL.Query().Get("kind") == "lead" {
		kind = models.KindLead
	}
	model := models.ParseAttributionModel(r.URL.Query().Get("model"))

	channels, err := s.reportingService.AttributionReport(
		r.Context(), s.config.Client.ClientID, kind, from, to, model)
	if err != nil {
		s.logger.Error("failed to build attribution report", zap.Error(err))
		s.errorResponse(w, "failed to build report", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, map[string]interface{}{
		"model":    model,
		"kind":     kind,
		"channels": channels,
	})
}

func (s *Server) handleRevenueReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	from, to := s.dateRange(r)
	rows, summary, err := s.reportingService.RevenueReport(r.Context(), s.config.Client.ClientID, from, to)
	if err != nil {
		s.logger.Error("failed to build revenue report", zap.Error(err))
		s.errorResponse(w, "failed to build report", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, map[string]interface{}{"summary": summary, "sources": rows})
}

func (s *Server) handleLeadReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	from, to := s.dateRange(r)
	rows, summary, err := s.reportingService.LeadReport(r.Context(), s.config.Client.ClientID, from, to)
	if err != nil {
		s.logger.Error("failed to build lead report", zap.Error(err))
		s.errorResponse(w, "failed to build report", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, map[string]interface{}{"summary": summary, "sources": rows})
}

func (s *Server) handleTimeSeriesReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.counters == nil {
		s.errorResponse(w, "time series not available", http.StatusServiceUnavailable)
		return
	}

	from, to := s.dateRange(r)
	points, err := s.counters.TimeSeries(r.Context(), s.config.Client.ClientID, from, to)
	if err != nil {
		s.logger.Error("failed to get time series", zap.Error(err))
		s.errorResponse(w, "failed to get time series", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, points)
}

// dateRange parses start_date/end_date query params, defaulting to the
// last 30 days.
func (s *Server) dateRange(r *http.Request) (time.Time, time.Time) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now

	if v := r.URL.Query().Get("start_date"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			from = t
		}
	}
	if v := r.URL.Query().Get("end_date"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			// Include the whole end day.
			to = t.Add(24*time.Hour - time.Nanosecond)
		}
	}
	return from, to
}

// ---- Helper Methods ----

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// clientIP extracts the client IP from proxy headers or RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

func firstLanguage(acceptLanguage string) string {
	if acceptLanguage == "" {
		return ""
	}
	lang := strings.Split(acceptLanguage, ",")[0]
	return strings.TrimSpace(strings.Split(lang, ";")[0])
}
