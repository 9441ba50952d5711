package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"

	"fxbuckets/internal/bucketing"
	"fxbuckets/internal/correlation"
	apierrors "fxbuckets/internal/errors"
	"fxbuckets/internal/middleware"
	"fxbuckets/internal/report"
	"fxbuckets/internal/services"
	ws "fxbuckets/internal/websocket"
)

// Response formats accepted by ?format=
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
	FormatXLSX     = "xlsx"
)

// PartitionService runs a partition search over an index
type PartitionService interface {
	Partition(ctx context.Context, idx *correlation.Index, cfg bucketing.Config, opts services.PartitionOptions) (*services.Run, error)
}

// RunTracker counts searches in flight
type RunTracker interface {
	RunStarted()
	RunFinished()
}

// Limits bounds the size of a single request
type Limits struct {
	MaxItems       int
	MaxBodyBytes   int64
	AllowedOrigins []string
}

// CorrelationInput is one pairwise correlation in a request
type CorrelationInput struct {
	A     string   `json:"a" validate:"required,label"`
	B     string   `json:"b" validate:"required,label,nefield=A"`
	Value *float64 `json:"value" validate:"required"`
}

// PartitionRequest is the body of POST /api/v1/partitions and the first
// frame of the stream endpoint. Zero-valued tuning fields take server defaults.
type PartitionRequest struct {
	Correlations []CorrelationInput `json:"correlations" validate:"required,min=1,dive"`
	Buckets      int                `json:"buckets,omitempty" validate:"omitempty,min=1,max=1000"`
	Restarts     int                `json:"restarts,omitempty" validate:"omitempty,min=1,max=100000"`
	Threshold    float64            `json:"threshold,omitempty" validate:"omitempty,gt=0,lte=100"`
	Seed         int64              `json:"seed,omitempty"`
	Workers      int                `json:"workers,omitempty" validate:"omitempty,min=1,max=256"`
	MaxPasses    int                `json:"max_passes,omitempty" validate:"omitempty,min=1"`
}

// PartitionResponse describes the winning partition
type PartitionResponse struct {
	RunID            string     `json:"run_id"`
	Buckets          [][]string `json:"buckets"`
	Score            float64    `json:"score"`
	HighCount        int        `json:"high_count"`
	MaxBucketHigh    int        `json:"max_bucket_high"`
	BucketHighCounts []int      `json:"bucket_high_counts"`
	SumAbs           float64    `json:"sum_abs"`
	Threshold        float64    `json:"threshold"`
	Restart          int        `json:"restart"`
	Restarts         int        `json:"restarts"`
	Completed        int        `json:"completed"`
	Failed           int        `json:"failed"`
	Truncated        int        `json:"truncated"`
	Skipped          int        `json:"skipped"`
	Seed             int64      `json:"seed"`
	DurationMS       int64      `json:"duration_ms"`
}

// RestartEvent is streamed for every finished restart
type RestartEvent struct {
	Restart      int     `json:"restart"`
	Seed         int64   `json:"seed"`
	InitialScore float64 `json:"initial_score"`
	Score        float64 `json:"score"`
	Moves        int     `json:"moves"`
	Passes       int     `json:"passes"`
	Truncated    bool    `json:"truncated,omitempty"`
	Skipped      bool    `json:"skipped,omitempty"`
	Error        string  `json:"error,omitempty"`
	DurationMS   int64   `json:"duration_ms"`
}

// PartitionsHandler serves partition searches over HTTP and WebSocket
type PartitionsHandler struct {
	service      PartitionService
	tracker      RunTracker
	defaults     bucketing.Config
	limits       Limits
	validator    *middleware.Validator
	errorHandler *apierrors.ErrorHandler
	upgrader     websocket.Upgrader
	logger       *slog.Logger
}

// NewPartitionsHandler creates the handler; tracker may be nil
func NewPartitionsHandler(
	service PartitionService,
	tracker RunTracker,
	defaults bucketing.Config,
	limits Limits,
	validator *middleware.Validator,
	errorHandler *apierrors.ErrorHandler,
	logger *slog.Logger,
) *PartitionsHandler {
	h := &PartitionsHandler{
		service:      service,
		tracker:      tracker,
		defaults:     defaults,
		limits:       limits,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "partitions")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Routes returns a chi router for partition endpoints
func (h *PartitionsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/stream", h.Stream)
	return r
}

// Create handles POST /api/v1/partitions
func (h *PartitionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	switch format {
	case "":
		format = FormatJSON
	case FormatJSON, FormatMarkdown, FormatXLSX:
	default:
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("format",
			fmt.Sprintf("format must be one of: %s, %s, %s", FormatJSON, FormatMarkdown, FormatXLSX)))
		return
	}

	var req PartitionRequest
	if err := h.validator.DecodeJSON(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	idx, cfg, err := h.prepare(&req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	run, err := h.partition(r.Context(), idx, cfg, services.PartitionOptions{Source: "http"})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	threshold := run.Config.Threshold
	switch format {
	case FormatMarkdown:
		opts := report.DefaultMarkdownOptions()
		opts.Threshold = threshold
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		if err := report.WriteMarkdown(w, run.Result.Partition, run.Index, opts); err != nil {
			h.logger.ErrorContext(r.Context(), "failed to write markdown report", slog.String("error", err.Error()))
		}
	case FormatXLSX:
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="buckets-%s.xlsx"`, run.ID))
		if err := report.WriteWorkbookTo(w, run.Result.Partition, run.Index, threshold); err != nil {
			h.logger.ErrorContext(r.Context(), "failed to write workbook", slog.String("error", err.Error()))
		}
	default:
		render.Status(r, http.StatusOK)
		render.JSON(w, r, newPartitionResponse(run))
	}
}

// Stream handles GET /api/v1/partitions/stream.
// The client sends one PartitionRequest frame; the server answers with an
// accepted frame, one restart frame per finished restart and a final result
// (or error) frame, then closes the connection. Dropping the connection
// cancels the search.
func (h *PartitionsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	traceID := middleware.GetRequestID(r.Context())
	session := ws.NewSession(ws.NewConnectionWrapper(conn), traceID, h.logger)

	// Frames are written with a context that outlives the search deadline so
	// the result of a truncated search still reaches the peer.
	sendCtx, peerGone := context.WithCancel(context.WithoutCancel(r.Context()))
	defer peerGone()
	searchCtx, cancelSearch := context.WithCancel(r.Context())
	defer cancelSearch()

	var req PartitionRequest
	if err := session.ReadJSON(&req, h.limits.MaxBodyBytes); err != nil {
		h.streamError(sendCtx, r, session, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		h.streamError(sendCtx, r, session, err)
		return
	}
	idx, cfg, err := h.prepare(&req)
	if err != nil {
		h.streamError(sendCtx, r, session, err)
		return
	}

	go session.WatchPeer(func() {
		peerGone()
		cancelSearch()
	})

	session.Send(sendCtx, ws.TypeAccepted, map[string]interface{}{
		"items":    idx.ItemCount(),
		"buckets":  cfg.Buckets,
		"restarts": cfg.Restarts,
	})

	run, err := h.partition(searchCtx, idx, cfg, services.PartitionOptions{
		Source: "websocket",
		Observer: func(rr bucketing.RestartResult) {
			if err := session.Send(sendCtx, ws.TypeRestart, newRestartEvent(rr)); err != nil {
				cancelSearch()
			}
		},
	})
	if err != nil {
		h.streamError(sendCtx, r, session, err)
		return
	}

	if err := session.Send(sendCtx, ws.TypeResult, newPartitionResponse(run)); err != nil {
		h.logger.InfoContext(r.Context(), "peer left before the result was sent",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}
	session.Close(websocket.CloseNormalClosure, "done")
}

// prepare builds the index and the effective search configuration
func (h *PartitionsHandler) prepare(req *PartitionRequest) (*correlation.Index, bucketing.Config, error) {
	idx := correlation.NewIndex()
	for i, c := range req.Correlations {
		if err := idx.Set(c.A, c.B, *c.Value); err != nil {
			return nil, bucketing.Config{}, apierrors.ErrValidation(fmt.Sprintf("correlations[%d]", i), err.Error())
		}
	}
	if n := idx.ItemCount(); h.limits.MaxItems > 0 && n > h.limits.MaxItems {
		return nil, bucketing.Config{}, apierrors.ErrValidation("correlations",
			fmt.Sprintf("at most %d distinct items are allowed, got %d", h.limits.MaxItems, n))
	}

	cfg := h.defaults
	if req.Buckets > 0 {
		cfg.Buckets = req.Buckets
	}
	if req.Restarts > 0 {
		cfg.Restarts = req.Restarts
	}
	if req.Threshold > 0 {
		cfg.Threshold = req.Threshold
	}
	if req.Seed != 0 {
		cfg.Seed = req.Seed
	}
	if req.Workers > 0 {
		cfg.Workers = req.Workers
	}
	if req.MaxPasses > 0 {
		cfg.MaxPasses = req.MaxPasses
	}
	if err := cfg.Validate(); err != nil {
		return nil, bucketing.Config{}, err
	}
	return idx, cfg, nil
}

func (h *PartitionsHandler) partition(ctx context.Context, idx *correlation.Index, cfg bucketing.Config, opts services.PartitionOptions) (*services.Run, error) {
	if h.tracker != nil {
		h.tracker.RunStarted()
		defer h.tracker.RunFinished()
	}
	return h.service.Partition(ctx, idx, cfg, opts)
}

// streamError sends the problem document as an error frame and closes the session
func (h *PartitionsHandler) streamError(ctx context.Context, r *http.Request, session *ws.Session, err error) {
	problem := h.errorHandler.ErrorToProblem(err, r)
	h.logger.WarnContext(r.Context(), "partition stream failed",
		slog.String("error", err.Error()),
		slog.Int("status", problem.Status),
	)

	session.Send(ctx, ws.TypeError, problem)

	code := websocket.CloseInternalServerErr
	if problem.Status < http.StatusInternalServerError {
		code = websocket.ClosePolicyViolation
	}
	session.Close(code, problem.Title)
}

// checkOrigin allows same-host pages, clients without an Origin header and configured origins
func (h *PartitionsHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.limits.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func newPartitionResponse(run *services.Run) PartitionResponse {
	res := run.Result
	return PartitionResponse{
		RunID:            run.ID,
		Buckets:          res.Partition,
		Score:            res.Score.Value,
		HighCount:        res.Score.HighCount,
		MaxBucketHigh:    res.Score.MaxBucketHigh(),
		BucketHighCounts: res.Score.BucketHighCounts,
		SumAbs:           res.Score.SumAbs,
		Threshold:        run.Config.Threshold,
		Restart:          res.Restart,
		Restarts:         len(res.Restarts),
		Completed:        res.Completed,
		Failed:           res.Failed,
		Truncated:        res.Truncated,
		Skipped:          res.Skipped,
		Seed:             res.Seed,
		DurationMS:       res.Duration.Milliseconds(),
	}
}

func newRestartEvent(rr bucketing.RestartResult) RestartEvent {
	ev := RestartEvent{
		Restart:      rr.Restart,
		Seed:         rr.Seed,
		InitialScore: rr.InitialScore,
		Score:        rr.Score,
		Moves:        rr.Moves,
		Passes:       rr.Passes,
		Truncated:    rr.Truncated,
		Skipped:      rr.Skipped,
		DurationMS:   rr.Duration.Milliseconds(),
	}
	if rr.Err != nil {
		ev.Error = rr.Err.Error()
	}
	return ev
}
