package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/totegamma/checkpoint/internal/domain"
	"github.com/totegamma/checkpoint/internal/present/rest/presenter"
	"github.com/totegamma/checkpoint/internal/usecase"
)

// Realtime streams revision events filtered by entity type.
type Realtime interface {
	Realtime(ctx context.Context, input <-chan []string, output chan<- domain.RevisionEvent)
}

type Handler struct {
	chain       *usecase.ChainUsecase
	checkpoints *usecase.CheckpointUsecase
	query       *usecase.QueryUsecase
	timelines   *usecase.TimelineUsecase
	signal      Realtime
	metrics     http.Handler
	log         zerolog.Logger
}

func NewHandler(
	chain *usecase.ChainUsecase,
	checkpoints *usecase.CheckpointUsecase,
	query *usecase.QueryUsecase,
	timelines *usecase.TimelineUsecase,
	signal Realtime,
	metrics http.Handler,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		chain:       chain,
		checkpoints: checkpoints,
		query:       query,
		timelines:   timelines,
		signal:      signal,
		metrics:     metrics,
		log:         log,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/revisions", h.handleAppend)
	e.GET("/revisions/:id", h.handleGetRevision)
	e.DELETE("/revisions/:id", h.handleDeleteRevision)
	e.POST("/revisions/:id/seal", h.handleSeal)
	e.GET("/revisions/:id/history", h.handleHistory)
	e.GET("/latest", h.handleLatest)
	e.GET("/checkpoints", h.handleListCheckpoints)
	e.POST("/checkpoints", h.handleCreateCheckpoint)
	e.GET("/checkpoints/:id/older", h.handleOlder)
	e.GET("/checkpoints/:id/newer", h.handleNewer)
	e.GET("/timelines", h.handleListTimelines)
	e.POST("/timelines", h.handleCreateTimeline)
	e.GET("/timelines/:id/revisions", h.handleTimelineRevisions)
	if h.signal != nil {
		e.GET("/realtime", h.handleRealtime)
	}
	if h.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(h.metrics))
	}
}

type appendRequest struct {
	EntityType       string `json:"entityType"`
	OriginalEntityID int64  `json:"originalEntityID"`
	EntityID         int64  `json:"entityID"`
	CheckpointID     *int64 `json:"checkpointID"`
	TimelineID       *int64 `json:"timelineID"`
}

type revisionResponse struct {
	domain.Revision
	IsNew    bool `json:"isNew"`
	IsLatest bool `json:"isLatest"`
}

func (h *Handler) handleAppend(c echo.Context) error {
	ctx := c.Request().Context()

	var req appendRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	if req.EntityType == "" {
		return presenter.BadRequestMessage(c, "entityType is required")
	}
	if req.OriginalEntityID == 0 {
		req.OriginalEntityID = req.EntityID
	}

	rev, err := h.chain.Append(ctx, usecase.AppendInput{
		EntityType:       req.EntityType,
		OriginalEntityID: req.OriginalEntityID,
		EntityID:         req.EntityID,
		CheckpointID:     req.CheckpointID,
		TimelineID:       req.TimelineID,
	})
	if err != nil {
		return respondError(c, err)
	}
	return presenter.Created(c, revisionResponse{Revision: rev, IsNew: rev.IsNew(), IsLatest: true})
}

func (h *Handler) handleGetRevision(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return presenter.BadRequestMessage(c, "invalid revision id")
	}

	rev, err := h.chain.Get(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	latest, err := h.chain.IsLatest(ctx, rev)
	if err != nil {
		return respondError(c, err)
	}
	return presenter.OK(c, revisionResponse{Revision: rev, IsNew: h.chain.IsNew(rev), IsLatest: latest})
}

func (h *Handler) handleDeleteRevision(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return presenter.BadRequestMessage(c, "invalid revision id")
	}

	if err := h.chain.Delete(ctx, id); err != nil {
		return respondError(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleSeal(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return presenter.BadRequestMessage(c, "invalid revision id")
	}

	var req struct {
		CheckpointID int64 `json:"checkpointID"`
	}
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	if req.CheckpointID == 0 {
		return presenter.BadRequestMessage(c, "checkpointID is required")
	}

	rev, err := h.chain.Seal(ctx, id, req.CheckpointID)
	if err != nil {
		return respondError(c, err)
	}
	return presenter.OK(c, rev)
}

func (h *Handler) handleHistory(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return presenter.BadRequestMessage(c, "invalid revision id")
	}

	rev, err := h.chain.Get(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	history, err := h.chain.History(ctx, rev.Group())
	if err != nil {
		return respondError(c, err)
	}
	return presenter.OK(c, history)
}

func (h *Handler) handleLatest(c echo.Context) error {
	ctx := c.Request().Context()

	until, err := parseBoundParam(c.QueryParam("until"))
	if err != nil {
		return presenter.BadRequest(c, err)
	}
	since, err := parseBoundParam(c.QueryParam("since"))
	if err != nil {
		return presenter.BadRequest(c, err)
	}

	q := usecase.LatestQuery{Until: until, Since: since}
	if t := c.QueryParam("type"); t != "" {
		q.Type = t
	}
	if tl := c.QueryParam("timeline"); tl != "" {
		id, err := strconv.ParseInt(tl, 10, 64)
		if err != nil {
			return presenter.BadRequestMessage(c, "invalid timeline parameter")
		}
		q.TimelineID = &id
	}

	if c.QueryParam("expand") == "true" {
		revisions, err := h.query.Latest(ctx, q)
		if err != nil {
			return respondError(c, err)
		}
		return presenter.OK(c, revisions)
	}

	ids, err := h.query.LatestIDs(ctx, q)
	if err != nil {
		return respondError(c, err)
	}
	return presenter.OK(c, ids)
}

type checkpointRequest struct {
	Title        string     `json:"title"`
	CheckpointAt *time.Time `json:"checkpointAt"`
	TimelineID   *int64     `json:"timelineID"`
}

func (h *Handler) handleCreateCheckpoint(c echo.Context) error {
	ctx := c.Request().Context()

	var req checkpointRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	if req.Title == "" {
		return presenter.BadRequestMessage(c, "title is required")
	}

	cp := domain.Checkpoint{Title: req.Title, TimelineID: req.TimelineID}
	if req.CheckpointAt != nil {
		cp.CheckpointAt = *req.CheckpointAt
	}

	created, err := h.checkpoints.Create(ctx, cp)
	if err != nil {
		return respondError(c, err)
	}
	return presenter.Created(c, created)
}

func (h *Handler) handleListCheckpoints(c echo.Context) error {
	checkpoints, err := h.checkpoints.List(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return presenter.OK(c, checkpoints)
}

func (h *Handler) handleOlder(c echo.Context) error {
	return h.partition(c, h.checkpoints.OlderThanOrEqual)
}

func (h *Handler) handleNewer(c echo.Context) error {
	return h.partition(c, h.checkpoints.NewerThan)
}

func (h *Handler) partition(c echo.Context, fn func(context.Context, domain.Checkpoint) ([]domain.Checkpoint, error)) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return presenter.BadRequestMessage(c, "invalid checkpoint id")
	}
	cp, err := h.checkpoints.Get(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	checkpoints, err := fn(ctx, cp)
	if err != nil {
		return respondError(c, err)
	}
	return presenter.OK(c, checkpoints)
}

func (h *Handler) handleCreateTimeline(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		Title string `json:"title"`
	}
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	if strings.TrimSpace(req.Title) == "" {
		return presenter.BadRequestMessage(c, "title is required")
	}

	tl, err := h.timelines.Create(ctx, req.Title)
	if err != nil {
		return respondError(c, err)
	}
	return presenter.Created(c, tl)
}

func (h *Handler) handleListTimelines(c echo.Context) error {
	timelines, err := h.timelines.List(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return presenter.OK(c, timelines)
}

func (h *Handler) handleTimelineRevisions(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return presenter.BadRequestMessage(c, "invalid timeline id")
	}
	until, err := parseBoundParam(c.QueryParam("until"))
	if err != nil {
		return presenter.BadRequest(c, err)
	}

	ids, err := h.timelines.Revisions(ctx, id, usecase.LatestQuery{Until: until})
	if err != nil {
		return respondError(c, err)
	}
	return presenter.OK(c, ids)
}

// parseBoundParam reads "checkpoint:<id>" as a checkpoint reference; any
// other value is handed to the query engine as a datetime string.
func parseBoundParam(v string) (any, error) {
	if v == "" {
		return nil, nil
	}
	if rest, ok := strings.CutPrefix(v, "checkpoint:"); ok {
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return nil, domain.UnknownTemporalBoundError{Value: v}
		}
		return domain.CheckpointRef(id), nil
	}
	return v, nil
}

func respondError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return presenter.NotFound(c, err.Error())
	case errors.Is(err, domain.ErrChainIntegrity), errors.Is(err, domain.ErrRevisionSealed):
		return presenter.Conflict(c, err)
	case errors.Is(err, domain.ErrUnknownTemporalBound),
		errors.Is(err, domain.ErrAmbiguousEntityType),
		errors.Is(err, domain.ErrMissingRevisionContext),
		errors.Is(err, domain.ErrTimelineMismatch):
		return presenter.BadRequest(c, err)
	default:
		return presenter.InternalError(c, err)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Request struct {
	Type        string   `json:"type"`
	EntityTypes []string `json:"entityTypes"`
}

func (h *Handler) handleRealtime(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Error().Err(err).Str("module", "socket").Msg("failed to upgrade websocket")
		return err
	}
	defer func() {
		ws.Close()
	}()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	input := make(chan []string)
	output := make(chan domain.RevisionEvent)

	go h.signal.Realtime(ctx, input, output)

	quit := make(chan struct{})

	go func() {
		defer close(quit)
		for {
			var req Request
			err := ws.ReadJSON(&req)
			if err != nil {
				wsErr, ok := err.(*websocket.CloseError)
				if ok {
					if !(wsErr.Code == websocket.CloseNormalClosure || wsErr.Code == websocket.CloseGoingAway) {
						h.log.Debug().Err(wsErr).Str("module", "socket").Msg("websocket closed")
					}
				} else {
					h.log.Error().Err(err).Str("module", "socket").Msg("error reading message")
				}
				return
			}

			switch req.Type {
			case "listen":
				types := make([]string, 0, len(req.EntityTypes))
				for _, t := range req.EntityTypes {
					resolved, err := h.query.ResolveType(t)
					if err != nil {
						h.log.Debug().Err(err).Str("module", "socket").Msg("ignoring unresolvable entity type")
						continue
					}
					types = append(types, resolved)
				}
				select {
				case input <- types:
				case <-ctx.Done():
					return
				}
				h.log.Debug().Strs("types", types).Str("module", "socket").Msg("socket subscribe")
			case "h": // heartbeat
			default:
				h.log.Info().Str("type", req.Type).Str("module", "socket").Msg("unknown request type")
			}
		}
	}()

	for {
		select {
		case <-quit:
			return nil
		case event := <-output:
			err := ws.WriteJSON(event)
			if err != nil {
				h.log.Error().Err(err).Str("module", "socket").Msg("error writing message")
				return nil
			}
		}
	}
}
