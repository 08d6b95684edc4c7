package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"issue-service/internal/classifier"
	"issue-service/internal/geo"
	"issue-service/internal/http/middleware"
	"issue-service/internal/model"
	"issue-service/internal/service"
)

type Handler struct {
	submissions    *service.SubmissionService
	issues         *service.IssueService
	dispatch       *service.DispatchService
	maxUploadBytes int64
	log            zerolog.Logger
}

func NewHandler(
	submissions *service.SubmissionService,
	issues *service.IssueService,
	dispatch *service.DispatchService,
	maxUploadBytes int64,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		submissions:    submissions,
		issues:         issues,
		dispatch:       dispatch,
		maxUploadBytes: maxUploadBytes,
		log:            log,
	}
}

func (h *Handler) submitIssue(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("principal missing"))
		return
	}

	coords, err := parseCoordinates(c.PostForm("latitude"), c.PostForm("longitude"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	image, err := h.readUpload(c, "image")
	if err != nil {
		h.handleError(c, err)
		return
	}

	draft := service.Draft{
		Title:        c.PostForm("title"),
		Description:  c.PostForm("description"),
		LocationName: c.PostForm("location_name"),
		Coordinates:  coords,
		Image:        image,
		ImageCaption: c.PostForm("image_caption"),
	}
	if raw := strings.TrimSpace(c.PostForm("report_id")); raw != "" {
		reportID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid report_id"))
			return
		}
		draft.ReportID = &reportID
	}

	res, err := h.submissions.Submit(c.Request.Context(), principal, draft)
	if err != nil {
		h.handleError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, successResponse(gin.H{
		"issue":         res.Issue,
		"verdict":       res.Verdict,
		"replayed":      res.Replayed,
		"image_dropped": res.ImageDropped,
	}))
}

func (h *Handler) listIssues(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("principal missing"))
		return
	}

	opts, err := parseIssueQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	records, err := h.issues.List(c.Request.Context(), principal, opts)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(gin.H{"items": records}))
}

func (h *Handler) getIssue(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("principal missing"))
		return
	}
	id, ok := issueID(c)
	if !ok {
		return
	}

	details, err := h.issues.Get(c.Request.Context(), principal, id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(details))
}

func (h *Handler) issueHistory(c *gin.Context) {
	id, ok := issueID(c)
	if !ok {
		return
	}

	history, err := h.issues.History(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(gin.H{"items": history}))
}

func (h *Handler) assignIssue(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("principal missing"))
		return
	}
	id, ok := issueID(c)
	if !ok {
		return
	}

	var req struct {
		WorkerID string `json:"worker_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	var workerID *uuid.UUID
	if raw := strings.TrimSpace(req.WorkerID); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid worker_id"))
			return
		}
		workerID = &parsed
	}

	issue, err := h.issues.Assign(c.Request.Context(), principal, id, workerID)
	h.respondIssue(c, issue, err)
}

func (h *Handler) acceptIssue(c *gin.Context) {
	h.simpleTransition(c, h.issues.Accept)
}

func (h *Handler) startIssue(c *gin.Context) {
	h.simpleTransition(c, h.issues.Start)
}

func (h *Handler) reengageIssue(c *gin.Context) {
	h.simpleTransition(c, h.issues.Reengage)
}

func (h *Handler) closeIssue(c *gin.Context) {
	h.simpleTransition(c, h.issues.Close)
}

func (h *Handler) escalateIssue(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("principal missing"))
		return
	}
	id, ok := issueID(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	issue, err := h.issues.Escalate(c.Request.Context(), principal, id, req.Reason)
	h.respondIssue(c, issue, err)
}

// resolveIssue takes a multipart or urlencoded form: latitude, longitude,
// an optional note and an optional photo file.
func (h *Handler) resolveIssue(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("principal missing"))
		return
	}
	id, ok := issueID(c)
	if !ok {
		return
	}

	coords, err := parseCoordinates(c.PostForm("latitude"), c.PostForm("longitude"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	photo, err := h.readUpload(c, "photo")
	if err != nil {
		h.handleError(c, err)
		return
	}

	issue, err := h.issues.Resolve(c.Request.Context(), principal, id, service.ResolveInput{
		Coordinates: coords,
		Photo:       photo,
		Note:        c.PostForm("note"),
	})
	h.respondIssue(c, issue, err)
}

func (h *Handler) setUpvote(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("principal missing"))
		return
	}
	id, ok := issueID(c)
	if !ok {
		return
	}

	var req struct {
		Upvoted *bool `json:"upvoted" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	record, err := h.issues.SetUpvote(c.Request.Context(), principal, id, *req.Upvoted)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(record))
}

func (h *Handler) addComment(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("principal missing"))
		return
	}
	id, ok := issueID(c)
	if !ok {
		return
	}

	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	comment, err := h.issues.AddComment(c.Request.Context(), principal, id, req.Message)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse(comment))
}

func (h *Handler) simpleTransition(c *gin.Context, op func(context.Context, model.Principal, uuid.UUID) (*model.Issue, error)) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("principal missing"))
		return
	}
	id, ok := issueID(c)
	if !ok {
		return
	}

	issue, err := op(c.Request.Context(), principal, id)
	h.respondIssue(c, issue, err)
}

func (h *Handler) respondIssue(c *gin.Context, issue *model.Issue, err error) {
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(issue))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	var (
		fieldErr  *service.FieldError
		rejection *service.RejectionError
		tooFar    *service.TooFarError
	)
	switch {
	case errors.As(err, &fieldErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": fieldErr.Error(), "field": fieldErr.Field})
	case errors.As(err, &rejection):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "report rejected", "reason": rejection.Reason})
	case errors.As(err, &tooFar):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":            tooFar.Error(),
			"distance_meters":  tooFar.DistanceMeters,
			"threshold_meters": tooFar.ThresholdMeters,
		})
	case errors.Is(err, service.ErrAcceptConflict):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotOnRoster):
		c.JSON(http.StatusForbidden, errorResponse(err.Error()))
	case errors.Is(err, service.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, errorResponse(err.Error()))
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	case errors.Is(err, service.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusRequestTimeout, errorResponse("request cancelled"))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

// readUpload returns nil when the form carries no file under field.
func (h *Handler) readUpload(c *gin.Context, field string) (*classifier.Image, error) {
	header, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, &service.FieldError{Field: field, Message: err.Error()}
	}
	if h.maxUploadBytes > 0 && header.Size > h.maxUploadBytes {
		return nil, &service.FieldError{Field: field, Message: "file too large"}
	}

	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	return &classifier.Image{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func parseIssueQuery(c *gin.Context) (service.IssueListOptions, error) {
	var opts service.IssueListOptions

	if statusParam := c.Query("status"); statusParam != "" {
		for _, val := range splitCSV(statusParam) {
			status := model.IssueStatus(strings.ToLower(val))
			if !status.Valid() {
				return opts, errors.New("invalid status " + val)
			}
			opts.Statuses = append(opts.Statuses, status)
		}
	}
	if categoryParam := c.Query("category"); categoryParam != "" {
		for _, val := range splitCSV(categoryParam) {
			category, ok := model.ParseCategory(val)
			if !ok {
				return opts, errors.New("invalid category " + val)
			}
			opts.Categories = append(opts.Categories, category)
		}
	}
	if mine := strings.TrimSpace(c.Query("mine")); mine != "" {
		v, err := strconv.ParseBool(mine)
		if err != nil {
			return opts, errors.New("invalid mine flag")
		}
		opts.Mine = v
	}
	if limit := strings.TrimSpace(c.Query("limit")); limit != "" {
		if v, err := strconv.Atoi(limit); err == nil {
			opts.Limit = v
		}
	}
	if offset := strings.TrimSpace(c.Query("offset")); offset != "" {
		if v, err := strconv.Atoi(offset); err == nil {
			opts.Offset = v
		}
	}

	opts.Search = strings.TrimSpace(c.Query("search"))

	return opts, nil
}

// parseCoordinates returns nil when both values are empty.
func parseCoordinates(lat, lng string) (*geo.Point, error) {
	lat, lng = strings.TrimSpace(lat), strings.TrimSpace(lng)
	if lat == "" && lng == "" {
		return nil, nil
	}
	la, errLat := strconv.ParseFloat(lat, 64)
	ln, errLng := strconv.ParseFloat(lng, 64)
	if errLat != nil || errLng != nil {
		return nil, &service.FieldError{Field: "coordinates", Message: "latitude and longitude must both be numbers"}
	}
	return &geo.Point{Lat: la, Lng: ln}, nil
}

func issueID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid issue id"))
		return uuid.Nil, false
	}
	return id, true
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

type responseEnvelope struct {
	Data interface{} `json:"data"`
}

func successResponse(data interface{}) responseEnvelope {
	return responseEnvelope{Data: data}
}

func errorResponse(msg string) gin.H {
	return gin.H{"error": msg}
}
