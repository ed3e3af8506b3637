package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	questiondomain "github.com/octue/twined-server/internal/question/domain"
	usagedomain "github.com/octue/twined-server/internal/serviceusage/domain"
	"github.com/octue/twined-server/pkg/db/pagination"
	"github.com/octue/twined-server/pkg/log/ctxlogger"
)

type questionResponse struct {
	ID                string         `json:"id"`
	Status            int            `json:"status"`
	StatusMessage     string         `json:"status_message"`
	Resolver          string         `json:"resolver"`
	ServiceRevisionID string         `json:"service_revision_id,omitempty"`
	Asked             *time.Time     `json:"asked"`
	Answered          *time.Time     `json:"answered"`
	InputValues       map[string]any `json:"input_values,omitempty"`
	InputManifest     map[string]any `json:"input_manifest,omitempty"`
	OutputValues      map[string]any `json:"output_values,omitempty"`
	OutputManifest    map[string]any `json:"output_manifest,omitempty"`
}

func newQuestionResponse(q *questiondomain.Question) questionResponse {
	resp := questionResponse{
		ID:             q.ID.String(),
		Status:         q.Status,
		StatusMessage:  q.StatusMessage(),
		Resolver:       q.Resolver,
		Asked:          q.Asked,
		Answered:       q.Answered,
		InputValues:    q.InputValues,
		InputManifest:  q.InputManifest,
		OutputValues:   q.OutputValues,
		OutputManifest: q.OutputManifest,
	}
	if q.ServiceRevisionID != nil {
		resp.ServiceRevisionID = q.ServiceRevisionID.String()
	}
	return resp
}

func (s *Server) questionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		AbortWithError(c, questiondomain.ErrNotFound)
		return uuid.Nil, false
	}
	ctx := ctxlogger.ContextWithQuestion(c.Request.Context(), id.String())
	c.Request = c.Request.WithContext(ctx)
	return id, true
}

// CreateQuestion records a new question without dispatching it.
func (s *Server) CreateQuestion(c *gin.Context) {
	var req questiondomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	q, err := s.questions.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newQuestionResponse(q))
}

// GetQuestion returns the question row enriched with its derived event
// views: the latest heartbeat, the result and the recorded event count.
func (s *Server) GetQuestion(c *gin.Context) {
	id, ok := s.questionID(c)
	if !ok {
		return
	}

	q, err := s.questions.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	heartbeat, err := s.views.LatestHeartbeat(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	result, err := s.views.Result(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	count, err := s.views.CountForQuestion(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	body := gin.H{
		"question":    newQuestionResponse(q),
		"event_count": count,
	}
	if heartbeat != nil {
		body["latest_heartbeat"] = eventResponse(heartbeat)
	}
	if result != nil {
		body["result"] = eventResponse(result)
	}

	c.JSON(http.StatusOK, body)
}

// ListQuestionEvents returns the full recorded event set in publish order, or
// a single projection when a "kind" query parameter names one.
func (s *Server) ListQuestionEvents(c *gin.Context) {
	id, ok := s.questionID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	var (
		events []usagedomain.ServiceUsageEvent
		info   *pagination.PageInfo
		err    error
	)
	switch kind := c.Query("kind"); kind {
	case "":
		var page pagination.Pagination
		if err := c.ShouldBindQuery(&page); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		events, info, err = s.views.EventsPage(ctx, id, page)
	case usagedomain.DiscriminatorException:
		events, err = s.views.Exceptions(ctx, id)
	case usagedomain.DiscriminatorLogRecord:
		events, err = s.views.LogRecords(ctx, id)
	case usagedomain.DiscriminatorMonitorMessage:
		events, err = s.views.MonitorMessages(ctx, id)
	default:
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	body := make([]gin.H, 0, len(events))
	for i := range events {
		body = append(body, eventResponse(&events[i]))
	}
	resp := gin.H{"data": body, "total": len(body)}
	if info != nil {
		resp["page_info"] = info
	}
	c.JSON(http.StatusOK, resp)
}

// AskQuestion dispatches the question to its service revision.
func (s *Server) AskQuestion(c *gin.Context) {
	id, ok := s.questionID(c)
	if !ok {
		return
	}

	result, err := s.questions.Ask(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"question":        newQuestionResponse(result.Question),
		"sruid":           result.Revision.SRUID(),
		"topic":           result.Revision.Topic(),
		"subscription_id": result.Subscription.ID,
		"push_url":        result.PushURL,
	})
}

// DuplicateQuestion creates an unasked copy of the question.
func (s *Server) DuplicateQuestion(c *gin.Context) {
	id, ok := s.questionID(c)
	if !ok {
		return
	}

	dup, err := s.questions.Duplicate(c.Request.Context(), id, true)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newQuestionResponse(dup))
}
