package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	usagedomain "github.com/octue/twined-server/internal/serviceusage/domain"
	"github.com/octue/twined-server/pkg/log/ctxlogger"
	"go.uber.org/zap"
)

// pushEnvelope is the wire shape of one push delivery from the event bus:
// the payload arrives base64-encoded under message.data alongside the bus
// message id and publish timestamp.
type pushEnvelope struct {
	Message struct {
		Data        string `json:"data"`
		MessageID   string `json:"messageId"`
		PublishTime string `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func eventResponse(e *usagedomain.ServiceUsageEvent) gin.H {
	return gin.H{
		"id":                  strconv.FormatInt(e.ID, 10),
		"kind":                e.Kind,
		"kind_label":          usagedomain.KindLabels[e.Kind],
		"type":                e.Discriminator(),
		"data":                map[string]any(e.Data),
		"publish_time":        e.PublishTime,
		"question_id":         e.QuestionID.String(),
		"service_revision_id": e.ServiceRevisionID.String(),
	}
}

// ReceiveEvent is the push callback target. The kind and question id come
// from the path, the revision routing from the query string set at dispatch
// time, and the payload from the provider envelope in the body.
func (s *Server) ReceiveEvent(c *gin.Context) {
	kind := c.Param("kind")

	questionID, err := uuid.Parse(c.Param("question_id"))
	if err != nil {
		AbortWithError(c, usagedomain.ErrInvalidQuestion)
		return
	}
	c.Request = c.Request.WithContext(ctxlogger.ContextWithQuestion(c.Request.Context(), questionID.String()))

	revisionID, err := snowflake.ParseString(c.Query("srid"))
	if err != nil {
		AbortWithError(c, usagedomain.ErrInvalidRevision)
		return
	}

	var envelope pushEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		AbortWithError(c, usagedomain.ErrInvalidPayload)
		return
	}

	raw, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		AbortWithError(c, usagedomain.ErrInvalidPayload)
		return
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		AbortWithError(c, usagedomain.ErrInvalidPayload)
		return
	}

	publishTime := time.Now().UTC()
	if envelope.Message.PublishTime != "" {
		parsed, err := time.Parse(time.RFC3339Nano, envelope.Message.PublishTime)
		if err != nil {
			AbortWithError(c, usagedomain.ErrInvalidPayload)
			return
		}
		publishTime = parsed.UTC()
	}

	event, err := s.ingestor.Ingest(c.Request.Context(), kind, questionID, usagedomain.Envelope{
		Data:        data,
		PublishTime: publishTime,
		MessageID:   envelope.Message.MessageID,
	}, usagedomain.RoutingParams{
		ServiceRevisionID: revisionID,
		SRUID:             c.Query("sruid"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if event == nil {
		// Kind outside the recorded set; acknowledge without storing so
		// the bus does not redeliver.
		c.Status(http.StatusNoContent)
		return
	}

	s.log.Debug("event recorded",
		zap.String("question_id", questionID.String()),
		zap.String("kind", event.Kind),
		zap.String("type", event.Discriminator()),
		zap.String("message_id", envelope.Message.MessageID),
	)

	c.JSON(http.StatusCreated, gin.H{"data": eventResponse(event)})
}
