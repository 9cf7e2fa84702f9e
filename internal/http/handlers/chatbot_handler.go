// Chatbot HTTP handlers.
//
//   - POST /chatbot/ask     one question, one worker process
//   - GET  /chatbot/status  probe the worker end to end
//   - GET  /health          liveness
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonbobo/Capstone-UNY/internal/bridge"
)

// AskRequest is the JSON payload for a question.
type AskRequest struct {
	Question string `json:"question" example:"What are the admission requirements?"`
}

// AskResponse carries the worker's answer.
type AskResponse struct {
	Success   bool      `json:"success" example:"true"`
	Question  string    `json:"question" example:"What are the admission requirements?"`
	Answer    string    `json:"answer"`
	User      string    `json:"user" example:"ava"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkerErrorDetails explains a failed invocation without exposing raw
// worker output.
type WorkerErrorDetails struct {
	Kind   string `json:"kind" example:"timeout"`
	Reason string `json:"reason" example:"worker did not finish within 30s"`
}

// HealthResponse is returned by the liveness endpoint.
type HealthResponse struct {
	Status    string    `json:"status" example:"ok"`
	Timestamp time.Time `json:"timestamp"`
}

// Ask godoc
// @ID          askChatbot
// @Summary     Ask the chatbot
// @Description Runs one worker process for the question. Each call is independent; there is no retry.
// @Tags        Chatbot
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.AskRequest  true  "Question"
// @Success     200   {object}  handlers.AskResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Empty question"
// @Failure     401   {object}  handlers.ErrorResponse  "Missing token"
// @Failure     403   {object}  handlers.ErrorResponse  "Invalid or expired token"
// @Failure     500   {object}  handlers.ErrorResponse  "Worker failed; details.kind names the failure"
// @Router      /chatbot/ask [post]
func (h *Handlers) Ask(c *gin.Context) {
	id, found := identity(c)
	if !found {
		return
	}
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	ans, err := h.chatbot.Ask(c.Request.Context(), req.Question, id)
	if err != nil {
		var be *bridge.Error
		switch {
		case !errors.As(err, &be):
			failInternal(c, err)
		case be.Kind == bridge.KindEmptyQuestion:
			fail(c, http.StatusBadRequest, ErrCodeEmptyQuestion, "question is required")
		default:
			failWithDetails(c, http.StatusInternalServerError, ErrCodeWorker, "chatbot error",
				WorkerErrorDetails{Kind: be.Kind.String(), Reason: be.Message})
		}
		return
	}

	ok(c, http.StatusOK, AskResponse{
		Success:   true,
		Question:  ans.Question,
		Answer:    ans.Answer,
		User:      id.Username,
		Timestamp: ans.CompletedAt.UTC(),
	})
}

// Status godoc
// @ID          chatbotStatus
// @Summary     Worker status
// @Description Spawns a worker with a probe question. Always 200; the body says whether the worker answered.
// @Tags        Chatbot
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  bridge.StatusReport
// @Failure     401  {object}  handlers.ErrorResponse  "Missing token"
// @Failure     403  {object}  handlers.ErrorResponse  "Invalid or expired token"
// @Router      /chatbot/status [get]
func (h *Handlers) Status(c *gin.Context) {
	ok(c, http.StatusOK, h.chatbot.Status(c.Request.Context()))
}

// Health godoc
// @ID          health
// @Summary     Liveness
// @Tags        Health
// @Produce     json
// @Success     200  {object}  handlers.HealthResponse
// @Router      /health [get]
func (h *Handlers) Health(c *gin.Context) {
	ok(c, http.StatusOK, HealthResponse{Status: "ok", Timestamp: h.now().UTC()})
}
