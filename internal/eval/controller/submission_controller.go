// Package controller exposes the submission HTTP API.
package controller

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"evalhub/internal/common/http/middleware"
	"evalhub/internal/eval/service"
	appErr "evalhub/pkg/errors"
	"evalhub/pkg/utils/response"
)

// SubmissionController handles the submission endpoints. Authentication is
// done by the upstream gateway; the controller only consumes the principal
// it forwards.
type SubmissionController struct {
	intake *service.IntakeService
}

// NewSubmissionController builds the controller.
func NewSubmissionController(intake *service.IntakeService) *SubmissionController {
	return &SubmissionController{intake: intake}
}

// RegisterRoutes mounts the submission API under the given group.
func (ctrl *SubmissionController) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/submissions", ctrl.Submit)
	group.GET("/submissions", ctrl.List)
	group.GET("/submissions/:id", ctrl.GetStatus)
	group.GET("/submissions/:id/verdict", ctrl.GetVerdict)
}

type submitRequest struct {
	SubmissionID string `json:"submission_id"`
	TargetID     string `json:"target_id" binding:"required"`
	Language     string `json:"language" binding:"required"`
	SourceCode   string `json:"source_code" binding:"required"`
}

// Submit accepts a submission and returns its ID and initial state.
func (ctrl *SubmissionController) Submit(c *gin.Context) {
	principalID := middleware.PrincipalID(c)
	if principalID == "" {
		response.Error(c, appErr.BadRequest("missing principal header"))
		return
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	status, err := ctrl.intake.Submit(c.Request.Context(), service.SubmitRequest{
		SubmissionID: req.SubmissionID,
		PrincipalID:  principalID,
		TargetID:     req.TargetID,
		Language:     req.Language,
		SourceCode:   req.SourceCode,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, status)
}

// GetStatus returns the evaluation state of one submission.
func (ctrl *SubmissionController) GetStatus(c *gin.Context) {
	principalID := middleware.PrincipalID(c)
	if principalID == "" {
		response.Error(c, appErr.BadRequest("missing principal header"))
		return
	}

	status, err := ctrl.intake.GetStatus(c.Request.Context(), c.Param("id"), principalID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// GetVerdict returns the archived verdict of a completed submission.
func (ctrl *SubmissionController) GetVerdict(c *gin.Context) {
	principalID := middleware.PrincipalID(c)
	if principalID == "" {
		response.Error(c, appErr.BadRequest("missing principal header"))
		return
	}

	verdict, err := ctrl.intake.GetVerdict(c.Request.Context(), c.Param("id"), principalID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, verdict)
}

// List returns the caller's submission history, newest first.
func (ctrl *SubmissionController) List(c *gin.Context) {
	principalID := middleware.PrincipalID(c)
	if principalID == "" {
		response.Error(c, appErr.BadRequest("missing principal header"))
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	subs, err := ctrl.intake.ListSubmissions(c.Request.Context(), principalID, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{
		"submissions": subs,
		"count":       len(subs),
	})
}
