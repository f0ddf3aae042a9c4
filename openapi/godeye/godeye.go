package godeye

import (
	"github.com/gin-gonic/gin"
	"github.com/journeyos/godeye/godeye"
	"github.com/journeyos/godeye/openapi/response"
	"github.com/yaoapp/kun/log"
)

// ClientsResponse is the registry dump.
type ClientsResponse struct {
	Listeners int    `json:"listeners"`
	Dump      string `json:"dump"`
}

// CheckResponse answers whether anyone listens for a mask.
type CheckResponse struct {
	Factors   uint64 `json:"factors"`
	Names     string `json:"names"`
	Listening bool   `json:"listening"`
}

// NotifyRequest is what a platform hook posts when a factor changes.
// Factors accepts names ("game|video") or a number ("0x2").
type NotifyRequest struct {
	Factors string `json:"factors" binding:"required"`
	Status  int64  `json:"status"`
	Package string `json:"package,omitempty"`
}

// NotifyResponse reports the parsed mask.
type NotifyResponse struct {
	Factors uint64 `json:"factors"`
	Queued  bool   `json:"queued"`
}

// Attach registers the registry endpoints.
//
//	GET  /clients
//	GET  /clients/check?factors=
//	POST /godeye/notify
func Attach(group *gin.RouterGroup, mgr *godeye.Manager) {
	h := &handler{mgr: mgr}
	group.GET("/clients", h.clients)
	group.GET("/clients/check", h.check)
	group.POST("/godeye/notify", h.notify)
}

type handler struct {
	mgr *godeye.Manager
}

func (h *handler) clients(c *gin.Context) {
	response.RespondWithSuccess(c, response.StatusOK, ClientsResponse{
		Listeners: h.mgr.Len(),
		Dump:      h.mgr.Dump(),
	})
}

func (h *handler) check(c *gin.Context) {
	factors, err := godeye.ParseFactors(c.Query("factors"))
	if err != nil {
		response.RespondWithError(c, response.StatusBadRequest, &response.ErrorResponse{
			Code:             response.ErrInvalidRequest.Code,
			ErrorDescription: err.Error(),
		})
		return
	}
	response.RespondWithSuccess(c, response.StatusOK, CheckResponse{
		Factors:   factors,
		Names:     godeye.FactorString(factors),
		Listening: h.mgr.CheckFactor(factors),
	})
}

func (h *handler) notify(c *gin.Context) {
	var req NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondWithError(c, response.StatusBadRequest, &response.ErrorResponse{
			Code:             response.ErrInvalidRequest.Code,
			ErrorDescription: "Invalid request body: " + err.Error(),
		})
		return
	}
	factors, err := godeye.ParseFactors(req.Factors)
	if err != nil {
		response.RespondWithError(c, response.StatusBadRequest, &response.ErrorResponse{
			Code:             response.ErrInvalidRequest.Code,
			ErrorDescription: err.Error(),
		})
		return
	}

	log.With(log.F{"factors": godeye.FactorString(factors), "status": req.Status, "package": req.Package}).
		Debug("admin: notify")
	h.mgr.NotifyFactorChanged(factors, req.Status, req.Package)
	response.RespondWithSuccess(c, response.StatusAccepted, NotifyResponse{Factors: factors, Queued: true})
}
