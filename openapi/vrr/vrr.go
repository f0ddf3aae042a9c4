package vrr

import (
	"github.com/gin-gonic/gin"
	"github.com/journeyos/godeye/openapi/response"
	"github.com/journeyos/godeye/vrr"
)

// RefreshRateRequest asks for a refresh rate in Hz.
type RefreshRateRequest struct {
	Rate float32 `json:"rate" binding:"required,gt=0"`
}

// WindowRequest is posted by the window manager hook when the focused
// window's preferred rate changes. Rate 0 clears the preference.
type WindowRequest struct {
	Pid  int     `json:"pid" binding:"required"`
	Rate float32 `json:"rate" binding:"gte=0"`
}

// WindowResponse echoes the cached state.
type WindowResponse struct {
	Pid     int     `json:"pid"`
	Rate    float32 `json:"rate"`
	Changed bool    `json:"changed"`
}

// Attach registers the refresh rate endpoints.
//
//	POST /vrr/refresh-rate
//	POST /vrr/window
func Attach(group *gin.RouterGroup, setter vrr.RateSetter, window *vrr.WindowState) {
	h := &handler{setter: setter, window: window}
	group.POST("/vrr/refresh-rate", h.refreshRate)
	group.POST("/vrr/window", h.windowState)
}

type handler struct {
	setter vrr.RateSetter
	window *vrr.WindowState
}

func (h *handler) refreshRate(c *gin.Context) {
	var req RefreshRateRequest
	if !bind(c, &req) {
		return
	}
	h.setter.SetRefreshRate(c.Request.Context(), req.Rate)
	response.RespondWithSuccess(c, response.StatusAccepted, req)
}

func (h *handler) windowState(c *gin.Context) {
	var req WindowRequest
	if !bind(c, &req) {
		return
	}
	changed := h.window.SetPreferredRefreshRate(c.Request.Context(), req.Pid, req.Rate)
	response.RespondWithSuccess(c, response.StatusOK, WindowResponse{
		Pid:     h.window.Pid(),
		Rate:    h.window.PreferredRefreshRate(),
		Changed: changed,
	})
}

func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.RespondWithError(c, response.StatusBadRequest, &response.ErrorResponse{
			Code:             response.ErrInvalidRequest.Code,
			ErrorDescription: "Invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}
