package api

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dormitory/internal/apperr"
	"dormitory/internal/auth"
	"dormitory/internal/presence"
	"dormitory/internal/rfid"
	"dormitory/internal/users"
)

type handler struct {
	rfid     RFIDService
	users    UserService
	sessions SessionService
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

func newTokenResponse(p auth.TokenPair) tokenResponse {
	return tokenResponse{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken, ExpiresAt: p.AccessExp.Unix()}
}

func (h *handler) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Invalid("email and password are required"))
		return
	}
	u, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	pair, err := h.sessions.Start(c.Request.Context(), u.ID, u.Role)
	if err != nil {
		log.Printf("login for %s: %v", u.ID, err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTokenResponse(pair))
}

func (h *handler) refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Invalid("refresh_token is required"))
		return
	}
	pair, err := h.sessions.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTokenResponse(pair))
}

func (h *handler) registerDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Invalid("device_id is required"))
		return
	}
	if err := h.rfid.RegisterDevice(c.Request.Context(), req.DeviceID); err != nil {
		writeError(c, err)
		return
	}
	pair, err := h.sessions.Start(c.Request.Context(), req.DeviceID, auth.RoleDevice)
	if err != nil {
		log.Printf("device %s token issue failed: %v", req.DeviceID, err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newTokenResponse(pair))
}

func (h *handler) scan(c *gin.Context) {
	var req struct {
		CardID   string `json:"card_id" binding:"required"`
		RoomID   string `json:"room_id"`
		DeviceID string `json:"device_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Invalid("card_id is required"))
		return
	}

	// readers always scan as themselves; admins may name a reader
	claims, _ := auth.FromContext(c)
	deviceID := req.DeviceID
	if claims.Role == auth.RoleDevice {
		if deviceID != "" && deviceID != claims.Subject {
			writeError(c, apperr.PermissionDenied("device mismatch"))
			return
		}
		deviceID = claims.Subject
	}

	res, err := h.rfid.Scan(c.Request.Context(), req.CardID, req.RoomID, deviceID)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (h *handler) logs(c *gin.Context) {
	f, err := eventFilter(c)
	if err != nil {
		writeError(c, err)
		return
	}
	f.StudentID = c.Query("student_id")
	h.writeLogs(c, f)
}

func (h *handler) myLogs(c *gin.Context) {
	f, err := eventFilter(c)
	if err != nil {
		writeError(c, err)
		return
	}
	claims, _ := auth.FromContext(c)
	f.StudentID = claims.Subject
	h.writeLogs(c, f)
}

func (h *handler) writeLogs(c *gin.Context, f rfid.EventFilter) {
	events, err := h.rfid.Logs(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (h *handler) presence(c *gin.Context) {
	records, err := h.rfid.Presence(c.Request.Context(), c.Query("state"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": records})
}

func (h *handler) summary(c *gin.Context) {
	sum, err := h.rfid.Summary(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *handler) createUser(c *gin.Context) {
	var req users.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Invalid("invalid user: "+err.Error()))
		return
	}
	u, err := h.users.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Location", "/v1/users/"+u.ID)
	c.JSON(http.StatusCreated, u)
}

func (h *handler) getUser(c *gin.Context) {
	u, err := h.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// eventFilter reads action, limit and offset. Limits are clamped by the
// service; non-numeric values are rejected here.
func eventFilter(c *gin.Context) (rfid.EventFilter, error) {
	f := rfid.EventFilter{Action: presence.Action(c.Query("action"))}
	var err error
	if f.Limit, err = queryInt(c, "limit", rfid.DefaultLimit); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(c, "offset", 0); err != nil {
		return f, err
	}
	return f, nil
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Invalid(key + " must be an integer")
	}
	return n, nil
}
