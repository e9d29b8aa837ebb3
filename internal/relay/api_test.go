package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/cookie-catcher/internal/models"
)

func stubAPI() *httptest.Server {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/functions/v1/assign_nickname", func(c *gin.Context) {
		var req struct {
			DeviceID string `json:"deviceId"`
		}
		c.ShouldBindJSON(&req)
		if req.DeviceID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Device ID is required"})
			return
		}
		c.JSON(http.StatusOK, models.Player{ID: "p1", Nick: "HappyRedPanda", DeviceID: req.DeviceID})
	})
	r.POST("/functions/v1/claim_cookie", func(c *gin.Context) {
		var req struct {
			CookieID string `json:"cookieId"`
		}
		c.ShouldBindJSON(&req)
		if req.CookieID == "gone" {
			c.JSON(http.StatusOK, gin.H{"ok": false, "reason": "Cookie already claimed or expired"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "value": 3, "newTotals": models.Score{PlayerID: "p1", ScoreTotal: 3}})
	})
	r.GET("/api/v1/room", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": "main-room", "status": "running", "round_no": 2, "time_remaining": 30})
	})
	r.GET("/api/v1/cookies/active", func(c *gin.Context) {
		c.JSON(http.StatusOK, []models.Cookie{{ID: "c1", Value: 1}})
	})
	r.GET("/api/v1/scores", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
	})
	return httptest.NewServer(r)
}

func TestAPIClient(t *testing.T) {
	srv := stubAPI()
	defer srv.Close()

	ctx := context.Background()
	api := NewAPIClient(srv.URL+"/", time.Second)

	p, err := api.AssignNickname(ctx, "dev-a")
	require.NoError(t, err)
	assert.Equal(t, "HappyRedPanda", p.Nick)

	_, err = api.AssignNickname(ctx, "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Device ID is required", apiErr.Message)

	res, err := api.Claim(ctx, "c1", "dev-a")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 3, res.Value)
	require.NotNil(t, res.NewTotals)
	assert.Equal(t, 3, res.NewTotals.ScoreTotal)

	res, err = api.Claim(ctx, "gone", "dev-a")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "Cookie already claimed or expired", res.Reason)

	room, err := api.Room(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, room.RoundNo)
	assert.True(t, room.IsRunning())

	cookies, err := api.ActiveCookies(ctx)
	require.NoError(t, err)
	assert.Len(t, cookies, 1)

	_, err = api.LoadSnapshot(ctx)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
}
