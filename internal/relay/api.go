package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wfunc/cookie-catcher/internal/models"
)

// APIError 接口返回的错误
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// ClaimResponse 领取结果
type ClaimResponse struct {
	OK        bool          `json:"ok"`
	Value     int           `json:"value,omitempty"`
	NewTotals *models.Score `json:"newTotals,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

// APIClient 游戏 HTTP 接口客户端
type APIClient struct {
	baseURL string
	http    *http.Client
}

// NewAPIClient 创建接口客户端
func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out interface{}, okStatus ...int) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("请求 %s 失败: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取 %s 响应失败: %w", path, err)
	}

	accepted := resp.StatusCode >= 200 && resp.StatusCode < 300
	for _, s := range okStatus {
		if resp.StatusCode == s {
			accepted = true
		}
	}
	if !accepted {
		var e struct {
			Error string `json:"error"`
		}
		json.Unmarshal(data, &e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("解析 %s 响应失败: %w", path, err)
	}
	return nil
}

// AssignNickname 按设备领取昵称
func (c *APIClient) AssignNickname(ctx context.Context, deviceID string) (*models.Player, error) {
	var p models.Player
	err := c.do(ctx, http.MethodPost, "/functions/v1/assign_nickname", map[string]string{"deviceId": deviceID}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Claim 领取饼干，输掉竞争时 OK 为 false 且带原因
func (c *APIClient) Claim(ctx context.Context, cookieID, deviceID string) (*ClaimResponse, error) {
	var r ClaimResponse
	err := c.do(ctx, http.MethodPost, "/functions/v1/claim_cookie",
		map[string]string{"cookieId": cookieID, "deviceId": deviceID}, &r, http.StatusBadRequest)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Room 当前房间
func (c *APIClient) Room(ctx context.Context) (*models.Room, error) {
	var room models.Room
	if err := c.do(ctx, http.MethodGet, "/api/v1/room", nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// ActiveCookies 可领取的饼干
func (c *APIClient) ActiveCookies(ctx context.Context) ([]models.Cookie, error) {
	var cookies []models.Cookie
	if err := c.do(ctx, http.MethodGet, "/api/v1/cookies/active", nil, &cookies); err != nil {
		return nil, err
	}
	return cookies, nil
}

// Scores 全部积分
func (c *APIClient) Scores(ctx context.Context) ([]models.Score, error) {
	var scores []models.Score
	if err := c.do(ctx, http.MethodGet, "/api/v1/scores", nil, &scores); err != nil {
		return nil, err
	}
	return scores, nil
}

// LoadSnapshot 读取房间、饼干和积分作为初始状态
func (c *APIClient) LoadSnapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	var err error
	if snap.Room, err = c.Room(ctx); err != nil {
		return snap, err
	}
	if snap.Cookies, err = c.ActiveCookies(ctx); err != nil {
		return snap, err
	}
	if snap.Scores, err = c.Scores(ctx); err != nil {
		return snap, err
	}
	return snap, nil
}
