package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"matchpay/internal/config"
)

// ============================================================================
// 支付网关
// ============================================================================
//
// 对本系统而言网关是个黑盒，只有两个动作：创建订单、捕获订单。
// 捕获（capture）是把用户已授权的款项真正划走的那一步，同一笔订单
// 绝不能由我们主动重复发起——至多一次的保证由捕获协调器负责。

const (
	CaptureStatusCompleted = "COMPLETED"
)

var ErrGatewayDeclined = errors.New("支付网关未完成扣款")

type CreateOrderInput struct {
	Amount      int64 // 按最小货币单位（分）
	Currency    string
	CustomID    string
	Description string
	ReturnURL   string
	CancelURL   string
}

type Order struct {
	OrderID     string
	Status      string
	ApprovalURL string // 用户跳转去授权付款的地址
}

type CaptureResult struct {
	Status     string
	CaptureID  string
	PayerEmail string
	PayerID    string
}

// PaymentGateway 支付网关抽象，测试里用假实现替换
type PaymentGateway interface {
	CreateOrder(ctx context.Context, in *CreateOrderInput) (*Order, error)
	CaptureOrder(ctx context.Context, orderID string) (*CaptureResult, error)
}

// ============================================================================
// PayPal Orders v2 实现
// ============================================================================

const (
	paypalSandboxBase = "https://api-m.sandbox.paypal.com"
	paypalLiveBase    = "https://api-m.paypal.com"
)

type PayPalClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	brandName    string
	httpClient   *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewPayPalClient(cfg *config.PayPalConfig) *PayPalClient {
	baseURL := paypalSandboxBase
	if cfg.Mode == "live" {
		baseURL = paypalLiveBase
	}
	return &PayPalClient{
		baseURL:      baseURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		brandName:    cfg.BrandName,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// token 获取 OAuth 访问令牌，带过期缓存
func (c *PayPalClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/oauth2/token",
		bytes.NewBufferString("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("获取网关令牌失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("获取网关令牌失败: status=%d body=%s", resp.StatusCode, body)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", err
	}

	c.accessToken = tokenResp.AccessToken
	// 提前一分钟过期，避免用到临界令牌
	c.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn-60) * time.Second)
	return c.accessToken, nil
}

func (c *PayPalClient) CreateOrder(ctx context.Context, in *CreateOrderInput) (*Order, error) {
	body := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"amount": map[string]string{
					"currency_code": in.Currency,
					"value":         fmt.Sprintf("%d.%02d", in.Amount/100, in.Amount%100),
				},
				"description": in.Description,
				"custom_id":   in.CustomID,
			},
		},
		"application_context": map[string]string{
			"brand_name":   c.brandName,
			"landing_page": "BILLING",
			"user_action":  "PAY_NOW",
			"return_url":   in.ReturnURL,
			"cancel_url":   in.CancelURL,
		},
	}

	var orderResp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Links  []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := c.post(ctx, "/v2/checkout/orders", body, &orderResp); err != nil {
		return nil, fmt.Errorf("创建网关订单失败: %w", err)
	}

	order := &Order{OrderID: orderResp.ID, Status: orderResp.Status}
	for _, link := range orderResp.Links {
		if link.Rel == "approve" {
			order.ApprovalURL = link.Href
			break
		}
	}
	if order.ApprovalURL == "" {
		return nil, errors.New("网关响应里没有付款授权链接")
	}
	return order, nil
}

func (c *PayPalClient) CaptureOrder(ctx context.Context, orderID string) (*CaptureResult, error) {
	var captureResp struct {
		Status string `json:"status"`
		Payer  struct {
			EmailAddress string `json:"email_address"`
			PayerID      string `json:"payer_id"`
		} `json:"payer"`
		PurchaseUnits []struct {
			Payments struct {
				Captures []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
	}
	if err := c.post(ctx, "/v2/checkout/orders/"+orderID+"/capture", map[string]interface{}{}, &captureResp); err != nil {
		return nil, fmt.Errorf("捕获网关订单失败: %w", err)
	}

	result := &CaptureResult{
		Status:     captureResp.Status,
		PayerEmail: captureResp.Payer.EmailAddress,
		PayerID:    captureResp.Payer.PayerID,
	}
	if len(captureResp.PurchaseUnits) > 0 && len(captureResp.PurchaseUnits[0].Payments.Captures) > 0 {
		result.CaptureID = captureResp.PurchaseUnits[0].Payments.Captures[0].ID
	}
	return result, nil
}

func (c *PayPalClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("网关返回异常: status=%d body=%s", resp.StatusCode, respBody)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
