package yandex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	defaultIAMEndpoint = "https://iam.api.cloud.yandex.net/iam/v1/tokens"
	tokenTTL           = 11 * time.Hour // IAM выдаёт токен на 12 часов
)

// IamClient меняет OAuth-токен на IAM-токен и кэширует его.
type IamClient struct {
	Endpoint string

	httpc  *http.Client
	oauth  string
	mu     sync.Mutex
	token  string
	expiry time.Time
	now    func() time.Time
}

func NewIamClient(oauth string) *IamClient {
	return &IamClient{
		Endpoint: defaultIAMEndpoint,
		httpc:    &http.Client{Timeout: 20 * time.Second},
		oauth:    oauth,
		now:      time.Now,
	}
}

func (c *IamClient) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiry.Add(-time.Minute)) {
		return c.token, nil
	}

	b, _ := json.Marshal(map[string]string{"yandexPassportOauthToken": c.oauth})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("iam %d", resp.StatusCode)
	}

	var out struct {
		IamToken string `json:"iamToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	c.token = out.IamToken
	c.expiry = c.now().Add(tokenTTL)
	return c.token, nil
}

// Invalidate сбрасывает кэш; следующий Token сходит за новым.
func (c *IamClient) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}
