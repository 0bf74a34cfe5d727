package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Source define la interfaz para leer secretos desde un almacén remoto.
type Source interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// VaultClient implementa Source contra un vault HTTP con bearer auth.
type VaultClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewVaultClient construye un cliente apuntando al vault de secretos.
func NewVaultClient(baseURL, token string) *VaultClient {
	return &VaultClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type secretResponse struct {
	Value string `json:"value"`
}

func (c *VaultClient) GetSecret(ctx context.Context, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("secret name is required")
	}

	endpoint := c.baseURL + "/secrets/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("vault http error: status=%d", resp.StatusCode)
	}

	var sr secretResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if sr.Value == "" {
		return "", fmt.Errorf("secret %q is empty", name)
	}
	return sr.Value, nil
}
