package whop

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/captioncrafter/entitlement-service/pkg/logger"
	"github.com/cenkalti/backoff/v4"
)

// Membership данные членства, которые возвращает Whop API
type Membership struct {
	ID     string `json:"id"`
	PlanID string `json:"plan"`
	Status string `json:"status"`
	UserID string `json:"user"`
	Valid  bool   `json:"valid"`
}

// Client определяет методы для взаимодействия с Whop API.
// Используется реконсилятором для отложенной перепроверки членства
// после обработки вебхука.
type Client interface {
	// GetMembership возвращает членство по внешнему ID подписки
	GetMembership(ctx context.Context, membershipID string) (*Membership, error)
}

// whopClient реализует интерфейс Client поверх HTTP API Whop.
// SDK для Go у провайдера нет, поэтому ходим по HTTP напрямую.
type whopClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	log     *logger.Logger
}

// NewClient создает новый экземпляр клиента Whop.
func NewClient(apiKey, baseURL string, log *logger.Logger) Client {
	return &whopClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

// GetMembership запрашивает членство у Whop с ограниченным числом повторов.
func (c *whopClient) GetMembership(ctx context.Context, membershipID string) (*Membership, error) {
	url := fmt.Sprintf("%s/memberships/%s", c.baseURL, membershipID)

	var membership *Membership
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			c.log.Warnw("Whop API request failed, retrying", "error", err, "membershipID", membershipID)
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			var m Membership
			if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
				return backoff.Permanent(fmt.Errorf("whop: failed to decode membership: %w", err))
			}
			membership = &m
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("whop: membership %s not found", membershipID))
		case resp.StatusCode >= 500:
			// Серверные ошибки провайдера ретраим
			return fmt.Errorf("whop: server error %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("whop: unexpected status %d", resp.StatusCode))
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		c.log.Errorw("Failed to get membership from Whop", "error", err, "membershipID", membershipID)
		return nil, err
	}

	c.log.Debugw("Membership retrieved from Whop", "membershipID", membershipID, "valid", membership.Valid)
	return membership, nil
}
