package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/onlyold1/rtg-shop/apperrors"
)

// PanelAccess is the panel's view of one user's account.
type PanelAccess struct {
	Identity        string
	SubscriptionURL string
	ExpireAt        time.Time
}

// PanelClient manages user accounts on the remote access panel. EnsureAccess
// is idempotent: calling it twice with the same target expiry converges on
// the same panel state.
type PanelClient interface {
	// EnsureAccess creates the user's panel account if absent, otherwise
	// moves its expiry to validUntil (never backwards).
	EnsureAccess(ctx context.Context, userID int64, validUntil time.Time) (*PanelAccess, error)
	// FetchAccess returns the current panel state, or nil when the user has
	// no panel account.
	FetchAccess(ctx context.Context, userID int64) (*PanelAccess, error)
}

type httpPanelClient struct {
	baseURL  string
	apiToken string
	client   *http.Client
	log      *zap.Logger
}

func NewPanelClient(baseURL, apiToken string, timeout time.Duration, log *zap.Logger) PanelClient {
	return &httpPanelClient{
		baseURL:  baseURL,
		apiToken: apiToken,
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}
}

type panelUser struct {
	UUID            string    `json:"uuid"`
	ExternalID      string    `json:"externalId"`
	SubscriptionURL string    `json:"subscriptionUrl"`
	ExpireAt        time.Time `json:"expireAt"`
}

type panelUserResponse struct {
	Response panelUser `json:"response"`
}

func (c *httpPanelClient) EnsureAccess(ctx context.Context, userID int64, validUntil time.Time) (*PanelAccess, error) {
	existing, err := c.FetchAccess(ctx, userID)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		return c.createUser(ctx, userID, validUntil)
	}

	// A replayed fulfillment may carry a window the panel already covers.
	if !validUntil.After(existing.ExpireAt) {
		return existing, nil
	}
	return c.updateExpiry(ctx, existing, validUntil)
}

func (c *httpPanelClient) FetchAccess(ctx context.Context, userID int64) (*PanelAccess, error) {
	url := fmt.Sprintf("%s/api/users/external/%d", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrProvisioningFailed, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var body panelUserResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrProvisioningFailed, err)
		}
		return accessFrom(body.Response), nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, apperrors.Wrap(apperrors.ErrProvisioningFailed,
			fmt.Errorf("panel lookup returned %d", resp.StatusCode))
	}
}

func (c *httpPanelClient) createUser(ctx context.Context, userID int64, validUntil time.Time) (*PanelAccess, error) {
	payload := map[string]interface{}{
		"externalId": strconv.FormatInt(userID, 10),
		"expireAt":   validUntil.UTC().Format(time.RFC3339),
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/users", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrProvisioningFailed, err)
	}
	defer resp.Body.Close()

	// 409 means a concurrent create won; re-read and converge.
	if resp.StatusCode == http.StatusConflict {
		return c.EnsureAccess(ctx, userID, validUntil)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, apperrors.Wrap(apperrors.ErrProvisioningFailed,
			fmt.Errorf("panel create returned %d", resp.StatusCode))
	}

	var created panelUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrProvisioningFailed, err)
	}
	c.log.Info("panel account created",
		zap.Int64("user_id", userID),
		zap.String("panel_identity", created.Response.UUID))
	return accessFrom(created.Response), nil
}

func (c *httpPanelClient) updateExpiry(ctx context.Context, existing *PanelAccess, validUntil time.Time) (*PanelAccess, error) {
	payload := map[string]interface{}{
		"uuid":     existing.Identity,
		"expireAt": validUntil.UTC().Format(time.RFC3339),
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+"/api/users", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrProvisioningFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Wrap(apperrors.ErrProvisioningFailed,
			fmt.Errorf("panel update returned %d", resp.StatusCode))
	}

	var updated panelUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrProvisioningFailed, err)
	}
	return accessFrom(updated.Response), nil
}

func (c *httpPanelClient) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")
}

func accessFrom(u panelUser) *PanelAccess {
	return &PanelAccess{
		Identity:        u.UUID,
		SubscriptionURL: u.SubscriptionURL,
		ExpireAt:        u.ExpireAt,
	}
}
