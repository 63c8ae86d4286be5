// Package otpchannel talks to the external OTP service that delivers codes
// by SMS and verifies them.
package otpchannel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prefeitura-rio/app-medrec/internal/broker"
	"github.com/prefeitura-rio/app-medrec/internal/logging"
	"github.com/prefeitura-rio/app-medrec/internal/models"
	"github.com/prefeitura-rio/app-medrec/internal/observability"
	"github.com/prefeitura-rio/app-medrec/internal/utils"
	"github.com/prefeitura-rio/app-medrec/internal/utils/httpclient"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ServiceTokenKey is the cache key of the OTP service bearer token
const ServiceTokenKey = "otp:service_token"

// TokenRefreshMargin is the remaining lifetime below which a cached service
// token is replaced instead of used
const TokenRefreshMargin = 30 * time.Second

var (
	ErrInvalidIdentityToken = errors.New("invalid identity token")
	ErrLoginFailed          = errors.New("otp service login failed")
)

// TokenCache stores the service token between requests
type TokenCache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
}

// Config holds the OTP service connection settings
type Config struct {
	BaseURL        string
	Username       string
	Password       string
	IdentitySecret string
}

// Client implements broker.OtpChannel over the OTP service HTTP API
type Client struct {
	cfg   Config
	cache TokenCache
	pool  *httpclient.HTTPClientPool
}

var _ broker.OtpChannel = (*Client)(nil)

// NewClient creates an OTP service client. cache may be nil, in which case a
// login is performed for every request.
func NewClient(cfg Config, cache TokenCache, pool *httpclient.HTTPClientPool) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, cache: cache, pool: pool}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type sendRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type sendResponse struct {
	RequestID string `json:"request_id"`
}

type verifyRequest struct {
	PhoneNumber string `json:"phone_number"`
	Code        string `json:"code"`
}

type verifyResponse struct {
	IdentityToken string `json:"identity_token"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// SendCode asks the service to text a code to phoneNumber. The returned
// handle is the service's request id.
func (c *Client) SendCode(ctx context.Context, phoneNumber string) (string, error) {
	ctx, span, done := utils.TraceExternalService(ctx, "otp", "send")
	defer done()

	logger := logging.Logger.With(
		zap.String("operation", "otp_send"),
		zap.String("phone", observability.MaskPhone(phoneNumber)),
	)

	status, body, err := c.call(ctx, "/otp/send", sendRequest{PhoneNumber: phoneNumber})
	if err != nil {
		utils.RecordErrorInSpan(span, err, nil)
		logger.Error("otp send request failed", zap.Error(err))
		return "", err
	}
	utils.AddSpanAttribute(span, "http.status_code", status)

	if status < 200 || status >= 300 {
		err := statusError(status, body)
		utils.RecordErrorInSpan(span, err, nil)
		logger.Warn("otp send rejected", zap.Int("status", status), zap.Error(err))
		return "", err
	}

	var resp sendResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil {
			logger.Warn("failed to decode send response", zap.Error(err))
		}
	}
	return resp.RequestID, nil
}

// VerifyCode checks code against the last code sent to phoneNumber. On
// success the service answers with a signed identity token.
func (c *Client) VerifyCode(ctx context.Context, phoneNumber, code string) (models.VerifiedIdentity, error) {
	ctx, span, done := utils.TraceExternalService(ctx, "otp", "verify")
	defer done()

	logger := logging.Logger.With(
		zap.String("operation", "otp_verify"),
		zap.String("phone", observability.MaskPhone(phoneNumber)),
	)

	status, body, err := c.call(ctx, "/otp/verify", verifyRequest{PhoneNumber: phoneNumber, Code: code})
	if err != nil {
		utils.RecordErrorInSpan(span, err, nil)
		logger.Error("otp verify request failed", zap.Error(err))
		return models.VerifiedIdentity{}, err
	}
	utils.AddSpanAttribute(span, "http.status_code", status)

	if status != http.StatusOK {
		err := statusError(status, body)
		utils.RecordErrorInSpan(span, err, nil)
		logger.Info("otp verify rejected", zap.Int("status", status))
		return models.VerifiedIdentity{}, err
	}

	var resp verifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.VerifiedIdentity{}, fmt.Errorf("failed to decode verify response: %w", err)
	}

	identity, err := c.parseIdentity(resp.IdentityToken)
	if err != nil {
		utils.RecordErrorInSpan(span, err, nil)
		logger.Warn("identity token rejected", zap.Error(err))
		return models.VerifiedIdentity{}, &broker.ChannelError{Err: err}
	}

	utils.AddSpanAttribute(span, "identity.role", string(identity.Role))
	return identity, nil
}

// parseIdentity validates an HS256 identity token and extracts its claims
func (c *Client) parseIdentity(tokenString string) (models.VerifiedIdentity, error) {
	if tokenString == "" {
		return models.VerifiedIdentity{}, ErrInvalidIdentityToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &models.IdentityClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidIdentityToken
		}
		return []byte(c.cfg.IdentitySecret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return models.VerifiedIdentity{}, fmt.Errorf("%w: %v", ErrInvalidIdentityToken, err)
	}

	claims, ok := token.Claims.(*models.IdentityClaims)
	if !ok || !token.Valid || claims.Subject == "" || claims.Role == "" {
		return models.VerifiedIdentity{}, ErrInvalidIdentityToken
	}
	return claims.Identity(), nil
}

// call posts payload to path with the service token. A 401 means the
// cached token went stale: it is evicted and the call retried once.
func (c *Client) call(ctx context.Context, path string, payload any) (int, []byte, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.serviceToken(ctx)
		if err != nil {
			return 0, nil, err
		}

		status, body, err := c.post(ctx, path, payload, token)
		if err != nil {
			return 0, nil, err
		}
		if status == http.StatusUnauthorized && token != "" && attempt == 0 {
			c.evictToken(ctx)
			continue
		}
		return status, body, nil
	}
}

func (c *Client) post(ctx context.Context, path string, payload any, token string) (int, []byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := c.pool.Get()
	defer c.pool.Put(client)

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to send request to %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// serviceToken returns the bearer token for the OTP service, using the cache
// when possible. Without credentials no token is used.
func (c *Client) serviceToken(ctx context.Context) (string, error) {
	if c.cfg.Username == "" {
		return "", nil
	}

	logger := logging.Logger.With(zap.String("operation", "otp_service_token"))

	if c.cache != nil {
		token, err := c.cache.Get(ctx, ServiceTokenKey).Result()
		if err == nil && token != "" {
			remaining, ttlErr := c.cache.TTL(ctx, ServiceTokenKey).Result()
			if ttlErr != nil || remaining < 0 || remaining >= TokenRefreshMargin {
				observability.CacheHits.WithLabelValues("otp_service_token").Inc()
				logger.Debug("using cached otp service token", zap.Duration("remaining", remaining))
				return token, nil
			}
			logger.Debug("cached otp service token about to expire, logging in again",
				zap.Duration("remaining", remaining))
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			logger.Warn("failed to read cached service token", zap.Error(err))
		}
	}

	status, body, err := c.post(ctx, "/auth/login", loginRequest{Username: c.cfg.Username, Password: c.cfg.Password}, "")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrLoginFailed, status)
	}

	var resp loginResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Token == "" {
		return "", fmt.Errorf("%w: malformed response", ErrLoginFailed)
	}

	// Cache for 1 minute less than expiration
	ttl := time.Until(resp.ExpiresAt) - time.Minute
	if c.cache != nil && ttl > 0 {
		if err := c.cache.Set(ctx, ServiceTokenKey, resp.Token, ttl).Err(); err != nil {
			logger.Warn("failed to cache service token", zap.Error(err))
		}
	}

	logger.Debug("obtained otp service token", zap.Duration("ttl", ttl))
	return resp.Token, nil
}

func (c *Client) evictToken(ctx context.Context) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Del(ctx, ServiceTokenKey).Err(); err != nil {
		logging.Logger.Warn("failed to evict service token", zap.Error(err))
	}
}

// statusError turns a non-success response into a ChannelError carrying the
// service's message, if it sent one.
func statusError(status int, body []byte) error {
	var resp errorResponse
	_ = json.Unmarshal(body, &resp)
	return &broker.ChannelError{
		Message: strings.TrimSpace(resp.Message),
		Err:     fmt.Errorf("otp service returned status %d", status),
	}
}
