// Package telegram is a small Bot API client: long polling, text messages,
// edits and photo uploads, with per-chat pacing and flood-control handling.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.telegram.org"

type Options struct {
	HTTPClient *http.Client
	BaseURL    string
	Token      string
	Logger     *slog.Logger

	// RatePerChat caps outbound calls per chat per second. Zero disables it.
	RatePerChat float64
	RateBurst   int

	// 429 answers asking to wait at most FloodRetryThreshold are waited out
	// inside the client, up to FloodRetries times per call.
	FloodRetryThreshold time.Duration
	FloodRetries        int
}

type Client struct {
	http    *http.Client
	baseURL string
	token   string
	logger  *slog.Logger
	limiter *chatLimiter

	floodThreshold time.Duration
	floodRetries   int
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retries := opts.FloodRetries
	if retries < 0 {
		retries = 0
	}
	return &Client{
		http:           httpClient,
		baseURL:        baseURL,
		token:          opts.Token,
		logger:         logger,
		limiter:        newChatLimiter(opts.RatePerChat, opts.RateBurst),
		floodThreshold: opts.FloodRetryThreshold,
		floodRetries:   retries,
	}
}

func (c *Client) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var out User
	err := c.do(ctx, "getMe", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("getMe"), nil)
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUpdates long-polls for updates at offset and returns them together with
// the next offset to acknowledge.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, int64, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	url := fmt.Sprintf("%s?timeout=%d", c.endpoint("getUpdates"), secs)
	if offset > 0 {
		url += fmt.Sprintf("&offset=%d", offset)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()

	var updates []Update
	err := c.do(reqCtx, "getUpdates", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}, &updates)
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusConflict {
			return nil, offset, fmt.Errorf("%w: %s", ErrConflict, reqErr.Description)
		}
		return nil, offset, err
	}

	next := offset
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return updates, next, nil
}

// SendMessage posts text to chatID and returns the new message id.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) (int64, error) {
	if err := c.limiter.wait(ctx, chatID); err != nil {
		return 0, err
	}
	body, err := json.Marshal(sendMessageRequest{
		ChatID:           chatID,
		Text:             text,
		ParseMode:        strings.TrimSpace(opts.ParseMode),
		ReplyToMessageID: opts.ReplyToMessageID,
	})
	if err != nil {
		return 0, err
	}
	var out Message
	if err := c.do(ctx, "sendMessage", c.jsonRequest("sendMessage", body), &out); err != nil {
		return 0, err
	}
	return out.MessageID, nil
}

func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text, parseMode string) error {
	if messageID == 0 {
		return fmt.Errorf("missing message_id")
	}
	if err := c.limiter.wait(ctx, chatID); err != nil {
		return err
	}
	body, err := json.Marshal(editMessageTextRequest{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
		ParseMode: strings.TrimSpace(parseMode),
	})
	if err != nil {
		return err
	}
	return c.do(ctx, "editMessageText", c.jsonRequest("editMessageText", body), nil)
}

// SendPhoto uploads an in-memory PNG and returns the new message id.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, png []byte, caption string) (int64, error) {
	if len(png) == 0 {
		return 0, fmt.Errorf("empty photo")
	}
	if err := c.limiter.wait(ctx, chatID); err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("chat_id", strconv.FormatInt(chatID, 10))
	if caption = strings.TrimSpace(caption); caption != "" {
		_ = mw.WriteField("caption", caption)
	}
	part, err := mw.CreateFormFile("photo", "formula.png")
	if err != nil {
		return 0, err
	}
	if _, err := part.Write(png); err != nil {
		return 0, err
	}
	if err := mw.Close(); err != nil {
		return 0, err
	}
	payload := buf.Bytes()
	contentType := mw.FormDataContentType()

	var out Message
	err = c.do(ctx, "sendPhoto", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("sendPhoto"), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.MessageID, nil
}

func (c *Client) jsonRequest(method string, body []byte) func(context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(method), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}
}

// do performs one Bot API call, waiting out short flood-control answers.
// build is invoked once per try so request bodies can be replayed.
func (c *Client) do(ctx context.Context, method string, build func(context.Context) (*http.Request, error), out any) error {
	floodRetries := 0
	for {
		req, err := build(ctx)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("telegram %s: %w", method, err)
		}
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		var env envelope
		_ = json.Unmarshal(raw, &env)
		if resp.StatusCode >= 200 && resp.StatusCode < 300 && env.OK {
			if out != nil && len(env.Result) > 0 && !bytes.Equal(env.Result, []byte("true")) {
				if err := json.Unmarshal(env.Result, out); err != nil {
					return fmt.Errorf("telegram %s: decode result: %w", method, err)
				}
			}
			return nil
		}

		wait, limited := retryAfter(resp.StatusCode, env)
		if !limited {
			return &RequestError{
				Method:      method,
				StatusCode:  resp.StatusCode,
				ErrorCode:   env.ErrorCode,
				Description: env.Description,
				Body:        strings.TrimSpace(string(raw)),
			}
		}
		if wait > c.floodThreshold {
			return &RetryAfterError{Method: method, RetryAfter: wait}
		}
		if floodRetries >= c.floodRetries {
			c.logger.Error("telegram_flood_retry_exhausted", "method", method, "retry_after", wait.String(), "retries", floodRetries)
			return &RetryAfterError{Method: method, RetryAfter: wait, Loop: true}
		}
		floodRetries++
		c.logger.Warn("telegram_flood_wait", "method", method, "retry_after", wait.String(), "attempt", floodRetries)
		if err := sleepContext(ctx, wait); err != nil {
			return err
		}
	}
}

func retryAfter(status int, env envelope) (time.Duration, bool) {
	if env.Parameters != nil && env.Parameters.RetryAfter > 0 {
		return time.Duration(env.Parameters.RetryAfter) * time.Second, true
	}
	if status == http.StatusTooManyRequests || env.ErrorCode == http.StatusTooManyRequests {
		return time.Second, true
	}
	return 0, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
