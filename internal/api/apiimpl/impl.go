package apiimpl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/casaway/stories-service/internal/api"
	"github.com/casaway/stories-service/internal/domain"
	"github.com/casaway/stories-service/internal/session"
	"github.com/casaway/stories-service/pkg/config"
	apperrors "github.com/casaway/stories-service/pkg/errors"
	"github.com/casaway/stories-service/pkg/logger"
	"github.com/casaway/stories-service/pkg/retry"
	"go.uber.org/fx"
)

type Opts struct {
	fx.In

	Config  *config.Config
	Logger  logger.Logger
	Session session.Store
}

type ClientImpl struct {
	baseURL string
	http    *http.Client
	session session.Store
	logger  logger.Logger
}

func New(opts Opts) *ClientImpl {
	return &ClientImpl{
		baseURL: opts.Config.Platform.BaseURL,
		http:    &http.Client{Timeout: opts.Config.Platform.Timeout},
		session: opts.Session,
		logger:  opts.Logger,
	}
}

var _ api.Client = (*ClientImpl)(nil)

// GetFeedStories retries transient failures; feed loading is a read and safe
// to repeat.
func (c *ClientImpl) GetFeedStories(ctx context.Context) ([]domain.Story, error) {
	var stories []domain.Story
	err := retry.Do(ctx, c.logger, "get feed stories", func() error {
		return c.getJSON(ctx, "/api/story", &stories)
	}, retry.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return stories, nil
}

func (c *ClientImpl) GetUserStories(ctx context.Context, userID string) ([]domain.Story, error) {
	var stories []domain.Story
	path := "/api/story/user/" + url.PathEscape(userID)
	err := retry.Do(ctx, c.logger, "get user stories", func() error {
		return c.getJSON(ctx, path, &stories)
	}, retry.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return stories, nil
}

// MarkStoryViewed is deliberately not retried: the view event is
// fire-and-forget and a duplicate would inflate view counts.
func (c *ClientImpl) MarkStoryViewed(ctx context.Context, storyID string) error {
	path := "/api/story/" + url.PathEscape(storyID) + "/view"
	req, err := c.newRequest(ctx, http.MethodPost, path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(err, "view event request failed")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return c.checkStatus(resp)
}

func (c *ClientImpl) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(err, "platform request failed")
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(err, "failed to decode platform response")
	}
	return nil
}

func (c *ClientImpl) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to build platform request")
	}
	req.Header.Set("Accept", "application/json")
	if token := c.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *ClientImpl) checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return apperrors.ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.ErrNotFound
	default:
		return apperrors.New(fmt.Sprintf("platform returned status %d", resp.StatusCode))
	}
}
