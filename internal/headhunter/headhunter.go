// Package headhunter is a client of the hh.ru vacancies API.
package headhunter

import (
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/spigell/hh-analyzer/internal/utils"
)

const (
	apiURL    = "https://api.hh.ru"
	userAgent = "spigell/hh-analyzer (spigelly@gmail.com)"
	// Max value for search per page.
	perPage = "100"

	defaultTimeout = 10 * time.Second
)

// Options tune the client. Zero values fall back to the defaults.
type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Retry     *utils.RetryPolicy
}

type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// New builds a client. An empty token sends anonymous requests.
func New(logger *zap.Logger, token string, opts Options) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = apiURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = userAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	policy := utils.DefaultRetryPolicy
	if opts.Retry != nil {
		policy = *opts.Retry
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept-Encoding", contentEncoding).
		SetHeader("Content-Type", contentType)
	if token = strings.TrimSpace(token); token != "" {
		client.SetAuthToken(token)
	}
	policy.Apply(client)

	return &Client{http: client, logger: logger}
}
