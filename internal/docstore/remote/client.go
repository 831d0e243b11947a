package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/openmined/docsync/internal/docstore"
	"github.com/openmined/docsync/internal/identity"
	"github.com/openmined/docsync/internal/utils"
	"github.com/openmined/docsync/internal/version"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultRateLimit = 50 // requests per second
)

type Config struct {
	URL       string        `mapstructure:"url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Burst     int           `mapstructure:"burst"`
}

// Store implements docstore.Store against a docsync server.
type Store struct {
	docstore.ContentHasher

	client  *req.Client
	limiter *rate.Limiter
	id      string
	nowFunc func() time.Time
}

var _ docstore.Store = (*Store)(nil)

// Dial connects to the server and fetches the store identifier.
func Dial(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("remote: url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(1, int(cfg.RateLimit))
	}

	client := req.C().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetTimeout(cfg.Timeout).
		SetUserAgent(version.UserAgent()).
		SetJsonMarshal(utils.JSONMarshal).
		SetJsonUnmarshal(utils.JSONUnmarshal).
		SetCommonErrorResult(&APIError{}).
		SetCommonRetryCount(2).
		SetCommonRetryBackoffInterval(200*time.Millisecond, 2*time.Second).
		SetCommonRetryCondition(func(resp *req.Response, err error) bool {
			return err != nil || resp.GetStatusCode() >= http.StatusInternalServerError
		})

	s := &Store{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		nowFunc: time.Now,
	}

	var share ShareResponse
	if err := s.do(ctx, "share", func(r *req.Request) (*req.Response, error) {
		return r.SetSuccessResult(&share).Get(PathShare)
	}); err != nil {
		return nil, err
	}
	if share.ID == "" {
		return nil, fmt.Errorf("%w: server returned no share id", docstore.ErrStoreUnavailable)
	}
	s.id = share.ID

	slog.Debug("remote store", "url", cfg.URL, "share", s.id)
	return s, nil
}

func (s *Store) ID() string {
	return s.id
}

// do waits for the rate limiter, runs the request and maps failures.
func (s *Store) do(ctx context.Context, op string, send func(*req.Request) (*req.Response, error)) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := send(s.client.R().SetContext(ctx))
	return handleAPIError(ctx, resp, err, op)
}

func handleAPIError(ctx context.Context, resp *req.Response, requestErr error, op string) error {
	if requestErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: %v", docstore.ErrStoreUnavailable, op, requestErr)
	}
	if !resp.IsErrorState() {
		return nil
	}
	if apiErr, ok := resp.ErrorResult().(*APIError); ok && apiErr.Code != "" {
		return fmt.Errorf("%s: %w", op, apiErr)
	}
	return fmt.Errorf("%w: %s: status %d", docstore.ErrStoreUnavailable, op, resp.GetStatusCode())
}

func (s *Store) ListLatest(ctx context.Context) iter.Seq2[*docstore.Document, error] {
	return func(yield func(*docstore.Document, error) bool) {
		var list ListResponse
		err := s.do(ctx, "list", func(r *req.Request) (*req.Response, error) {
			return r.SetSuccessResult(&list).Get(PathDocs)
		})
		if err != nil {
			yield(nil, err)
			return
		}
		for _, doc := range list.Documents {
			if !yield(doc, nil) {
				return
			}
		}
	}
}

func (s *Store) Get(ctx context.Context, path string) (*docstore.Document, error) {
	var doc docstore.Document
	err := s.do(ctx, "get", func(r *req.Request) (*req.Response, error) {
		return r.SetQueryParam("path", path).SetSuccessResult(&doc).Get(PathDocGet)
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) Open(ctx context.Context, path string) (io.ReadCloser, *docstore.Document, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	resp, err := s.client.R().
		SetContext(ctx).
		DisableAutoReadResponse().
		SetRetryCount(0).
		SetQueryParam("path", path).
		Get(PathContent)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, fmt.Errorf("%w: open: %v", docstore.ErrStoreUnavailable, err)
	}

	if resp.IsErrorState() {
		// the error result has already consumed the body
		return nil, nil, handleAPIError(ctx, resp, nil, "open")
	}

	doc, err := DecodeDocHeader(resp.Header.Get(HeaderDoc))
	if err != nil {
		resp.Body.Close()
		return nil, nil, fmt.Errorf("%w: open: %v", docstore.ErrStoreUnavailable, err)
	}
	return resp.Body, doc, nil
}

// Put signs a new version locally and ingests it on the server.
func (s *Store) Put(ctx context.Context, path string, content io.Reader, author *identity.Keypair) (*docstore.Document, error) {
	if err := docstore.ValidatePath(path); err != nil {
		return nil, err
	}

	sp, err := docstore.Spool(content)
	if err != nil {
		return nil, err
	}
	defer sp.Close()

	prev, err := s.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	doc := &docstore.Document{
		Path:        path,
		ContentHash: sp.Hash(),
		Size:        sp.Size(),
		Timestamp:   docstore.NextTimestamp(s.nowFunc(), prev),
		Deleted:     sp.Size() == 0,
	}
	if err := doc.Sign(author); err != nil {
		return nil, err
	}

	if err := s.Ingest(ctx, doc, sp); err != nil {
		return nil, err
	}
	return doc, nil
}

// Ingest uploads an already signed document.
func (s *Store) Ingest(ctx context.Context, doc *docstore.Document, content io.Reader) error {
	meta, err := utils.JSONMarshal(doc)
	if err != nil {
		return err
	}

	return s.do(ctx, "ingest", func(r *req.Request) (*req.Response, error) {
		r.SetRetryCount(0).EnableForceMultipart().SetFormData(map[string]string{FormDocument: string(meta)})
		if !doc.Deleted && content != nil {
			r.SetFileReader(FormContent, "content", content)
		}
		return r.Post(PathIngest)
	})
}
