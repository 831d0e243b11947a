package server

import (
	"net/http"

	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"github.com/openmined/docsync/internal/docstore/remote"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

func RateLimiter(formattedRate string) (gin.HandlerFunc, error) {
	rate, err := limiter.NewRateFromFormatted(formattedRate)
	if err != nil {
		return nil, err
	}
	lim := limiter.New(memory.NewStore(), rate)
	return mgin.NewMiddleware(
		lim,
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			c.PureJSON(http.StatusTooManyRequests, remote.APIError{
				Code:    remote.CodeRateLimited,
				Message: "rate limit exceeded",
			})
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			c.PureJSON(http.StatusInternalServerError, remote.APIError{
				Code:    remote.CodeInternalError,
				Message: err.Error(),
			})
		}),
	), nil
}

// SecurityHeaders sets the usual hardening headers. HSTS is only sent when
// the server terminates TLS itself.
func SecurityHeaders(tls bool) gin.HandlerFunc {
	cfg := secure.Config{
		IsDevelopment:      false,
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		IENoOpen:           true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}
	if tls {
		cfg.STSSeconds = 315360000
		cfg.STSIncludeSubdomains = true
	}
	return secure.New(cfg)
}
