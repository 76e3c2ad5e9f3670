package middleware

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
)

const defaultBodyLimit = 1 << 20

// BodyLimit rejects request bodies larger than limit, given in human form
// ("64KB", "1MiB"). An unparsable limit falls back to 1 MiB.
func BodyLimit(limit string) echo.MiddlewareFunc {
	maxBytes := ParseLimit(limit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}
			if req.ContentLength > maxBytes {
				return tooLarge(maxBytes)
			}
			if req.ContentLength < 0 {
				// Chunked bodies are buffered here so an oversized one is a
				// 413 before any handler tries to bind it.
				buf, err := io.ReadAll(io.LimitReader(req.Body, maxBytes+1))
				req.Body.Close()
				if err != nil {
					return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
				}
				if int64(len(buf)) > maxBytes {
					return tooLarge(maxBytes)
				}
				req.Body = io.NopCloser(bytes.NewReader(buf))
				req.ContentLength = int64(len(buf))
			}
			return next(c)
		}
	}
}

// ParseLimit converts a size string to bytes.
func ParseLimit(s string) int64 {
	n, err := humanize.ParseBytes(s)
	if err != nil || n == 0 {
		return defaultBodyLimit
	}
	return int64(n)
}

func tooLarge(limit int64) error {
	return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
		fmt.Sprintf("request body exceeds %s", humanize.IBytes(uint64(limit))))
}
