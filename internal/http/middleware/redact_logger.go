package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions extends the built-in masks. Header and parameter names are
// matched case-insensitively; their values become "[REDACTED]".
type RedactOptions struct {
	MaskHeaders     []string
	MaskQueryParams []string
}

var (
	// UUIDs go first so the phone pattern cannot eat their digit groups.
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// redactor scrubs request metadata before it reaches the access log.
type redactor struct {
	headers map[string]struct{}
	params  *regexp.Regexp
}

func newRedactor(opts RedactOptions) redactor {
	rd := redactor{
		headers: map[string]struct{}{"authorization": {}, "cookie": {}, "set-cookie": {}},
		params:  credentialParamRE(opts.MaskQueryParams...),
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			rd.headers[h] = struct{}{}
		}
	}
	return rd
}

// scrub replaces identifiers in free text.
func (rd redactor) scrub(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

func (rd redactor) query(raw string) string {
	return rd.scrub(maskParams(rd.params, raw))
}

func (rd redactor) headerMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := rd.headers[strings.ToLower(k)]; ok {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = rd.scrub(strings.Join(vv, ", "))
	}
	return out
}

// RedactingLogger logs bridge API traffic. Web-tier callers forward user
// names and addresses in headers, so header values and the query string are
// scrubbed; bodies are never logged. The request-scoped logger handed to
// handlers carries only the request id and caller.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	rd := newRedactor(opts)

	return func(c *gin.Context) {
		start := time.Now()
		caller := CallerID(c)
		rid := c.Writer.Header().Get(requestIDHeader)
		if rid == "" {
			rid = c.GetHeader(requestIDHeader)
		}

		scoped := log.With().Str("request_id", rid).Str("caller", caller).Logger()
		c.Set(loggerKey, &scoped)

		c.Next()

		status := c.Writer.Status()
		levelFor(&log.Logger, status, false).
			Str("request_id", rid).
			Str("caller", caller).
			Str("method", c.Request.Method).
			Str("path", routeOf(c)).
			Str("query", rd.query(c.Request.URL.RawQuery)).
			Bool("replay", IsReplay(c)).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", rd.headerMap(c.Request.Header)).
			Msg("http_request")
	}
}

// credentialParamRE matches token, access_token and any extra parameter
// names, case-insensitively.
func credentialParamRE(extra ...string) *regexp.Regexp {
	params := []string{"token", "access_token"}
	for _, q := range extra {
		if q = strings.TrimSpace(q); q != "" {
			params = append(params, regexp.QuoteMeta(q))
		}
	}
	return regexp.MustCompile(`(?i)(^|&)(` + strings.Join(params, "|") + `)=[^&]*`)
}

func maskParams(re *regexp.Regexp, rawQuery string) string {
	return re.ReplaceAllString(rawQuery, "${1}${2}=[REDACTED]")
}
