package gateway

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"cortex.dev/cortex/internal/apperr"
)

// hopByHopHeaders are stripped from both the forwarded request and the
// returned response (§4.6 step 4: "header hygiene: strip hop-by-hop
// headers").
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailers", "Transfer-Encoding", "Upgrade",
}

func stripHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

func (r *Router) handleInference(path string) gin.HandlerFunc {
	return func(c *gin.Context) {
		r.serveInference(c, path)
	}
}

func (r *Router) handleEmbeddings(c *gin.Context) {
	// Embeddings are always JSON, never streamed (§4.6).
	r.serveInference(c, "/v1/embeddings")
}

func (r *Router) serveInference(c *gin.Context, path string) {
	start := time.Now()

	identity, err := r.guard.AuthenticateAndLimitBearer(c.Request.Context(), c.GetHeader("Authorization"), "")
	if err != nil {
		r.recordAuthOutcome(err)
		writeError(c, err)
		return
	}
	r.metrics.IncKeyAuthAllowed("ok")

	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, apperr.Wrap(apperr.ValidationError, "reading request body", err))
		return
	}

	req, err := parseInferenceRequest(bodyBytes)
	if err != nil {
		writeError(c, apperr.Wrap(apperr.ValidationError, "invalid JSON body", err))
		return
	}
	if req.Model == "" {
		writeError(c, apperr.New(apperr.ValidationError, "missing required field: model"))
		return
	}
	if path == "/v1/embeddings" {
		req.Stream = false
	}

	res, err := r.selector.Resolve(c.Request.Context(), req.Model, path)
	if err != nil {
		writeError(c, err)
		return
	}
	r.metrics.IncUpstreamSelected(path, res.BackendURL)

	if warnings := v1Warnings(req); len(warnings) > 0 {
		c.Header("X-Cortex-Warnings", strings.Join(warnings, "; "))
	}

	if req.Stream {
		slot, err := r.guard.AcquireStream(c.Request.Context(), identity)
		if err != nil {
			writeError(c, err)
			return
		}
		defer slot.Release(c.Request.Context())
	}

	ctx, cancel := r.contextWithTimeout(c, req.Stream)
	defer cancel()

	upstreamReq, err := r.buildUpstreamRequest(ctx, c, res.BackendURL, path, bodyBytes)
	if err != nil {
		writeError(c, apperr.Wrap(apperr.InternalError, "building upstream request", err))
		return
	}

	resp, err := r.doUpstreamRequest(upstreamReq)
	if err != nil {
		r.selector.ReportOutcome(res.BackendURL, false)
		writeError(c, apperr.Wrap(apperr.UpstreamUnavailable, "upstream request failed", err))
		return
	}
	defer resp.Body.Close()

	r.selector.ReportOutcome(res.BackendURL, resp.StatusCode < 500)

	stripHopByHop(resp.Header)
	for k, vv := range resp.Header {
		for _, v := range vv {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Status(resp.StatusCode)

	var usage openAIUsage
	var haveUsage bool
	var ttftMs *int64
	var responseText string

	if req.Stream {
		usage, haveUsage, ttftMs, responseText = r.streamResponse(c, resp.Body, start)
	} else {
		usage, haveUsage, responseText = r.bufferResponse(c, resp.Body)
	}

	latency := time.Since(start)
	r.metrics.ObserveRequest(path, resp.StatusCode, latency)
	r.metrics.ObserveUpstreamLatency(path, latency)
	r.metrics.ObserveUpstreamLatencyByUpstream(path, res.BackendURL, latency)
	if ttftMs != nil {
		r.metrics.ObserveStreamTTFT(path, time.Duration(*ttftMs)*time.Millisecond)
	}

	promptTokens := usage.PromptTokens
	completionTokens := usage.CompletionTokens
	if !haveUsage {
		promptTokens = estimateTokens(promptText(req))
		completionTokens = estimateTokens(responseText)
	}

	var apiKeyID *int64
	if identity.APIKey != nil {
		apiKeyID = &identity.APIKey.ID
	}

	r.recorder.Record(UsageEvent{
		RequestID:        requestIDFrom(c),
		APIKeyID:         apiKeyID,
		ModelServedName:  req.Model,
		Route:            path,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		StatusCode:       resp.StatusCode,
		LatencyMS:        latency.Milliseconds(),
		TTFTMs:           ttftMs,
		Streamed:         req.Stream,
	})
}

func (r *Router) recordAuthOutcome(err error) {
	ae, ok := apperr.As(err)
	reason := "error"
	if ok {
		reason = string(ae.Kind)
	}
	r.metrics.IncKeyAuthBlocked(reason)
}

// buildUpstreamRequest constructs the forwarded request, stripping
// hop-by-hop headers, propagating request_id, and injecting the backend
// auth header if configured (§4.6 step 4).
func (r *Router) buildUpstreamRequest(ctx context.Context, c *gin.Context, backendURL, path string, body []byte) (*http.Request, error) {
	url := backendURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	for k, vv := range c.Request.Header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	stripHopByHop(req.Header)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(requestIDHeader, requestIDFrom(c))
	if r.backendAuthHeader != "" {
		req.Header.Set(r.backendAuthHeader, r.backendAuthValue)
	}

	return req, nil
}

// doUpstreamRequest implements §4.6 step 7's retry policy for POSTs: a
// single retry, only on a connection error (never on a 4xx/5xx response),
// and only because such an error necessarily occurs before any byte of the
// response has reached the caller.
func (r *Router) doUpstreamRequest(req *http.Request) (*http.Response, error) {
	client := http.DefaultClient

	resp, err := client.Do(req)
	if err == nil {
		return resp, nil
	}
	if req.Context().Err() != nil {
		return nil, err // client disconnect/timeout, not a connection error to retry
	}
	if req.GetBody == nil {
		return nil, err
	}

	retryBody, berr := req.GetBody()
	if berr != nil {
		return nil, err
	}
	req.Body = retryBody
	return client.Do(req)
}

// streamResponse pipes the upstream SSE body to the client verbatim,
// recording time-to-first-token, parsing usage from the terminal frame if
// present, and accumulating the generated text so the caller can still
// estimate completion tokens when no usage frame ever arrives (§4.6 step 5,
// step 6).
func (r *Router) streamResponse(c *gin.Context, body io.Reader, start time.Time) (openAIUsage, bool, *int64, string) {
	reader := bufio.NewReader(body)
	var usage openAIUsage
	var haveUsage bool
	var ttftMs *int64
	var text strings.Builder

	// Closing the upstream body unblocks a read that has waited longer than
	// streamIdleTimeout for the next line, which ends the copy loop.
	var idle *time.Timer
	if rc, ok := body.(io.Closer); ok {
		idle = time.AfterFunc(r.streamIdleTimeout, func() { _ = rc.Close() })
		defer idle.Stop()
	}

	c.Stream(func(w io.Writer) bool {
		line, err := reader.ReadBytes('\n')
		if idle != nil {
			idle.Reset(r.streamIdleTimeout)
		}
		if len(line) > 0 {
			if ttftMs == nil && isDataFrame(line) {
				ms := time.Since(start).Milliseconds()
				ttftMs = &ms
			}
			if u, ok := parseSSEUsage(string(line)); ok {
				usage = u
				haveUsage = true
			}
			text.WriteString(sseContentFragment(string(line)))
			if _, werr := w.Write(line); werr != nil {
				return false
			}
		}
		if err != nil {
			return false // includes io.EOF and client-disconnect read errors
		}
		return true
	})

	return usage, haveUsage, ttftMs, text.String()
}

func isDataFrame(line []byte) bool {
	s := strings.TrimRight(string(line), "\r\n")
	return strings.HasPrefix(s, ssePrefix) && s != sseDone
}

// bufferResponse copies the full JSON body to the client while capturing it
// for usage parsing, and for the completion-text fallback estimate when no
// usage object is present (§4.6 step 6).
func (r *Router) bufferResponse(c *gin.Context, body io.Reader) (openAIUsage, bool, string) {
	var buf bytes.Buffer
	tee := io.TeeReader(body, &buf)
	_, _ = io.Copy(c.Writer, tee)

	usage, haveUsage := parseJSONUsage(buf.Bytes())
	return usage, haveUsage, completionText(buf.Bytes())
}
