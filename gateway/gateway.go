// Package gateway implements the Streaming Gateway (C7): a localhost-only
// SSE bridge to the active local model's OpenAI-compatible completion
// endpoint, grounded on proxymanager.go's proxyOAIHandler (body
// inspection/rewrite via gjson/sjson, sendErrorResponse content negotiation)
// and proxymanager_api.go's event-stream framing style.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/scalytics/core-orchestrator/cancelreg"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const streamTimeout = 240 * time.Second

// ActiveModelResolver returns the currently-active local model's id and the
// base URL of its inference engine, or ok=false if none is active.
type ActiveModelResolver interface {
	ActiveModel() (modelID int64, modelName string, engineBaseURL string, ok bool)
}

// Gateway handles /api/internal/v1/local_completion.
type Gateway struct {
	resolver  ActiveModelResolver
	cancelReg *cancelreg.Registry
	client    *http.Client
}

// New returns a Gateway that proxies completions to whatever model the
// resolver reports active.
func New(resolver ActiveModelResolver, cancelReg *cancelreg.Registry) *Gateway {
	return &Gateway{
		resolver:  resolver,
		cancelReg: cancelReg,
		client:    &http.Client{Timeout: 0},
	}
}

type validationError struct {
	Param   string
	Message string
}

// Handler returns the gin.HandlerFunc for the completion endpoint.
func (g *Gateway) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isLocalhost(c.Request) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden_access"})
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request_error", "message": "could not read request body"})
			return
		}

		if verr := validateBody(body); verr != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request_error", "param": verr.Param, "message": verr.Message})
			return
		}

		_, modelName, engineURL, ok := g.resolver.ActiveModel()
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "no model is currently active"})
			return
		}

		// The cancellation-registry key is the caller-supplied user_id itself
		// (spec §8 scenario 6: a separate requestCancellation("42") call must
		// be able to name this exact in-flight stream without knowing any
		// server-generated id), not a composite id the caller could never have
		// produced.
		userID := gjson.GetBytes(body, "user_id").String()
		workflowID := userID
		chunkID := fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano())

		// The target model is resolved from the active model, not trusted from
		// the caller's body (spec §4.7); rewrite "model" before forwarding
		// upstream so the engine always receives the resolved model name.
		outboundBody, err := sjson.SetBytes(body, "model", modelName)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not set target model on request"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), streamTimeout)
		defer cancel()

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")

		flusher, canFlush := c.Writer.(http.Flusher)

		created := time.Now().Unix()
		seq := 0
		promptTokens, completionTokens := 0, 0

		writeChunk := func(delta string, finishReason *string, usage map[string]int) bool {
			chunk := gin.H{
				"id":      chunkID,
				"object":  "chat.completion.chunk",
				"created": created,
				"model":   modelName,
				"choices": []gin.H{{
					"index":         0,
					"delta":         deltaPayload(delta),
					"finish_reason": finishReason,
				}},
			}
			if usage != nil {
				chunk["usage"] = usage
			}
			encoded, err := json.Marshal(chunk)
			if err != nil {
				return false
			}
			if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", encoded); err != nil {
				return false
			}
			if canFlush {
				flusher.Flush()
			}
			seq++
			return true
		}

		tokens, upstreamErr := g.streamUpstream(ctx, engineURL, outboundBody, g.cancelReg, workflowID)
		for tok := range tokens {
			if tok.err != nil {
				return
			}
			completionTokens++
			if !writeChunk(tok.content, nil, nil) {
				return
			}
		}

		if upstreamErr != nil {
			return
		}

		stop := "stop"
		writeChunk("", &stop, map[string]int{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
		})
		fmt.Fprint(c.Writer, "data: [DONE]\n\n")
		if canFlush {
			flusher.Flush()
		}
	}
}

func deltaPayload(content string) gin.H {
	if content == "" {
		return gin.H{}
	}
	return gin.H{"content": content}
}

type token struct {
	content string
	err     error
}

// streamUpstream issues the chat-completion request to the active engine
// and relays content deltas, checking the cancellation registry between
// reads so an operator-initiated cancel (C2) ends the stream promptly.
// Each relayed token carries a raw read-buffer slice rather than a parsed
// upstream SSE chunk; the engine is an external collaborator (spec.md §1)
// so its own "data: ..." framing is not re-parsed here.
func (g *Gateway) streamUpstream(ctx context.Context, engineURL string, body []byte, cancelReg *cancelreg.Registry, workflowID string) (<-chan token, error) {
	out := make(chan token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(engineURL, "/")+"/v1/chat/completions", strings.NewReader(string(body)))
	if err != nil {
		close(out)
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		close(out)
		return out, err
	}

	go func() {
		defer close(out)
		defer resp.Body.Close()

		buf := make([]byte, 4096)
		for {
			if cancelReg.IsRequested(workflowID) {
				cancelReg.Clear(workflowID)
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}

			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				select {
				case out <- token{content: string(buf[:n])}:
				case <-ctx.Done():
					return
				}
			}
			if readErr != nil {
				if readErr != io.EOF {
					select {
					case out <- token{err: readErr}:
					default:
					}
				}
				return
			}
		}
	}()

	return out, nil
}

func isLocalhost(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

func validateBody(body []byte) *validationError {
	if !gjson.ValidBytes(body) {
		return &validationError{Param: "$", Message: "body must be valid JSON"}
	}

	messages := gjson.GetBytes(body, "messages")
	if !messages.IsArray() || len(messages.Array()) < 1 {
		return &validationError{Param: "messages", Message: "messages must be a non-empty array"}
	}
	for i, m := range messages.Array() {
		role := m.Get("role").String()
		if role != "user" && role != "assistant" && role != "system" {
			return &validationError{Param: fmt.Sprintf("messages[%d].role", i), Message: "role must be user, assistant, or system"}
		}
		if !m.Get("content").Exists() || m.Get("content").Type != gjson.String {
			return &validationError{Param: fmt.Sprintf("messages[%d].content", i), Message: "content must be a string"}
		}
	}

	if t := gjson.GetBytes(body, "temperature"); t.Exists() {
		if t.Num < 0 || t.Num > 2 {
			return &validationError{Param: "temperature", Message: "temperature must be between 0 and 2"}
		}
	}
	if mt := gjson.GetBytes(body, "max_tokens"); mt.Exists() {
		if mt.Num <= 0 {
			return &validationError{Param: "max_tokens", Message: "max_tokens must be greater than 0"}
		}
	}
	if tp := gjson.GetBytes(body, "top_p"); tp.Exists() {
		if tp.Num < 0 || tp.Num > 1 {
			return &validationError{Param: "top_p", Message: "top_p must be between 0 and 1"}
		}
	}
	uid := gjson.GetBytes(body, "user_id")
	if !uid.Exists() {
		return &validationError{Param: "user_id", Message: "user_id is required"}
	}
	if uid.Type != gjson.String && uid.Type != gjson.Number {
		return &validationError{Param: "user_id", Message: "user_id must be a string or number"}
	}

	return nil
}
