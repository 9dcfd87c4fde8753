package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// maxLoggedArgument is the longest string argument value logged verbatim.
const maxLoggedArgument = 200

// MCPRequestLogger returns middleware that logs MCP JSON-RPC calls: the tool,
// its arguments and whether the call failed either as a protocol error or as a
// tool result flagged isError.
// Pass nil logger to disable logging.
func MCPRequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				logger.Error("Failed to read MCP request body", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			var req rpcRequest
			if err := json.Unmarshal(body, &req); err != nil {
				// GET streams and batch requests are not single calls.
				logger.Debug("MCP request is not a single JSON-RPC call", zap.Error(err))
			}
			tool := req.Params.Name

			logger.Debug("MCP request",
				zap.String("method", req.Method),
				zap.String("tool", tool),
				zap.Any("arguments", truncateArguments(req.Params.Arguments)),
			)

			recorder := &bodyRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(recorder, r)
			duration := time.Since(start)

			var resp rpcResponse
			if err := json.Unmarshal(recorder.body.Bytes(), &resp); err != nil {
				logger.Debug("Failed to parse MCP response", zap.Error(err))
				return
			}

			switch {
			case resp.Error != nil:
				logger.Debug("MCP response error",
					zap.String("tool", tool),
					zap.Int("error_code", resp.Error.Code),
					zap.String("error_message", resp.Error.Message),
					zap.Duration("duration", duration),
				)
			case resp.Result.IsError:
				logger.Debug("MCP tool error",
					zap.String("tool", tool),
					zap.Duration("duration", duration),
				)
			default:
				logger.Debug("MCP response success",
					zap.String("tool", tool),
					zap.Duration("duration", duration),
				)
			}
		})
	}
}

type rpcRequest struct {
	Method string `json:"method"`
	Params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"params"`
}

type rpcResponse struct {
	Result struct {
		IsError bool `json:"isError"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// bodyRecorder tees the response body into a buffer.
type bodyRecorder struct {
	http.ResponseWriter
	body bytes.Buffer
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *bodyRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func truncateArguments(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok && len(s) > maxLoggedArgument {
			v = s[:maxLoggedArgument] + "..."
		}
		out[k] = v
	}
	return out
}
