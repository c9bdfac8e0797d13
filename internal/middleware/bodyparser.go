package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/hitoshi/dashgate/internal/model"
)

// bodyContextKey はパース済みボディを格納するキー。
var bodyContextKey = contextKey("body")

// BodyFromContext はパース済みのリクエストボディを返す。
// ボディがない、またはJSON・urlencoded以外の場合はnil。
func BodyFromContext(ctx context.Context) map[string]any {
	body, _ := ctx.Value(bodyContextKey).(map[string]any)
	return body
}

// ContextWithBody はコンテキストにパース済みボディを格納する。
func ContextWithBody(ctx context.Context, body map[string]any) context.Context {
	return context.WithValue(ctx, bodyContextKey, body)
}

// NewBodyParserMiddleware はJSONとurlencodedのボディをlimitバイトまで読み取り、
// map[string]anyとしてコンテキストに格納するミドルウェアを返す。
// 上限超過は413、構文エラーは400でResponderへ渡す。
func NewBodyParserMiddleware(limit int64, responder *Responder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}

			mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if mediaType != "application/json" && mediaType != "application/x-www-form-urlencoded" {
				next.ServeHTTP(w, r)
				return
			}

			if r.ContentLength > limit {
				responder.Respond(w, r, model.NewPayloadTooLargeError(limit))
				return
			}

			raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					responder.Respond(w, r, model.NewPayloadTooLargeError(limit))
					return
				}
				responder.Respond(w, r, model.NewMalformedBodyError(fmt.Errorf("failed to read body: %w", err)))
				return
			}

			var body map[string]any
			switch mediaType {
			case "application/json":
				body, err = parseJSONBody(raw)
			default:
				body, err = parseFormBody(raw)
			}
			if err != nil {
				responder.Respond(w, r, model.NewMalformedBodyError(err))
				return
			}

			// 生のボディは後続に渡さない。読めるのはサニタイズ対象のマップだけ。
			r.Body = http.NoBody
			r.ContentLength = 0
			next.ServeHTTP(w, r.WithContext(ContextWithBody(r.Context(), body)))
		})
	}
}

// parseJSONBody はJSONオブジェクトをパースする。空ボディは空マップとして扱う。
func parseJSONBody(raw []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	if body == nil {
		body = map[string]any{}
	}
	return body, nil
}

// parseFormBody はurlencodedボディをパースする。
// 単一値のキーは文字列、複数値のキーは[]anyになる。
func parseFormBody(raw []byte) (map[string]any, error) {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid form body: %w", err)
	}
	body := make(map[string]any, len(values))
	for k, vs := range values {
		if len(vs) == 1 {
			body[k] = vs[0]
			continue
		}
		list := make([]any, len(vs))
		for i, v := range vs {
			list[i] = v
		}
		body[k] = list
	}
	return body, nil
}
