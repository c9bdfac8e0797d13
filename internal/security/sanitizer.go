// Package security はリクエスト入力の無害化を提供する。
//
// InputSanitizer はボディとクエリからストアの演算子として解釈されうるキーを取り除き、
// 文字列値からマークアップを除去する。
package security

import (
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// InputSanitizer はリクエスト入力のサニタイズを行う。
// bluemondayのポリシーはスレッドセーフなため、1インスタンスを全リクエストで共有する。
type InputSanitizer struct {
	policy *bluemonday.Policy
}

// NewInputSanitizer はInputSanitizerを生成する。
// 全てのタグを除去し、残ったテキストをHTMLエスケープするStrictPolicyを使う。
func NewInputSanitizer() *InputSanitizer {
	return &InputSanitizer{policy: bluemonday.StrictPolicy()}
}

// IsOperatorKey は"$"で始まる、または"."を含むキーかどうかを返す。
// これらはドキュメントストアのクエリ演算子やネストしたフィールド参照として解釈されうる。
func IsOperatorKey(key string) bool {
	return strings.HasPrefix(key, "$") || strings.Contains(key, ".")
}

// SanitizeString は文字列からマークアップを除去する。
func (s *InputSanitizer) SanitizeString(v string) string {
	return s.policy.Sanitize(v)
}

// SanitizeBody はパース済みボディを再帰的にサニタイズした新しいマップを返す。
// 演算子キーは入れ子の深さに関わらず除去される。
func (s *InputSanitizer) SanitizeBody(body map[string]any) map[string]any {
	if body == nil {
		return nil
	}
	out := make(map[string]any, len(body))
	for k, v := range body {
		if IsOperatorKey(k) {
			continue
		}
		out[k] = s.sanitizeValue(v)
	}
	return out
}

// SanitizeQuery はクエリパラメータをサニタイズした新しいurl.Valuesを返す。
func (s *InputSanitizer) SanitizeQuery(q url.Values) url.Values {
	out := make(url.Values, len(q))
	for k, vs := range q {
		if IsOperatorKey(k) {
			continue
		}
		cleaned := make([]string, len(vs))
		for i, v := range vs {
			cleaned[i] = s.SanitizeString(v)
		}
		out[k] = cleaned
	}
	return out
}

func (s *InputSanitizer) sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return s.SanitizeString(val)
	case map[string]any:
		return s.SanitizeBody(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = s.sanitizeValue(e)
		}
		return out
	default:
		return v
	}
}
