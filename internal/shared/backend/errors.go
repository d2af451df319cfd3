package backend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"sunat-client/internal/shared/apierr"
)

// errorEnvelope covers the error body shapes the backend is known to send:
//
//	{"detail": "text"}
//	{"detail": [{"msg": "...", "loc": [...]}]}
//	{"detail": {"code": "...", "message": "..."}}
//	{"error": {"code": "...", "message": "...", "details": [...]}}
//	{"message": "..."}
type errorEnvelope struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func decodeError(status int, body []byte) *apierr.Error {
	out := &apierr.Error{Kind: kindForStatus(status), StatusCode: status}

	var env errorEnvelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil {
		switch {
		case env.Error != nil:
			out.Code = env.Error.Code
			out.Message = env.Error.Message
			out.Details = flattenDetails(env.Error.Details)
		case len(env.Detail) > 0:
			out.Code, out.Message, out.Details = parseDetail(env.Detail)
		case env.Message != "":
			out.Message = env.Message
		}
	}
	if out.Message == "" {
		if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 && !strings.HasPrefix(text, "{") {
			out.Message = text
		} else {
			out.Message = fmt.Sprintf("backend responded %d %s", status, http.StatusText(status))
		}
	}
	return out
}

func kindForStatus(status int) apierr.Kind {
	switch status {
	case http.StatusNotFound, http.StatusGone:
		return apierr.KindNotFound
	case http.StatusConflict, http.StatusTooEarly:
		return apierr.KindNotReady
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apierr.KindValidation
	default:
		return apierr.KindTransport
	}
}

func parseDetail(raw json.RawMessage) (code, message string, details []string) {
	var text string
	if json.Unmarshal(raw, &text) == nil {
		return "", text, nil
	}
	var obj struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil && (obj.Message != "" || obj.Code != "") {
		return obj.Code, obj.Message, nil
	}
	details = flattenDetails(raw)
	if len(details) > 0 {
		message = details[0]
	}
	return "", message, details
}

func flattenDetails(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var items []json.RawMessage
	if json.Unmarshal(raw, &items) != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var text string
		if json.Unmarshal(item, &text) == nil {
			out = append(out, text)
			continue
		}
		var obj struct {
			Msg     string `json:"msg"`
			Message string `json:"message"`
			Issue   string `json:"issue"`
			Field   string `json:"field"`
		}
		if json.Unmarshal(item, &obj) != nil {
			continue
		}
		switch {
		case obj.Msg != "":
			out = append(out, obj.Msg)
		case obj.Message != "":
			out = append(out, obj.Message)
		case obj.Field != "" || obj.Issue != "":
			out = append(out, strings.TrimSpace(obj.Field+" "+obj.Issue))
		}
	}
	return out
}
