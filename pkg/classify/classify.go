// Package classify resolves raw message payloads into semantic kinds.
//
// Input arrives in three textures: a plain string, a JSON-encoded string
// whose object carries a "type" field, or an already-structured
// custom-extension bag. Classification is pure and never fails: anything
// unrecognizable degrades to text, and the explicitly suppressed shapes
// (call initiate, call end with no duration, empty product lists,
// healthCoachChanged signals) come back as KindHidden.
package classify

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"fpchat/pkg/models"
)

// Payload is the classification result. Exactly the fields for Kind are set.
// IncomingCall is populated for hidden call/initiate payloads so callers can
// still raise the call-UI notification.
type Payload struct {
	Kind models.Kind
	Body string

	Image               *models.ImageContent
	Audio               *models.AudioContent
	File                *models.FileContent
	Products            []models.Product
	RecommendedProducts *models.RecommendedProducts
	Call                *models.CallContent
	System              *models.SystemContent

	IncomingCall *models.IncomingCall
}

// Hidden reports whether the payload must never be rendered or retained.
func (p Payload) Hidden() bool { return p.Kind == models.KindHidden }

// Classify inspects a raw string payload and resolves its kind.
func Classify(raw string) Payload {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "[") {
		var arr []map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &arr); err == nil && len(arr) > 0 {
			if p, ok := classifyActionList(arr[0]); ok {
				return p
			}
		}
	}
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
			return ClassifyMap(obj)
		}
	}
	// Not JSON at all: plain text as-is.
	return Payload{Kind: models.KindText, Body: raw}
}

// ClassifyMap classifies an already-decoded payload object, typically a
// custom-extension bag delivered by the SDK.
func ClassifyMap(obj map[string]interface{}) Payload {
	typ := strings.ToLower(strings.TrimSpace(str(obj["type"])))
	switch typ {
	case "text":
		// Live payloads carry "body"; backend rows carry "message".
		body := str(obj["body"])
		if body == "" {
			body = str(obj["message"])
		}
		return Payload{Kind: models.KindText, Body: body}
	case "image":
		u := str(obj["url"])
		name := str(obj["fileName"])
		if name == "" {
			name = fileNameFromURL(u)
		}
		return Payload{
			Kind:  models.KindImage,
			Body:  u,
			Image: &models.ImageContent{URL: u, FileName: name},
		}
	case "audio":
		return classifyAudio(obj)
	case "file":
		return classifyFile(obj)
	case "products":
		return classifyProducts(obj)
	case "call":
		return classifyCall(obj)
	case "meal_plan_updated", "mealplanupdated", "meal_plan_update":
		return Payload{
			Kind:   models.KindSystem,
			Body:   SystemLabel(&models.SystemContent{Subtype: "meal_plan_updated"}),
			System: &models.SystemContent{Subtype: "meal_plan_updated"},
		}
	case "healthcoachchanged", "mealplanupdate", "healthcoachchangedate":
		// Internal signals, never shown.
		return Payload{Kind: models.KindHidden}
	case "system":
		if p, ok := classifyActionList(obj); ok {
			return p
		}
		return fallbackText(obj)
	default:
		// Unrecognized or missing type: surface as text with the
		// best-effort body so nothing is silently dropped.
		return fallbackText(obj)
	}
}

// classifyActionList handles the legacy structural variant where the payload
// is (the first element of) a list with an "action_type" discriminator.
func classifyActionList(obj map[string]interface{}) (Payload, bool) {
	action := str(obj["action_type"])
	switch action {
	case "recommended_products":
		rp := &models.RecommendedProducts{
			Title:       str(obj["title"]),
			Description: str(obj["description"]),
			ProductList: recommendedList(obj["product_list"]),
		}
		body := rp.Title
		if body == "" {
			body = "Recommended products"
		}
		return Payload{Kind: models.KindRecommendedProducts, Body: body, RecommendedProducts: rp}, true
	case "coach_assigned", "coach_details":
		sys := &models.SystemContent{
			ActionType:         action,
			Title:              str(obj["title"]),
			Description:        str(obj["description"]),
			IconsDetails:       iconsDetails(obj["icons_details"]),
			RedirectionDetails: redirectionDetails(obj["redirection_details"]),
		}
		body := sys.Title
		if body == "" {
			body = "Coach message"
		}
		return Payload{Kind: models.KindSystem, Body: body, System: sys}, true
	}
	return Payload{}, false
}

func classifyAudio(obj map[string]interface{}) Payload {
	u := str(obj["url"])
	return Payload{
		Kind: models.KindAudio,
		Body: "Audio message",
		Audio: &models.AudioContent{
			URL:           u,
			DurationMs:    NormalizeDurationMs(obj["duration"]),
			Transcription: str(obj["transcription"]),
		},
	}
}

func classifyFile(obj map[string]interface{}) Payload {
	u := str(obj["url"])
	name := str(obj["fileName"])
	if name == "" {
		name = fileNameFromURL(u)
	}
	return Payload{
		Kind: models.KindFile,
		Body: name,
		File: &models.FileContent{
			URL:       u,
			FileName:  name,
			MimeType:  str(obj["mimeType"]),
			SizeBytes: int64(num(obj["size"])),
		},
	}
}

func classifyProducts(obj map[string]interface{}) Payload {
	list := productList(obj["products"])
	// Empty product messages must never render.
	if len(list) == 0 {
		return Payload{Kind: models.KindHidden}
	}
	return Payload{Kind: models.KindProducts, Body: "Products", Products: list}
}

func classifyCall(obj map[string]interface{}) Payload {
	callType := str(obj["callType"])
	if callType != "video" && callType != "audio" {
		callType = "video"
	}
	action := str(obj["action"])
	duration := num(obj["duration"])
	channel := str(obj["channel"])

	if action == models.CallActionInitiate {
		// Never shown proactively; the summary appears only once the call
		// ends with both parties connected. Still raise the call signal.
		p := Payload{Kind: models.KindHidden}
		if channel != "" {
			p.IncomingCall = &models.IncomingCall{
				From:     str(obj["from"]),
				Channel:  channel,
				CallID:   channel,
				CallType: callType,
			}
		}
		return p
	}
	if action == models.CallActionEnd && duration <= 0 {
		// Call ended before the remote party joined; nothing to summarize.
		return Payload{Kind: models.KindHidden}
	}
	label := "Audio call"
	if callType == "video" {
		label = "Video call"
	}
	return Payload{
		Kind: models.KindCall,
		Body: label,
		Call: &models.CallContent{
			Type:            callType,
			Action:          action,
			DurationSeconds: duration,
			Channel:         channel,
		},
	}
}

// fallbackText degrades an unrecognized object to a text record carrying its
// best-effort string representation.
func fallbackText(obj map[string]interface{}) Payload {
	if body := str(obj["body"]); body != "" {
		return Payload{Kind: models.KindText, Body: body}
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return Payload{Kind: models.KindText}
	}
	return Payload{Kind: models.KindText, Body: string(b)}
}

// productList accepts either a decoded array or a JSON-encoded string of one.
func productList(v interface{}) []models.Product {
	switch t := v.(type) {
	case string:
		var list []models.Product
		if err := json.Unmarshal([]byte(t), &list); err != nil {
			return nil
		}
		return list
	case []interface{}:
		b, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		var list []models.Product
		if err := json.Unmarshal(b, &list); err != nil {
			return nil
		}
		return list
	}
	return nil
}

func recommendedList(v interface{}) []models.RecommendedProduct {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	b, err := json.Marshal(arr)
	if err != nil {
		return nil
	}
	var list []models.RecommendedProduct
	if err := json.Unmarshal(b, &list); err != nil {
		return nil
	}
	return list
}

func iconsDetails(v interface{}) *models.IconsDetails {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	return &models.IconsDetails{LeftIcon: str(m["left_icon"]), RightIcon: str(m["right_icon"])}
}

func redirectionDetails(v interface{}) []models.RedirectionDetail {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	b, err := json.Marshal(arr)
	if err != nil {
		return nil
	}
	var list []models.RedirectionDetail
	if err := json.Unmarshal(b, &list); err != nil {
		return nil
	}
	return list
}

// NormalizeDurationMs converts an upstream duration value to milliseconds.
// Producers are inconsistent about units: numeric values below 3600 are taken
// to be seconds and scaled by 1000, larger values are assumed to already be
// milliseconds. A >1h audio clip expressed in seconds would be misread as
// milliseconds; known ambiguity inherited from the producers, kept as-is.
func NormalizeDurationMs(v interface{}) int64 {
	d := num(v)
	if d <= 0 {
		return 0
	}
	if d < 3600 {
		return int64(d * 1000)
	}
	return int64(d)
}

// fileNameFromURL derives a displayable file name from the URL path.
func fileNameFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	parts := strings.Split(strings.TrimSuffix(u.Path, "/"), "/")
	last := parts[len(parts)-1]
	if last == "" {
		return raw
	}
	if dec, err := url.PathUnescape(last); err == nil {
		return dec
	}
	return last
}

// str coerces an interface value to a string, stringifying numbers.
func str(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

// num coerces an interface value to a float64, parsing numeric strings.
func num(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}
