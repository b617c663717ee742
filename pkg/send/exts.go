package send

import (
	"strconv"

	"fpchat/pkg/classify"
)

// BuildCustomExts builds the flat custom-extension bag for an outgoing
// structured payload, keyed on its "type" field. The transport channel is
// text-oriented, so scalar values are stringified the way the receiving
// clients expect. Returns nil when the payload carries no type.
func BuildCustomExts(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	typ, _ := payload["type"].(string)
	if typ == "" {
		return nil
	}
	switch typ {
	case "image":
		return map[string]interface{}{
			"type":   "image",
			"url":    strOr(payload["url"], ""),
			"height": numStr(payload["height"], "720"),
			"width":  numStr(payload["width"], "1280"),
		}
	case "audio":
		ms := classify.NormalizeDurationMs(payload["duration"])
		return map[string]interface{}{
			"type":          "audio",
			"url":           strOr(payload["url"], ""),
			"transcription": strOr(payload["transcription"], ""),
			// Wire unit is seconds.
			"duration": strconv.FormatInt(ms/1000, 10),
		}
	case "file":
		return map[string]interface{}{
			"type":     "file",
			"url":      strOr(payload["url"], ""),
			"fileName": strOr(payload["fileName"], ""),
			"mimeType": strOr(payload["mimeType"], "application/octet-stream"),
			"size":     numStr(payload["size"], "0"),
		}
	case "meal_plan_updated":
		return map[string]interface{}{"type": "meal_plan_updated"}
	case "products":
		products, _ := payload["products"].([]interface{})
		if products == nil {
			products = []interface{}{}
		}
		return map[string]interface{}{"type": "products", "products": products}
	case "call":
		action := strOr(payload["action"], "initiate")
		callType := strOr(payload["callType"], "video")
		return map[string]interface{}{
			"type":     "call",
			"callType": callType,
			"channel":  strOr(payload["channel"], ""),
			"from":     strOr(payload["from"], ""),
			"to":       strOr(payload["to"], ""),
			"action":   action,
			// Seconds; 0 for initiate, the call length on end.
			"duration": numStr(payload["duration"], "0"),
		}
	case "system":
		productList, _ := payload["product_list"].([]interface{})
		if productList == nil {
			productList = []interface{}{}
		}
		return map[string]interface{}{
			"type":         "system",
			"action_type":  strOr(payload["action_type"], ""),
			"title":        strOr(payload["title"], ""),
			"description":  strOr(payload["description"], ""),
			"product_list": productList,
		}
	default:
		// Unknown types pass through verbatim.
		return payload
	}
}

func strOr(v interface{}, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

func numStr(v interface{}, def string) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case string:
		if t != "" {
			return t
		}
	}
	return def
}
