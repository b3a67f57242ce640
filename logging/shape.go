package logging

// Records carrying TypeKey are rendered by shape-specific display adapters
// in the browser; untagged records fall back to the level/message adapter.
const (
	TypeKey    = "__type"
	ShapeAPI   = "api"
	ShapeQuery = "query"
)

func APIFields(method, url string, status int, ms int64) Fields {
	return Fields{
		TypeKey:  ShapeAPI,
		"method": method,
		"url":    url,
		"status": status,
		"ms":     ms,
	}
}

func QueryFields(query string, params []interface{}, ms int64) Fields {
	if params == nil {
		params = []interface{}{}
	}
	return Fields{
		TypeKey:  ShapeQuery,
		"query":  query,
		"params": params,
		"ms":     ms,
	}
}
