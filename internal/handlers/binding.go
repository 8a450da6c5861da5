package handlers

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"
)

// BindNestedOrFlat decodes the request body into obj. Clients may wrap the
// attributes under a root key, {"plan": {...}}, or post them flat, {...};
// both forms decode identically. The wrapped form wins when the key is
// present.
func BindNestedOrFlat(c *gin.Context, key string, obj interface{}) error {
	var body []byte
	if c.Request.Body != nil {
		body, _ = io.ReadAll(c.Request.Body)
	}
	// Leave the body readable for any later middleware.
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err == nil {
		if inner, ok := envelope[key]; ok {
			return json.Unmarshal(inner, obj)
		}
	}

	return json.Unmarshal(body, obj)
}
