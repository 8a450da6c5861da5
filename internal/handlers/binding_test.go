package handlers

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type bindTarget struct {
	CustomerID   string  `json:"customer_id"`
	TotalPrice   float64 `json:"total_price"`
	Installments int     `json:"installments"`
}

func TestBindNestedOrFlat(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name        string
		key         string
		body        string
		expected    bindTarget
		expectError bool
	}{
		{
			name:     "wrapped under the root key",
			key:      "plan",
			body:     `{"plan": {"customer_id": "cust-1", "total_price": 900, "installments": 6}}`,
			expected: bindTarget{CustomerID: "cust-1", TotalPrice: 900, Installments: 6},
		},
		{
			name:     "flat attributes",
			key:      "plan",
			body:     `{"customer_id": "cust-2", "total_price": 450.50, "installments": 3}`,
			expected: bindTarget{CustomerID: "cust-2", TotalPrice: 450.50, Installments: 3},
		},
		{
			name:     "root key absent falls back to flat",
			key:      "plan",
			body:     `{"other": "value", "customer_id": "cust-3", "installments": 12}`,
			expected: bindTarget{CustomerID: "cust-3", Installments: 12},
		},
		{
			name:     "different root key",
			key:      "modification",
			body:     `{"modification": {"customer_id": "cust-4", "total_price": 120}}`,
			expected: bindTarget{CustomerID: "cust-4", TotalPrice: 120},
		},
		{
			name:        "flat body with wrong field type",
			key:         "plan",
			body:        `{"customer_id": "cust-5", "installments": "six"}`,
			expectError: true,
		},
		{
			name:        "wrapped body with wrong field type",
			key:         "plan",
			body:        `{"plan": {"customer_id": "cust-6", "installments": "six"}}`,
			expectError: true,
		},
		{
			name:        "root key holds a scalar",
			key:         "plan",
			body:        `{"plan": "not an object"}`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest("POST", "/", bytes.NewBufferString(tt.body))
			c.Request.Header.Set("Content-Type", "application/json")

			var result bindTarget
			err := BindNestedOrFlat(c, tt.key, &result)

			if tt.expectError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}
