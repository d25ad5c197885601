package validation

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/Adam-Maverick/perks-app-sub000/internal/idgen"
)

func TestIsValidID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{idgen.WithPrefix("hold_"), true},
		{idgen.WithPrefix("dsp_"), true},
		{"txn_0123456789abcdef01234567", true},

		// Invalid cases
		{"0123456789abcdef01234567", false},       // No prefix
		{"hold_0123456789abcdef0123456", false},   // Too short
		{"hold_0123456789abcdef012345678", false}, // Too long
		{"hold_0123456789ABCDEF01234567", false},  // Uppercase hex
		{"hold_ghijkl6789abcdef01234567", false},  // Invalid chars
		{"", false},
		{"hold_", false},
	}

	for _, tc := range tests {
		result := IsValidID(tc.id)
		if result != tc.valid {
			t.Errorf("IsValidID(%q) = %v, want %v", tc.id, result, tc.valid)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	// Test valid input
	errors := Validate(
		Required("reason", "item never arrived"),
		PositiveAmount("amount", 5000),
	)
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}

	// Test invalid input
	errors = Validate(
		Required("reason", "  "),
		PositiveAmount("amount", 0),
	)
	if len(errors) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(errors))
	}
	if errors.Error() != "reason: is required" {
		t.Errorf("Error() = %q", errors.Error())
	}
}

func TestPositiveAmount(t *testing.T) {
	tests := []struct {
		value int64
		valid bool
	}{
		{1, true},
		{5000, true},
		{0, false},
		{-100, false},
	}

	for _, tc := range tests {
		err := PositiveAmount("amount", tc.value)()
		valid := err == nil
		if valid != tc.valid {
			t.Errorf("PositiveAmount(%d) valid=%v, want %v", tc.value, valid, tc.valid)
		}
	}
}

func TestMaxLength(t *testing.T) {
	// Under limit
	err := MaxLength("field", "hello", 10)()
	if err != nil {
		t.Error("Expected no error for string under limit")
	}

	// At limit
	err = MaxLength("field", "hello", 5)()
	if err != nil {
		t.Error("Expected no error for string at limit")
	}

	// Over limit
	err = MaxLength("field", "hello world", 5)()
	if err == nil {
		t.Error("Expected error for string over limit")
	}
}

func TestIDParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/holds/:holdId", IDParamMiddleware("holdId"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	good := httptest.NewRecorder()
	r.ServeHTTP(good, httptest.NewRequest("GET", "/holds/"+idgen.WithPrefix("hold_"), nil))
	if good.Code != http.StatusOK {
		t.Errorf("Valid id: expected 200, got %d", good.Code)
	}

	bad := httptest.NewRecorder()
	r.ServeHTTP(bad, httptest.NewRequest("GET", "/holds/DROP%20TABLE", nil))
	if bad.Code != http.StatusBadRequest {
		t.Errorf("Invalid id: expected 400, got %d", bad.Code)
	}
}
