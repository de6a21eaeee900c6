package styles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatSuccess(t *testing.T) {
	result := FormatSuccess("test message")
	assert.Contains(t, result, IconSuccess)
	assert.Contains(t, result, "test message")
}

func TestFormatError(t *testing.T) {
	result := FormatError("error message")
	assert.Contains(t, result, IconError)
	assert.Contains(t, result, "error message")
}

func TestFormatWarning(t *testing.T) {
	result := FormatWarning("warning message")
	assert.Contains(t, result, IconWarning)
	assert.Contains(t, result, "warning message")
}

func TestFormatInfo(t *testing.T) {
	result := FormatInfo("info message")
	assert.Contains(t, result, IconInfo)
	assert.Contains(t, result, "info message")
}

func TestFormatKeyValue(t *testing.T) {
	result := FormatKeyValue("Applied", "42")
	assert.Contains(t, result, "Applied")
	assert.Contains(t, result, "42")
}

func TestDisableColors(t *testing.T) {
	// Store original values
	originalPrimary := Primary
	originalSuccess := Success

	DisableColors()

	assert.Equal(t, "", string(Primary))
	assert.Equal(t, "", string(Success))

	// Restore original values for other tests
	Primary = originalPrimary
	Success = originalSuccess
}

func TestIcons(t *testing.T) {
	assert.NotEmpty(t, IconSuccess)
	assert.NotEmpty(t, IconError)
	assert.NotEmpty(t, IconWarning)
	assert.NotEmpty(t, IconInfo)
	assert.NotEmpty(t, IconArrow)
	assert.NotEmpty(t, IconDot)
}

func TestStyles(t *testing.T) {
	// Test that styles can be rendered without panic
	assert.NotPanics(t, func() {
		_ = Bold.Render("test")
		_ = Title.Render("test")
		_ = Subtitle.Render("test")
		_ = Normal.Render("test")
		_ = Muted.Render("test")
		_ = Highlight.Render("test")
		_ = Code.Render("test")
		_ = SuccessStyle.Render("test")
		_ = WarningStyle.Render("test")
		_ = ErrorStyle.Render("test")
		_ = InfoStyle.Render("test")
		_ = Box.Render("test content")
	})
}
