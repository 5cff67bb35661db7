package color

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestMarker(t *testing.T) {
	for _, status := range []Status{StatusTest, StatusSkip, StatusPass, StatusFail} {
		assert.Contains(t, Marker(status), "["+string(status)+"]")
	}
	assert.Equal(t, "[WAIT]", Marker(Status("WAIT")))
}

func TestStylesRenderText(t *testing.T) {
	for _, style := range []lipgloss.Style{PrimaryStyle, SuccessStyle, ErrorStyle, WarningStyle, InfoStyle, SubtleStyle} {
		assert.Contains(t, style.Render("run 42"), "run 42")
	}
}
