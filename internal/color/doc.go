// Package color provides the terminal palette and status markers for
// clustertest's console output.
//
// Colors are adaptive lipgloss colors, so they render sensibly on dark and
// light backgrounds. Profile detection (TrueColor, 256, 16, none) is left to
// lipgloss, which honours NO_COLOR and degrades to plain text when stdout is
// not a terminal.
//
// # Usage Example
//
//	fmt.Println(color.Marker(color.StatusPass), unitName)
//	fmt.Println(color.ErrorStyle.Render("boom"))
package color
