// Package ui styles plain CLI output with [lipgloss].
//
// A [Palette] is bound to the writer it renders for, so output to a pipe or a buffer
// stays free of escape sequences while a terminal gets bold status marks and headers.
package ui
