package ui

// MenuHint describes a keyboard shortcut for display in the menu.
type MenuHint struct {
	Key         string
	Description string
	Numeric     bool // digit shortcuts render in their own color
}

// Component is implemented by every page of the app. Name feeds the
// breadcrumbs and Hints the header menu.
type Component interface {
	Name() string
	Hints() []MenuHint
}
