package schemas

// ElementInfo describes one interactive element found on the page.
type ElementInfo struct {
	Index       int    `json:"index"`
	Type        string `json:"type"` // button, link, input
	Tag         string `json:"tag"`
	Text        string `json:"text,omitempty"`
	AriaLabel   string `json:"aria_label,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Label       string `json:"label,omitempty"`
	Name        string `json:"name,omitempty"`
	ID          string `json:"id,omitempty"`
	Href        string `json:"href,omitempty"`
	InputType   string `json:"input_type,omitempty"`
	Classes     string `json:"classes,omitempty"`
	Selector    string `json:"selector"`
}

// ModalInfo describes a visible dialog.
type ModalInfo struct {
	Text string `json:"text"`
	Role string `json:"role,omitempty"`
	ID   string `json:"id,omitempty"`
}

// FormField is one control inside a form.
type FormField struct {
	Type        string `json:"type"`
	Name        string `json:"name,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Label       string `json:"label,omitempty"`
}

// FormInfo describes a visible form.
type FormInfo struct {
	ID     string      `json:"id,omitempty"`
	Action string      `json:"action,omitempty"`
	Method string      `json:"method,omitempty"`
	Inputs []FormField `json:"inputs"`
}

// MaxVisibleText bounds the page text carried in a PageState.
const MaxVisibleText = 5000

// PageState is a structured snapshot of the page used for grounding and evaluation.
type PageState struct {
	URL                 string        `json:"url"`
	Title               string        `json:"title"`
	VisibleText         string        `json:"visible_text"`
	InteractiveElements []ElementInfo `json:"interactive_elements"`
	ModalsOpen          []ModalInfo   `json:"modals_open"`
	FormsPresent        []FormInfo    `json:"forms_present"`
	PageLoaded          bool          `json:"page_loaded"`
}
