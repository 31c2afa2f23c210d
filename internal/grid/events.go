package grid

import (
	"encoding/json"
	"fmt"
)

// Event is one user input delivered to Editor.Dispatch.
type Event interface {
	Kind() string
}

type MouseDown struct {
	Row   int    `json:"row"`
	Field string `json:"field"`
}

type MouseEnter struct {
	Row   int    `json:"row"`
	Field string `json:"field"`
}

type MouseUp struct{}

// Click selects a cell. Modifier is Ctrl on most platforms and Cmd on macOS.
type Click struct {
	Row      int    `json:"row"`
	Field    string `json:"field"`
	Modifier bool   `json:"modifier"`
}

// Edit commits a typed value into one cell.
type Edit struct {
	Row   int    `json:"row"`
	Field string `json:"field"`
	Value string `json:"value"`
}

type CopyCells struct{}

type Paste struct {
	Text string `json:"text"`
}

// KeyDown is a key press outside any cell editor. InputFocused reports
// whether a text input had focus, in which case the key belongs to it.
type KeyDown struct {
	Key          string `json:"key"`
	InputFocused bool   `json:"inputFocused"`
}

type BulkFill struct {
	Value string `json:"value"`
}

// SelectRow ticks or unticks a row for pooling.
type SelectRow struct {
	Row     int  `json:"row"`
	Checked bool `json:"checked"`
}

// FinalizePool pools Rows, or the ticked rows when Rows is empty. Values
// are pool fields typed before the pool was created.
type FinalizePool struct {
	Rows   []int             `json:"rows,omitempty"`
	Values map[string]string `json:"values,omitempty"`
}

type EditPool struct {
	Pool  int    `json:"pool"`
	Field string `json:"field"`
	Value string `json:"value"`
}

func (MouseDown) Kind() string    { return "mouse_down" }
func (MouseEnter) Kind() string   { return "mouse_enter" }
func (MouseUp) Kind() string      { return "mouse_up" }
func (Click) Kind() string        { return "click" }
func (Edit) Kind() string         { return "edit" }
func (CopyCells) Kind() string    { return "copy" }
func (Paste) Kind() string        { return "paste" }
func (KeyDown) Kind() string      { return "key_down" }
func (BulkFill) Kind() string     { return "bulk_fill" }
func (SelectRow) Kind() string    { return "select_row" }
func (FinalizePool) Kind() string { return "finalize_pool" }
func (EditPool) Kind() string     { return "edit_pool" }

// DecodeEvent reads an event from its JSON form, {"type": kind, ...}.
func DecodeEvent(raw []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	var ev Event
	var err error
	switch head.Type {
	case "mouse_down":
		ev, err = decodeInto[MouseDown](raw)
	case "mouse_enter":
		ev, err = decodeInto[MouseEnter](raw)
	case "mouse_up":
		ev = MouseUp{}
	case "click":
		ev, err = decodeInto[Click](raw)
	case "edit":
		ev, err = decodeInto[Edit](raw)
	case "copy":
		ev = CopyCells{}
	case "paste":
		ev, err = decodeInto[Paste](raw)
	case "key_down":
		ev, err = decodeInto[KeyDown](raw)
	case "bulk_fill":
		ev, err = decodeInto[BulkFill](raw)
	case "select_row":
		ev, err = decodeInto[SelectRow](raw)
	case "finalize_pool":
		ev, err = decodeInto[FinalizePool](raw)
	case "edit_pool":
		ev, err = decodeInto[EditPool](raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s event: %w", head.Type, err)
	}
	return ev, nil
}

func decodeInto[T Event](raw []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, err
	}
	return ev, nil
}
