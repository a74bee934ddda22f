package chatplatform

import "testing"

func TestToInlineKeyboard_NilKeyboardReturnsNil(t *testing.T) {
	if got := toInlineKeyboard(nil); got != nil {
		t.Errorf("toInlineKeyboard(nil) = %+v, want nil", got)
	}
}

func TestToInlineKeyboard_EmptyRowsReturnsNil(t *testing.T) {
	kb := &Keyboard{Rows: [][]Button{}}
	if got := toInlineKeyboard(kb); got != nil {
		t.Errorf("toInlineKeyboard(empty rows) = %+v, want nil", got)
	}
}

func TestToInlineKeyboard_SingleRowMapsTextAndCallbackData(t *testing.T) {
	kb := &Keyboard{Rows: [][]Button{
		{{Text: "Counter-measures", CallbackData: "counter_measures"}},
	}}
	got := toInlineKeyboard(kb)
	if got == nil {
		t.Fatal("toInlineKeyboard returned nil for a non-empty keyboard")
	}
	if len(got.InlineKeyboard) != 1 || len(got.InlineKeyboard[0]) != 1 {
		t.Fatalf("InlineKeyboard shape = %+v, want 1 row of 1 button", got.InlineKeyboard)
	}
	btn := got.InlineKeyboard[0][0]
	if btn.Text != "Counter-measures" {
		t.Errorf("Text = %q, want %q", btn.Text, "Counter-measures")
	}
	if btn.CallbackData == nil || *btn.CallbackData != "counter_measures" {
		t.Errorf("CallbackData = %v, want %q", btn.CallbackData, "counter_measures")
	}
}

func TestToInlineKeyboard_MultiRowPreservesRowOrderAndButtonCount(t *testing.T) {
	kb := &Keyboard{Rows: [][]Button{
		{{Text: "A", CallbackData: "a"}, {Text: "B", CallbackData: "b"}},
		{{Text: "C", CallbackData: "c"}},
	}}
	got := toInlineKeyboard(kb)
	if len(got.InlineKeyboard) != 2 {
		t.Fatalf("row count = %d, want 2", len(got.InlineKeyboard))
	}
	if len(got.InlineKeyboard[0]) != 2 {
		t.Errorf("row 0 button count = %d, want 2", len(got.InlineKeyboard[0]))
	}
	if len(got.InlineKeyboard[1]) != 1 {
		t.Errorf("row 1 button count = %d, want 1", len(got.InlineKeyboard[1]))
	}
	if got.InlineKeyboard[1][0].Text != "C" {
		t.Errorf("row 1 button 0 text = %q, want %q", got.InlineKeyboard[1][0].Text, "C")
	}
}
