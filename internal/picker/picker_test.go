package picker

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func press(m model, keys ...tea.KeyMsg) model {
	for _, k := range keys {
		next, _ := m.Update(k)
		m = next.(model)
	}
	return m
}

var (
	down  = tea.KeyMsg{Type: tea.KeyDown}
	up    = tea.KeyMsg{Type: tea.KeyUp}
	enter = tea.KeyMsg{Type: tea.KeyEnter}
	esc   = tea.KeyMsg{Type: tea.KeyEsc}
)

func TestNavigateAndChoose(t *testing.T) {
	m := newModel("出力先", []string{"Midi Through", "FLUID Synth", "Pianoteq"})
	m = press(m, down, down, down, up, enter)
	if m.chosen != 1 {
		t.Fatalf("chosen=%d", m.chosen)
	}
	if m.View() != "" {
		t.Fatal("view should clear after choosing")
	}
}

func TestDigitShortcutAndCancel(t *testing.T) {
	m := newModel("出力先", []string{"a", "b", "c"})
	if !strings.Contains(m.View(), "> 1. a") {
		t.Fatalf("view=%q", m.View())
	}
	m = press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("3")})
	if m.chosen != 2 {
		t.Fatalf("digit chose %d", m.chosen)
	}

	c := press(newModel("出力先", []string{"a"}), esc)
	if !c.canceled || c.chosen != -1 {
		t.Fatalf("cancel=%+v", c)
	}
}

func TestPickRequiresItems(t *testing.T) {
	if _, err := Pick("x", nil, strings.NewReader(""), &strings.Builder{}); err == nil {
		t.Fatal("empty list accepted")
	}
}
