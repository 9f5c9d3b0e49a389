// Package picker は端末上で MIDI 出力デバイスを選ばせる。
package picker

import (
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
)

// ErrCanceled は選択せずに抜けた場合。
var ErrCanceled = errors.New("デバイス選択を中止しました")

// ErrNotInteractive は端末でないため選択できない場合。
var ErrNotInteractive = errors.New("端末ではないためデバイスを選択できません（-device を指定してください）")

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	cursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	itemStyle   = lipgloss.NewStyle().PaddingLeft(2)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type model struct {
	title    string
	items    []string
	cursor   int
	chosen   int
	canceled bool
}

func newModel(title string, items []string) model {
	return model{title: title, items: items, chosen: -1}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}
	case "enter":
		m.chosen = m.cursor
		return m, tea.Quit
	case "q", "esc", "ctrl+c":
		m.canceled = true
		return m, tea.Quit
	default:
		// 数字キーで直接選ぶ
		if s := key.String(); len(s) == 1 && s[0] >= '1' && s[0] <= '9' {
			if i := int(s[0] - '1'); i < len(m.items) {
				m.cursor = i
				m.chosen = i
				return m, tea.Quit
			}
		}
	}
	return m, nil
}

func (m model) View() string {
	if m.chosen >= 0 || m.canceled {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")
	for i, it := range m.items {
		line := fmt.Sprintf("%d. %s", i+1, it)
		if i == m.cursor {
			b.WriteString(cursorStyle.Render("> " + line))
		} else {
			b.WriteString(itemStyle.Render(line))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓ で移動、Enter で決定、q で中止"))
	b.WriteString("\n")
	return b.String()
}

// Interactive は標準入力と標準エラーが端末かどうか。
func Interactive() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stderr.Fd())
}

// Pick は items から 1 つ選ばせ、その添字を返す。
func Pick(title string, items []string, in io.Reader, out io.Writer) (int, error) {
	if len(items) == 0 {
		return -1, errors.New("選択肢がありません")
	}
	p := tea.NewProgram(newModel(title, items), tea.WithInput(in), tea.WithOutput(out))
	res, err := p.Run()
	if err != nil {
		return -1, errors.Wrap(err, "デバイス選択画面の起動に失敗")
	}
	m := res.(model)
	if m.canceled || m.chosen < 0 {
		return -1, ErrCanceled
	}
	return m.chosen, nil
}
