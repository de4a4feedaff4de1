package actions

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jotlabs/jot-core/internal/protocol"
)

var (
	reCJKThenASCII  = regexp.MustCompile(`([\x{4e00}-\x{9fff}])([A-Za-z0-9])`)
	reASCIIThenCJK  = regexp.MustCompile(`([A-Za-z0-9])([\x{4e00}-\x{9fff}])`)
	reCJK           = regexp.MustCompile(`[\x{4e00}-\x{9fff}]`)
	reTrailingPunct = regexp.MustCompile(`[.!?\x{3002}\x{ff01}\x{ff1f}\x{2026}]+$`)
	reCNComma       = regexp.MustCompile(`[\x{ff0c},]`)
	reCNConnector   = regexp.MustCompile(`(但是|不过|然后|所以|因此|而且|并且|同时|另外|因为|如果|虽然|接着|随后)`)
	reZHTailQ       = regexp.MustCompile(`(吗|么)\s*$`)
	reZHPhraseQ     = regexp.MustCompile(`(是不是|是否|能不能|可不可以|可以吗|要不要|需不需要|有没有)`)
	reZHLeadQ       = regexp.MustCompile(`^(怎么|为什么|为啥|多少|几|哪(里|儿|个|些|种|位)?|谁|啥|什么|何时|什么时候)`)
	reENLeadQ       = regexp.MustCompile(`^(can|could|would|should|do|does|did|is|are|am|was|were|what|why|how|when|where|which|who)\b`)
	reKeyStrip      = regexp.MustCompile(`[\s,.!?;:\x{ff0c}\x{3002}\x{ff01}\x{ff1f}\x{ff1b}\x{ff1a}]`)
)

// Interpreter maps a finalized transcript into an ordered action list.
// Spoken command phrases become structural edits, punctuation phrases become
// literal punctuation, everything else becomes plain inserts. Longer phrases
// win over shorter ones ("delete last word" before bare "delete").
type Interpreter struct {
	commands  map[string][]protocol.Action
	maxTokens int
}

// NewInterpreter builds the interpreter with the built-in zh/en phrase
// tables. Command packs extend it through AddPhrase.
func NewInterpreter() *Interpreter {
	in := &Interpreter{commands: make(map[string][]protocol.Action)}

	insert := func(text string) []protocol.Action {
		return []protocol.Action{{Type: protocol.ActionInsert, Text: text}}
	}
	add := func(actions []protocol.Action, phrases ...string) {
		for _, p := range phrases {
			in.AddPhrase(p, actions)
		}
	}

	add(insert("\n"), "换行", "回车", "下一行", "new line", "newline", "enter")
	add(insert(" "), "空格", "space")
	add([]protocol.Action{{Type: protocol.ActionDeleteBackward, Count: 1}},
		"删除", "退格", "backspace", "delete")
	add([]protocol.Action{{Type: protocol.ActionDeleteBackwardWord, Count: 1}},
		"删除一个词", "删除上一个词", "delete word", "delete last word")
	add([]protocol.Action{{Type: protocol.ActionDeleteBackwardSentence, Count: 1}},
		"删除一句", "删除上一句", "delete sentence", "delete last sentence")
	add([]protocol.Action{{Type: protocol.ActionSystemUndo}}, "撤销", "undo")
	add([]protocol.Action{{Type: protocol.ActionSystemRedo}}, "重做", "redo")
	add([]protocol.Action{{Type: protocol.ActionClear}}, "清空", "清除", "clear")

	punct := map[string]string{
		"逗号": "，", "句号": "。", "问号": "？", "感叹号": "！", "冒号": "：", "分号": "；",
		"comma": ",", "period": ".", "question mark": "?",
		"exclamation mark": "!", "colon": ":", "semicolon": ";",
	}
	for phrase, mark := range punct {
		in.AddPhrase(phrase, insert(mark))
	}

	// Spoken prompt/bias phrases must never be injected as text.
	add([]protocol.Action{},
		"请优先使用简体中文标点与表达，保留英文单词",
		"请使用简体中文标点与表达，保留英文单词",
		"请优先使用简体中文标点与表达，保留英文单词/缩写原样")

	return in
}

// AddPhrase registers a spoken phrase for an action sequence. Matching is
// insensitive to case, spacing and surrounding punctuation.
func (in *Interpreter) AddPhrase(phrase string, actions []protocol.Action) {
	key := commandKey(phrase)
	if key == "" {
		return
	}
	in.commands[key] = append([]protocol.Action(nil), actions...)
	if n := len(strings.Fields(phrase)); n > in.maxTokens {
		in.maxTokens = n
	}
}

// Interpret produces the ordered action list for a finalized transcript.
// An empty or silence-only transcript yields an empty list.
func (in *Interpreter) Interpret(text string) []protocol.Action {
	text = strings.TrimSpace(NormalizeSpacing(text))
	if text == "" {
		return nil
	}

	if actions, ok := in.match(text); ok {
		return actions
	}

	fields := strings.Fields(text)
	var out []protocol.Action
	var literal []string
	matched := false

	flush := func() {
		if len(literal) == 0 {
			return
		}
		out = append(out, protocol.Action{Type: protocol.ActionInsert, Text: strings.Join(literal, " ")})
		literal = nil
	}

	for i := 0; i < len(fields); {
		n := in.maxTokens
		if rest := len(fields) - i; n > rest {
			n = rest
		}
		var hit []protocol.Action
		var hitLen int
		for ; n >= 1; n-- {
			if actions, ok := in.match(strings.Join(fields[i:i+n], " ")); ok {
				hit, hitLen = actions, n
				break
			}
		}
		if hitLen > 0 {
			flush()
			out = append(out, hit...)
			matched = true
			i += hitLen
			continue
		}
		literal = append(literal, fields[i])
		i++
	}

	if !matched {
		// Plain dictation: one insert of the whole normalized
		// transcript, with spoken-tone punctuation applied.
		t := ApplyTonePunctuation(text)
		if t == "" {
			return nil
		}
		return []protocol.Action{{Type: protocol.ActionInsert, Text: t}}
	}
	flush()
	return out
}

func (in *Interpreter) match(text string) ([]protocol.Action, bool) {
	key := commandKey(text)
	if key == "" {
		return nil, false
	}
	actions, ok := in.commands[key]
	if !ok {
		return nil, false
	}
	return append([]protocol.Action(nil), actions...), true
}

// commandKey normalizes a spoken phrase for lookup: lowercase with spacing
// and punctuation stripped, so minor recognizer differences don't turn a
// command into injected text.
func commandKey(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.Trim(t, "\r\n\t ,.!?;:，。！？；：")
	return reKeyStrip.ReplaceAllString(t, "")
}

// NormalizeSpacing inserts single spaces at CJK/ASCII boundaries to improve
// mixed zh+en readability.
func NormalizeSpacing(text string) string {
	text = reCJKThenASCII.ReplaceAllString(text, "$1 $2")
	text = reASCIIThenCJK.ReplaceAllString(text, "$1 $2")
	return text
}

// ApplyTonePunctuation terminates a transcript with sentence punctuation
// matched to its language and tone: question marks for question-shaped
// utterances, full stops otherwise. Existing terminal punctuation is kept,
// except an ASCII period on a CJK sentence, which becomes 。
func ApplyTonePunctuation(text string) string {
	t := strings.TrimSpace(text)
	if t == "" {
		return t
	}
	hasCJK := reCJK.MatchString(t)
	base := strings.TrimSpace(reTrailingPunct.ReplaceAllString(t, ""))
	if base == "" {
		return t
	}
	base = maybeInsertCNComma(base)
	if looksLikeQuestion(base) {
		if hasCJK {
			return base + "？"
		}
		return base + "?"
	}
	if reTrailingPunct.MatchString(t) {
		if hasCJK && strings.HasSuffix(t, ".") {
			return base + "。"
		}
		return t
	}
	if hasCJK {
		return base + "。"
	}
	return base + "."
}

func looksLikeQuestion(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	t = strings.TrimSpace(reTrailingPunct.ReplaceAllString(t, ""))
	if t == "" {
		return false
	}
	if reZHTailQ.MatchString(t) || reZHPhraseQ.MatchString(t) || reZHLeadQ.MatchString(t) {
		return true
	}
	return reENLeadQ.MatchString(strings.ToLower(t))
}

// maybeInsertCNComma breaks one long comma-less Chinese clause at its first
// connector word. Short clauses are left alone.
func maybeInsertCNComma(text string) string {
	if text == "" || !reCJK.MatchString(text) || reCNComma.MatchString(text) {
		return text
	}
	if utf8.RuneCountInString(text) < 14 {
		return text
	}
	loc := reCNConnector.FindStringIndex(text)
	if loc == nil || loc[0] <= 1 {
		return text
	}
	return text[:loc[0]] + "，" + text[loc[0]:]
}
