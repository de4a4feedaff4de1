package actions

import (
	"reflect"
	"testing"

	"github.com/jotlabs/jot-core/internal/protocol"
)

func TestInterpretPlainDictation(t *testing.T) {
	in := NewInterpreter()
	got := in.Interpret("hello world")
	want := []protocol.Action{{Type: protocol.ActionInsert, Text: "hello world."}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestInterpretEmptyTranscript(t *testing.T) {
	in := NewInterpreter()
	if got := in.Interpret("   "); len(got) != 0 {
		t.Fatalf("silence should produce no actions, got %+v", got)
	}
}

func TestInterpretCommandThenText(t *testing.T) {
	in := NewInterpreter()
	got := in.Interpret("删除 hello")
	want := []protocol.Action{
		{Type: protocol.ActionDeleteBackward, Count: 1},
		{Type: protocol.ActionInsert, Text: "hello"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order matters: got %+v, want %+v", got, want)
	}
}

func TestLongerPhraseWins(t *testing.T) {
	in := NewInterpreter()
	got := in.Interpret("delete last word")
	want := []protocol.Action{{Type: protocol.ActionDeleteBackwardWord, Count: 1}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	got = in.Interpret("delete")
	want = []protocol.Action{{Type: protocol.ActionDeleteBackward, Count: 1}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestWholeUtteranceCommands(t *testing.T) {
	in := NewInterpreter()
	cases := map[string][]protocol.Action{
		"换行":       {{Type: protocol.ActionInsert, Text: "\n"}},
		"New Line": {{Type: protocol.ActionInsert, Text: "\n"}},
		"清空":       {{Type: protocol.ActionClear}},
		"undo":     {{Type: protocol.ActionSystemUndo}},
		"句号":       {{Type: protocol.ActionInsert, Text: "。"}},
		"comma":    {{Type: protocol.ActionInsert, Text: ","}},
		"Delete.":  {{Type: protocol.ActionDeleteBackward, Count: 1}},
	}
	for text, want := range cases {
		if got := in.Interpret(text); !reflect.DeepEqual(got, want) {
			t.Fatalf("%q: got %+v, want %+v", text, got, want)
		}
	}
}

func TestSuppressedBiasPhrase(t *testing.T) {
	in := NewInterpreter()
	if got := in.Interpret("请优先使用简体中文标点与表达，保留英文单词"); len(got) != 0 {
		t.Fatalf("bias phrase must not inject text, got %+v", got)
	}
}

func TestAddPhraseFromPack(t *testing.T) {
	in := NewInterpreter()
	in.AddPhrase("sign off", []protocol.Action{{Type: protocol.ActionInsert, Text: "\n-- jot"}})
	got := in.Interpret("sign off")
	want := []protocol.Action{{Type: protocol.ActionInsert, Text: "\n-- jot"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestNormalizeSpacing(t *testing.T) {
	got := NormalizeSpacing("我在用Go写代码3天了")
	want := "我在用 Go 写代码 3 天了"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestTonePunctuation(t *testing.T) {
	cases := map[string]string{
		"hello world":      "hello world.",
		"what time is it":  "what time is it?",
		"你吃饭了吗":            "你吃饭了吗？",
		"今天天气不错":           "今天天气不错。",
		"already done!":    "already done!",
		"这是一个很长的句子但是没有任何标点": "这是一个很长的句子，但是没有任何标点。",
	}
	for input, want := range cases {
		if got := ApplyTonePunctuation(input); got != want {
			t.Fatalf("%q: got %q, want %q", input, got, want)
		}
	}
}

func TestCJKPeriodNormalized(t *testing.T) {
	if got := ApplyTonePunctuation("今天天气不错."); got != "今天天气不错。" {
		t.Fatalf("ASCII period on CJK sentence: got %q", got)
	}
}
