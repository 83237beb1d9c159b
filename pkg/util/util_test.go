package util

import "testing"

func TestEnvInt(t *testing.T) {
	t.Setenv("SB_TEST_INT", "42")
	if got := EnvInt("SB_TEST_INT", 1, 0); got != 42 {
		t.Errorf("EnvInt = %d, want 42", got)
	}
	if got := EnvInt("SB_TEST_INT_MISSING", 7, 0); got != 7 {
		t.Errorf("EnvInt missing = %d, want default 7", got)
	}
	t.Setenv("SB_TEST_INT", "-5")
	if got := EnvInt("SB_TEST_INT", 1, 0); got != 0 {
		t.Errorf("EnvInt below min = %d, want 0", got)
	}
}

func TestEnvBool(t *testing.T) {
	tests := []struct {
		raw  string
		def  bool
		want bool
	}{
		{"1", false, true},
		{"true", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"garbage", true, true},
		{"", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Setenv("SB_TEST_BOOL", tt.raw)
			if got := EnvBool("SB_TEST_BOOL", tt.def); got != tt.want {
				t.Errorf("EnvBool(%q, %v) = %v, want %v", tt.raw, tt.def, got, tt.want)
			}
		})
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := FirstNonEmpty("", "  ", "a", "b"); got != "a" {
		t.Errorf("FirstNonEmpty = %q, want %q", got, "a")
	}
	if got := FirstNonEmpty("", "  "); got != "" {
		t.Errorf("FirstNonEmpty all empty = %q, want empty", got)
	}
}

func TestTruncateString(t *testing.T) {
	if got := TruncateString("hello", 10); got != "hello" {
		t.Errorf("no truncation expected, got %q", got)
	}
	got := TruncateString("hello world", 5)
	if got != "hello...(truncated)" {
		t.Errorf("TruncateString = %q", got)
	}
	// rune 安全: 多字节字符不应被切断
	got = TruncateString("日本語テキスト", 3)
	if got != "日本語...(truncated)" {
		t.Errorf("TruncateString multibyte = %q", got)
	}
}

func TestClampInt(t *testing.T) {
	if got := ClampInt(5, 0, 10); got != 5 {
		t.Errorf("ClampInt in range = %d", got)
	}
	if got := ClampInt(-1, 0, 10); got != 0 {
		t.Errorf("ClampInt below = %d", got)
	}
	if got := ClampInt(99, 0, 10); got != 10 {
		t.Errorf("ClampInt above = %d", got)
	}
}
