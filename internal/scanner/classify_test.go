package scanner

import "testing"

var defaultBotNames = []string{"counting", "Counting", "CountingBot", "APP", "APP counting"}

func TestIsResetNotice(t *testing.T) {
	cases := []struct {
		content string
		want    bool
	}{
		{"⚠️ The next number is **1**.", true},
		{"The next number is 1.", true},
		{"RUINED IT AT 5! Next number is 1.", true},
		{"bob RUINED IT AT 127!!", true},
		{"We reached 250 before the streak ended.", true},
		{"Counting starts at 1", true},
		{"The count starts again at 1", true},
		{"Start again from 1, folks", true},
		{"someone ruined the streak, back to one", true},
		{"42", false},
		{"nice work everyone", false},
		{"next milestone is 200", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsResetNotice(tc.content); got != tc.want {
			t.Fatalf("IsResetNotice(%q) = %v, want %v", tc.content, got, tc.want)
		}
	}
}

func TestIsModerator(t *testing.T) {
	if !IsModerator("APP", defaultBotNames) {
		t.Fatalf("APP should be recognized")
	}
	if !IsModerator("app counting", defaultBotNames) {
		t.Fatalf("membership must be case-insensitive")
	}
	if !IsModerator("SuperCountingBot", defaultBotNames) {
		t.Fatalf("substring membership expected")
	}
	if IsModerator("alice", defaultBotNames) {
		t.Fatalf("alice is not a moderator")
	}
	if IsModerator("anyone", nil) {
		t.Fatalf("empty name set matches nobody")
	}
}

func TestIsCountLiteral(t *testing.T) {
	for _, ok := range []string{"0", "7", "128", " 42 "} {
		if !isCountLiteral(ok) {
			t.Fatalf("isCountLiteral(%q) = false, want true", ok)
		}
	}
	for _, bad := range []string{"", "-1", "1.5", "12a", "number 5", "**1**"} {
		if isCountLiteral(bad) {
			t.Fatalf("isCountLiteral(%q) = true, want false", bad)
		}
	}
}
